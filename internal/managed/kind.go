package managed

import (
	"github.com/loykin/jsr77/internal/stats"
)

// Kind is the j2eeType of a managed object.
type Kind string

const (
	J2EEDomain      Kind = "J2EEDomain"
	J2EEServer      Kind = "J2EEServer"
	JVM             Kind = "JVM"
	J2EEApplication Kind = "J2EEApplication"

	EJBModule             Kind = "EJBModule"
	WebModule             Kind = "WebModule"
	ResourceAdapterModule Kind = "ResourceAdapterModule"
	ServiceModule         Kind = "ServiceModule"

	EntityBean           Kind = "EntityBean"
	StatelessSessionBean Kind = "StatelessSessionBean"
	StatefulSessionBean  Kind = "StatefulSessionBean"
	MessageDrivenBean    Kind = "MessageDrivenBean"

	Servlet         Kind = "Servlet"
	ResourceAdapter Kind = "ResourceAdapter"
	MBean           Kind = "MBean"

	JCAResource      Kind = "JCAResource"
	JDBCResource     Kind = "JDBCResource"
	JMSResource      Kind = "JMSResource"
	JNDIResource     Kind = "JNDIResource"
	JTAResource      Kind = "JTAResource"
	JavaMailResource Kind = "JavaMailResource"
	RMIIIOPResource  Kind = "RMI_IIOPResource"
	URLResource      Kind = "URLResource"

	JCAConnectionFactory        Kind = "JCAConnectionFactory"
	JCAManagedConnectionFactory Kind = "JCAManagedConnectionFactory"
	JDBCDataSource              Kind = "JDBCDataSource"
	JDBCDriver                  Kind = "JDBCDriver"
)

// Child categories.
const (
	Servers             = "servers"
	JavaVMs             = "javaVMs"
	DeployedObjects     = "deployedObjects"
	Resources           = "resources"
	Modules             = "modules"
	EJBs                = "ejbs"
	Servlets            = "servlets"
	ResourceAdapters    = "resourceAdapters"
	MBeans              = "mbeans"
	ConnectionFactories = "connectionFactories"
	JDBCDataSources     = "jdbcDataSources"
)

// Capabilities are the optional protocols an object supports. They are
// fixed when the object is built.
type Capabilities struct {
	StateManageable    bool `json:"stateManageable"`
	StatisticsProvider bool `json:"statisticsProvider"`
	EventProvider      bool `json:"eventProvider"`
}

type kindInfo struct {
	parents  []Kind
	caps     Capabilities
	stats    stats.Category
	children []string
}

var (
	plain      = Capabilities{}
	controlled = Capabilities{StateManageable: true, EventProvider: true}
	measured   = Capabilities{StatisticsProvider: true}
	full       = Capabilities{StateManageable: true, StatisticsProvider: true, EventProvider: true}
	appOrSrv   = []Kind{J2EEApplication, J2EEServer}
	serverOnly = []Kind{J2EEServer}
)

var kinds = map[Kind]kindInfo{
	J2EEDomain:      {caps: Capabilities{EventProvider: true}, children: []string{Servers}},
	J2EEServer:      {parents: []Kind{J2EEDomain}, caps: controlled, children: []string{DeployedObjects, Resources, JavaVMs}},
	JVM:             {parents: serverOnly, caps: measured, stats: stats.JVM},
	J2EEApplication: {parents: serverOnly, caps: controlled, children: []string{Modules}},

	EJBModule:             {parents: appOrSrv, caps: controlled, children: []string{EJBs}},
	WebModule:             {parents: appOrSrv, caps: controlled, children: []string{Servlets}},
	ResourceAdapterModule: {parents: appOrSrv, caps: controlled, children: []string{ResourceAdapters}},
	ServiceModule:         {parents: appOrSrv, caps: controlled, children: []string{MBeans}},

	EntityBean:           {parents: []Kind{EJBModule}, caps: full, stats: stats.EntityBean},
	StatelessSessionBean: {parents: []Kind{EJBModule}, caps: full, stats: stats.StatelessSessionBean},
	StatefulSessionBean:  {parents: []Kind{EJBModule}, caps: full, stats: stats.StatefulSessionBean},
	MessageDrivenBean:    {parents: []Kind{EJBModule}, caps: full, stats: stats.MessageDrivenBean},

	Servlet:         {parents: []Kind{WebModule}, caps: measured, stats: stats.Servlet},
	ResourceAdapter: {parents: []Kind{ResourceAdapterModule}, caps: controlled},
	MBean:           {parents: []Kind{ServiceModule}, caps: controlled},

	JCAResource:      {parents: serverOnly, caps: controlled, children: []string{ConnectionFactories}},
	JDBCResource:     {parents: serverOnly, caps: controlled, children: []string{JDBCDataSources}},
	JMSResource:      {parents: serverOnly, caps: controlled},
	JNDIResource:     {parents: serverOnly, caps: controlled},
	JTAResource:      {parents: serverOnly, caps: full, stats: stats.JTA},
	JavaMailResource: {parents: serverOnly, caps: controlled},
	RMIIIOPResource:  {parents: serverOnly, caps: controlled},
	URLResource:      {parents: serverOnly, caps: controlled},

	JCAConnectionFactory:        {parents: []Kind{JCAResource}, caps: controlled},
	JCAManagedConnectionFactory: {parents: serverOnly, caps: plain},
	JDBCDataSource:              {parents: []Kind{JDBCResource}, caps: full, stats: stats.JDBCDataSource},
	JDBCDriver:                  {parents: serverOnly, caps: plain},
}

// Kinds lists every known kind.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	return out
}

func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

func (k Kind) Capabilities() Capabilities { return kinds[k].caps }

// ChildCategories are the categories an object of kind k keeps references in.
func (k Kind) ChildCategories() []string {
	return append([]string(nil), kinds[k].children...)
}

// StatsCategory is the statistics bundle of k, empty when k provides none.
func (k Kind) StatsCategory() stats.Category { return kinds[k].stats }

func (k Kind) allowsParent(p Kind) bool {
	for _, a := range kinds[k].parents {
		if a == p {
			return true
		}
	}
	return false
}

func (k Kind) IsModule() bool {
	switch k {
	case EJBModule, WebModule, ResourceAdapterModule, ServiceModule:
		return true
	}
	return false
}

func (k Kind) IsEJB() bool {
	switch k {
	case EntityBean, StatelessSessionBean, StatefulSessionBean, MessageDrivenBean:
		return true
	}
	return false
}

func (k Kind) IsResource() bool {
	switch k {
	case JCAResource, JDBCResource, JMSResource, JNDIResource, JTAResource, JavaMailResource, RMIIIOPResource, URLResource:
		return true
	}
	return false
}

// childCategory is the category under which a parent of kind parent lists a
// child of kind k.
func childCategory(k, parent Kind) string {
	switch {
	case k == J2EEServer:
		return Servers
	case k == JVM:
		return JavaVMs
	case k == J2EEApplication:
		return DeployedObjects
	case k.IsModule():
		if parent == J2EEApplication {
			return Modules
		}
		return DeployedObjects
	case k.IsEJB():
		return EJBs
	case k == Servlet:
		return Servlets
	case k == ResourceAdapter:
		return ResourceAdapters
	case k == MBean:
		return MBeans
	case k == JCAConnectionFactory:
		return ConnectionFactories
	case k == JDBCDataSource:
		return JDBCDataSources
	}
	return Resources
}
