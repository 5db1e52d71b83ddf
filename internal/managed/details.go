package managed

// Details is the kind-specific attribute bundle of an object.
type Details interface {
	Attributes() map[string]any
}

type ServerInfo struct {
	Vendor  string
	Version string
}

func (s ServerInfo) Attributes() map[string]any {
	return map[string]any{"serverVendor": s.Vendor, "serverVersion": s.Version}
}

type JVMInfo struct {
	JavaVersion string
	JavaVendor  string
	Node        string
}

func (j JVMInfo) Attributes() map[string]any {
	return map[string]any{"javaVersion": j.JavaVersion, "javaVendor": j.JavaVendor, "node": j.Node}
}

// DeployedInfo describes an application or module: where it was deployed
// from and the raw text of its deployment descriptor.
type DeployedInfo struct {
	Location   string
	Descriptor string
}

func (d DeployedInfo) Attributes() map[string]any {
	return map[string]any{"deploymentDescriptor": d.Descriptor, "location": d.Location}
}

// ComponentInfo describes a bean, servlet, mbean or resource adapter.
type ComponentInfo struct {
	Class      string
	JNDIName   string
	Descriptor string
}

func (c ComponentInfo) Attributes() map[string]any {
	out := map[string]any{"className": c.Class}
	if c.JNDIName != "" {
		out["jndiName"] = c.JNDIName
	}
	if c.Descriptor != "" {
		out["deploymentDescriptor"] = c.Descriptor
	}
	return out
}

// DataSourceInfo describes a pooled data source. The DSN itself is not
// exposed since it may carry credentials.
type DataSourceInfo struct {
	Driver  string
	MaxOpen int
}

func (d DataSourceInfo) Attributes() map[string]any {
	return map[string]any{"driverName": d.Driver, "maxOpen": d.MaxOpen}
}
