package stats

// Category names a statistics bundle.
type Category string

const (
	EJB                  Category = "EJB"
	EntityBean           Category = "EntityBean"
	StatelessSessionBean Category = "StatelessSessionBean"
	StatefulSessionBean  Category = "StatefulSessionBean"
	MessageDrivenBean    Category = "MessageDrivenBean"
	Servlet              Category = "Servlet"
	JVM                  Category = "JVM"
	JDBCDataSource       Category = "JDBCDataSource"
	JTA                  Category = "JTA"
)

// New returns an empty bundle for c.
func New(c Category) (Stats, error) {
	switch c {
	case EJB:
		return NewEJBStats(), nil
	case EntityBean:
		return NewEntityBeanStats(), nil
	case StatelessSessionBean:
		return NewStatelessSessionBeanStats(), nil
	case StatefulSessionBean:
		return NewStatefulSessionBeanStats(), nil
	case MessageDrivenBean:
		return NewMessageDrivenBeanStats(), nil
	case Servlet:
		return NewServletStats(), nil
	case JVM:
		return NewJVMStats(), nil
	case JDBCDataSource:
		return NewJDBCDataSourceStats(), nil
	case JTA:
		return NewJTAStats(), nil
	}
	return nil, ErrUnknownCategory
}

type EJBStats struct {
	CreateCount CountStatistic `json:"createCount"`
	RemoveCount CountStatistic `json:"removeCount"`
}

func NewEJBStats() *EJBStats {
	return &EJBStats{
		CreateCount: count("CreateCount", "Number of times create was called"),
		RemoveCount: count("RemoveCount", "Number of times remove was called"),
	}
}

func (*EJBStats) Category() Category { return EJB }

func (s *EJBStats) Clone() Stats {
	c := *s
	return &c
}

func (s *EJBStats) Refresh(src AttributeSource) error {
	r := &reader{src: src}
	c, rm := r.int("CreateCount"), r.int("RemoveCount")
	if r.err != nil {
		return r.err
	}
	t := now()
	s.CreateCount.set(c, t)
	s.RemoveCount.set(rm, t)
	return nil
}

// EntityBeanStats reads ReadyCount from the bean cache size only; the
// pool size is reported separately as PooledCount.
type EntityBeanStats struct {
	EJBStats
	ReadyCount  RangeStatistic `json:"readyCount"`
	PooledCount RangeStatistic `json:"pooledCount"`
}

func NewEntityBeanStats() *EntityBeanStats {
	return &EntityBeanStats{
		EJBStats:    *NewEJBStats(),
		ReadyCount:  rng("ReadyCount", "Number of beans in the ready state"),
		PooledCount: rng("PooledCount", "Number of beans in the pooled state"),
	}
}

func (*EntityBeanStats) Category() Category { return EntityBean }

func (s *EntityBeanStats) Clone() Stats {
	c := *s
	return &c
}

func (s *EntityBeanStats) Refresh(src AttributeSource) error {
	r := &reader{src: src}
	c, rm := r.int("CreateCount"), r.int("RemoveCount")
	ready, pooled := r.int("CacheSize"), r.int("PoolSize")
	if r.err != nil {
		return r.err
	}
	t := now()
	s.CreateCount.set(c, t)
	s.RemoveCount.set(rm, t)
	s.ReadyCount.set(ready, t)
	s.PooledCount.set(pooled, t)
	return nil
}

type StatelessSessionBeanStats struct {
	EJBStats
	MethodReadyCount RangeStatistic `json:"methodReadyCount"`
}

func NewStatelessSessionBeanStats() *StatelessSessionBeanStats {
	return &StatelessSessionBeanStats{
		EJBStats:         *NewEJBStats(),
		MethodReadyCount: rng("MethodReadyCount", "Number of beans in the method-ready state"),
	}
}

func (*StatelessSessionBeanStats) Category() Category { return StatelessSessionBean }

func (s *StatelessSessionBeanStats) Clone() Stats {
	c := *s
	return &c
}

func (s *StatelessSessionBeanStats) Refresh(src AttributeSource) error {
	r := &reader{src: src}
	c, rm, ready := r.int("CreateCount"), r.int("RemoveCount"), r.int("PoolSize")
	if r.err != nil {
		return r.err
	}
	t := now()
	s.CreateCount.set(c, t)
	s.RemoveCount.set(rm, t)
	s.MethodReadyCount.set(ready, t)
	return nil
}

type StatefulSessionBeanStats struct {
	EJBStats
	MethodReadyCount RangeStatistic `json:"methodReadyCount"`
	PassiveCount     RangeStatistic `json:"passiveCount"`
}

func NewStatefulSessionBeanStats() *StatefulSessionBeanStats {
	return &StatefulSessionBeanStats{
		EJBStats:         *NewEJBStats(),
		MethodReadyCount: rng("MethodReadyCount", "Number of beans in the method-ready state"),
		PassiveCount:     rng("PassiveCount", "Number of beans in the passive state"),
	}
}

func (*StatefulSessionBeanStats) Category() Category { return StatefulSessionBean }

func (s *StatefulSessionBeanStats) Clone() Stats {
	c := *s
	return &c
}

func (s *StatefulSessionBeanStats) Refresh(src AttributeSource) error {
	r := &reader{src: src}
	c, rm := r.int("CreateCount"), r.int("RemoveCount")
	ready, passive := r.int("CacheSize"), r.optional("PassivatedCount", 0)
	if r.err != nil {
		return r.err
	}
	t := now()
	s.CreateCount.set(c, t)
	s.RemoveCount.set(rm, t)
	s.MethodReadyCount.set(ready, t)
	s.PassiveCount.set(passive, t)
	return nil
}

type MessageDrivenBeanStats struct {
	EJBStats
	MessageCount CountStatistic `json:"messageCount"`
}

func NewMessageDrivenBeanStats() *MessageDrivenBeanStats {
	return &MessageDrivenBeanStats{
		EJBStats:     *NewEJBStats(),
		MessageCount: count("MessageCount", "Number of messages received"),
	}
}

func (*MessageDrivenBeanStats) Category() Category { return MessageDrivenBean }

func (s *MessageDrivenBeanStats) Clone() Stats {
	c := *s
	return &c
}

func (s *MessageDrivenBeanStats) Refresh(src AttributeSource) error {
	r := &reader{src: src}
	c, rm, msgs := r.int("CreateCount"), r.int("RemoveCount"), r.int("MessageCount")
	if r.err != nil {
		return r.err
	}
	t := now()
	s.CreateCount.set(c, t)
	s.RemoveCount.set(rm, t)
	s.MessageCount.set(msgs, t)
	return nil
}

type ServletStats struct {
	ServiceTime TimeStatistic `json:"serviceTime"`
}

func NewServletStats() *ServletStats {
	return &ServletStats{ServiceTime: timed("ServiceTime", "Time spent servicing requests")}
}

func (*ServletStats) Category() Category { return Servlet }

func (s *ServletStats) Clone() Stats {
	c := *s
	return &c
}

func (s *ServletStats) Refresh(src AttributeSource) error {
	r := &reader{src: src}
	n, total := r.int("RequestCount"), r.int("ProcessingTime")
	maxT, minT := r.optional("MaxTime", 0), r.optional("MinTime", 0)
	if r.err != nil {
		return r.err
	}
	s.ServiceTime.set(n, maxT, minT, total, now())
	return nil
}

type JVMStats struct {
	UpTime   CountStatistic        `json:"upTime"`
	HeapSize BoundedRangeStatistic `json:"heapSize"`
}

func NewJVMStats() *JVMStats {
	up := count("UpTime", "Time the virtual machine has been running")
	up.Unit = "MILLISECOND"
	heap := bounded("HeapSize", "Size of the heap")
	heap.Unit = "BYTE"
	return &JVMStats{UpTime: up, HeapSize: heap}
}

func (*JVMStats) Category() Category { return JVM }

func (s *JVMStats) Clone() Stats {
	c := *s
	return &c
}

func (s *JVMStats) Refresh(src AttributeSource) error {
	r := &reader{src: src}
	up, heap := r.int("UpTime"), r.int("HeapSize")
	lower, upper := r.optional("HeapSizeLowerBound", 0), r.optional("HeapSizeUpperBound", 0)
	if r.err != nil {
		return r.err
	}
	t := now()
	s.UpTime.set(up, t)
	s.HeapSize.set(heap, lower, upper, t)
	return nil
}

// JDBCDataSourceStats is filled from database/sql pool statistics.
// CreateCount is the number of connections opened so far, the ones still
// open plus the ones the pool has closed.
type JDBCDataSourceStats struct {
	CreateCount        CountStatistic        `json:"createCount"`
	CloseCount         CountStatistic        `json:"closeCount"`
	PoolSize           BoundedRangeStatistic `json:"poolSize"`
	FreePoolSize       BoundedRangeStatistic `json:"freePoolSize"`
	WaitingThreadCount RangeStatistic        `json:"waitingThreadCount"`
	WaitTime           TimeStatistic         `json:"waitTime"`
}

func NewJDBCDataSourceStats() *JDBCDataSourceStats {
	return &JDBCDataSourceStats{
		CreateCount:        count("CreateCount", "Number of connections created"),
		CloseCount:         count("CloseCount", "Number of connections closed"),
		PoolSize:           bounded("PoolSize", "Number of open connections"),
		FreePoolSize:       bounded("FreePoolSize", "Number of idle connections"),
		WaitingThreadCount: rng("WaitingThreadCount", "Number of callers that waited for a connection"),
		WaitTime:           timed("WaitTime", "Time spent waiting for a connection"),
	}
}

func (*JDBCDataSourceStats) Category() Category { return JDBCDataSource }

func (s *JDBCDataSourceStats) Clone() Stats {
	c := *s
	return &c
}

func (s *JDBCDataSourceStats) Refresh(src AttributeSource) error {
	r := &reader{src: src}
	open, closed := r.int("OpenConnections"), r.int("CloseCount")
	idle, maxOpen := r.int("Idle"), r.int("MaxOpenConnections")
	waits, waited := r.int("WaitCount"), r.int("WaitDuration")
	if r.err != nil {
		return r.err
	}
	t := now()
	s.CreateCount.set(open+closed, t)
	s.CloseCount.set(closed, t)
	s.PoolSize.set(open, 0, maxOpen, t)
	s.FreePoolSize.set(idle, 0, maxOpen, t)
	s.WaitingThreadCount.set(waits, t)
	s.WaitTime.set(waits, s.WaitTime.MaxTime, s.WaitTime.MinTime, waited, t)
	return nil
}

type JTAStats struct {
	ActiveCount     CountStatistic `json:"activeCount"`
	CommittedCount  CountStatistic `json:"committedCount"`
	RolledbackCount CountStatistic `json:"rolledbackCount"`
}

func NewJTAStats() *JTAStats {
	return &JTAStats{
		ActiveCount:     count("ActiveCount", "Number of active transactions"),
		CommittedCount:  count("CommittedCount", "Number of committed transactions"),
		RolledbackCount: count("RolledbackCount", "Number of rolled back transactions"),
	}
}

func (*JTAStats) Category() Category { return JTA }

func (s *JTAStats) Clone() Stats {
	c := *s
	return &c
}

func (s *JTAStats) Refresh(src AttributeSource) error {
	r := &reader{src: src}
	active, committed, rolled := r.int("ActiveCount"), r.int("CommitCount"), r.int("RollbackCount")
	if r.err != nil {
		return r.err
	}
	t := now()
	s.ActiveCount.set(active, t)
	s.CommittedCount.set(committed, t)
	s.RolledbackCount.set(rolled, t)
	return nil
}
