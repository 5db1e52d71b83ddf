package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/jsr77/internal/service"
)

// ProcessSample is one reading of the server process.
type ProcessSample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// ProcessConfig holds configuration for process sampling.
type ProcessConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxHistory int           `mapstructure:"max_history"`
}

// ProcessCollector samples the operating-system view of the server process
// (the process hosting the virtual machine object) and keeps a bounded
// history of readings.
type ProcessCollector struct {
	enabled    bool
	interval   time.Duration
	maxHistory int
	node       string
	pid        int32
	proc       *process.Process

	mu       sync.RWMutex
	samples  []ProcessSample
	startIdx int
	count    int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryRSS  *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

// NewProcessCollector creates a collector for the current process.
func NewProcessCollector(config ProcessConfig) *ProcessCollector {
	maxHistory := config.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 100
	}
	interval := config.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	node, err := os.Hostname()
	if err != nil {
		node = "localhost"
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "jsr77",
			Subsystem: "jvm",
			Name:      name,
			Help:      help,
		}, []string{"node"})
	}
	return &ProcessCollector{
		enabled:    config.Enabled,
		interval:   interval,
		maxHistory: maxHistory,
		node:       node,
		pid:        int32(os.Getpid()),
		samples:    make([]ProcessSample, maxHistory),
		stopCh:     make(chan struct{}),
		cpuPercent: gauge("cpu_percent", "CPU usage percentage of the server process."),
		memoryRSS:  gauge("memory_rss_bytes", "Resident memory of the server process."),
		numThreads: gauge("num_threads", "Number of OS threads of the server process."),
		numFDs:     gauge("num_fds", "Number of open file descriptors of the server process (Unix only)."),
	}
}

func (c *ProcessCollector) IsEnabled() bool { return c.enabled }

// RegisterMetrics registers the process gauges with the provided registerer.
func (c *ProcessCollector) RegisterMetrics(r prometheus.Registerer) error {
	if !c.enabled {
		return nil
	}
	collectors := []prometheus.Collector{c.cpuPercent, c.memoryRSS, c.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, c.numFDs)
	}
	for _, collector := range collectors {
		if err := r.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start takes a first sample and then samples every interval until ctx is
// done or Stop is called.
func (c *ProcessCollector) Start(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	proc, err := process.NewProcessWithContext(ctx, c.pid)
	if err != nil {
		return fmt.Errorf("failed to create process handle: %w", err)
	}
	c.proc = proc
	c.Collect(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Collect(ctx)
			}
		}
	}()
	return nil
}

// Stop stops sampling. It is safe to call more than once.
func (c *ProcessCollector) Stop() {
	if !c.enabled {
		return
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect takes one sample now.
func (c *ProcessCollector) Collect(ctx context.Context) {
	if c.proc == nil {
		return
	}
	s, err := c.sample(ctx)
	if err != nil {
		slog.Debug("Failed to sample server process", "pid", c.pid, "error", err)
		return
	}
	c.cpuPercent.WithLabelValues(c.node).Set(s.CPUPercent)
	c.memoryRSS.WithLabelValues(c.node).Set(float64(s.MemoryRSS))
	c.numThreads.WithLabelValues(c.node).Set(float64(s.NumThreads))
	if runtime.GOOS != "windows" && s.NumFDs > 0 {
		c.numFDs.WithLabelValues(c.node).Set(float64(s.NumFDs))
	}
	c.add(s)
}

func (c *ProcessCollector) sample(ctx context.Context) (ProcessSample, error) {
	memInfo, err := c.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return ProcessSample{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	cpuPercent, err := c.proc.CPUPercentWithContext(ctx)
	if err != nil {
		cpuPercent = 0
	}
	numThreads, err := c.proc.NumThreadsWithContext(ctx)
	if err != nil {
		numThreads = 0
	}
	s := ProcessSample{
		PID:        c.pid,
		CPUPercent: cpuPercent,
		MemoryRSS:  memInfo.RSS,
		MemoryVMS:  memInfo.VMS,
		NumThreads: numThreads,
		Timestamp:  time.Now(),
	}
	if runtime.GOOS != "windows" {
		if fds, err := c.proc.NumFDsWithContext(ctx); err == nil {
			s.NumFDs = fds
		}
	}
	return s, nil
}

// add stores s in the circular history.
func (c *ProcessCollector) add(s ProcessSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count < c.maxHistory {
		c.samples[(c.startIdx+c.count)%c.maxHistory] = s
		c.count++
		return
	}
	c.samples[c.startIdx] = s
	c.startIdx = (c.startIdx + 1) % c.maxHistory
}

// Latest returns the most recent sample.
func (c *ProcessCollector) Latest() (ProcessSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.count == 0 {
		return ProcessSample{}, false
	}
	return c.samples[(c.startIdx+c.count-1)%c.maxHistory], true
}

// History returns the retained samples, oldest first.
func (c *ProcessCollector) History() []ProcessSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ProcessSample, c.count)
	for i := 0; i < c.count; i++ {
		out[i] = c.samples[(c.startIdx+i)%c.maxHistory]
	}
	return out
}

// Attributes exposes the latest sample as attributes of the virtual
// machine's backing service.
func (c *ProcessCollector) Attributes() map[string]service.AttributeFunc {
	field := func(f func(ProcessSample) any) service.AttributeFunc {
		return func() (any, error) {
			s, ok := c.Latest()
			if !ok {
				return nil, errors.New("no process sample yet")
			}
			return f(s), nil
		}
	}
	return map[string]service.AttributeFunc{
		"ProcessID":         field(func(s ProcessSample) any { return int64(s.PID) }),
		"ProcessCPUPercent": field(func(s ProcessSample) any { return s.CPUPercent }),
		"ProcessMemoryRSS":  field(func(s ProcessSample) any { return int64(s.MemoryRSS) }),
		"ProcessThreads":    field(func(s ProcessSample) any { return int64(s.NumThreads) }),
		"ProcessOpenFiles":  field(func(s ProcessSample) any { return int64(s.NumFDs) }),
	}
}
