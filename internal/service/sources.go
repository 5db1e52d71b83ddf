package service

import (
	"database/sql"
	"os"
	"runtime"
	"time"
)

// RuntimeAttributes describes the running Go process as the server's
// virtual machine.
func RuntimeAttributes(started time.Time) map[string]AttributeFunc {
	return map[string]AttributeFunc{
		"UpTime": func() (any, error) { return time.Since(started).Milliseconds(), nil },
		"HeapSize": func() (any, error) {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			return int64(ms.HeapAlloc), nil
		},
		"HeapSizeUpperBound": func() (any, error) {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			return int64(ms.HeapSys), nil
		},
		"HeapSizeLowerBound": func() (any, error) { return int64(0), nil },
		"NumGoroutine":       func() (any, error) { return int64(runtime.NumGoroutine()), nil },
		"JavaVersion":        func() (any, error) { return runtime.Version(), nil },
		"JavaVendor":         func() (any, error) { return "The Go Authors", nil },
		"Node": func() (any, error) {
			h, err := os.Hostname()
			if err != nil {
				return "localhost", nil
			}
			return h, nil
		},
	}
}

// PoolAttributes exposes database/sql pool statistics of db.
func PoolAttributes(db *sql.DB) map[string]AttributeFunc {
	stat := func(f func(sql.DBStats) int64) AttributeFunc {
		return func() (any, error) { return f(db.Stats()), nil }
	}
	return map[string]AttributeFunc{
		"OpenConnections":    stat(func(s sql.DBStats) int64 { return int64(s.OpenConnections) }),
		"InUse":              stat(func(s sql.DBStats) int64 { return int64(s.InUse) }),
		"Idle":               stat(func(s sql.DBStats) int64 { return int64(s.Idle) }),
		"WaitCount":          stat(func(s sql.DBStats) int64 { return s.WaitCount }),
		"WaitDuration":       stat(func(s sql.DBStats) int64 { return s.WaitDuration.Milliseconds() }),
		"MaxOpenConnections": stat(func(s sql.DBStats) int64 { return int64(s.MaxOpenConnections) }),
		"MaxIdleClosed":      stat(func(s sql.DBStats) int64 { return s.MaxIdleClosed }),
		"MaxLifetimeClosed":  stat(func(s sql.DBStats) int64 { return s.MaxLifetimeClosed }),
		"CloseCount": stat(func(s sql.DBStats) int64 {
			return s.MaxIdleClosed + s.MaxIdleTimeClosed + s.MaxLifetimeClosed
		}),
	}
}
