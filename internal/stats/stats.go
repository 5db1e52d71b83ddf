// Package stats holds the statistic bundles exposed by statistics-provider
// objects. A bundle is refreshed from the live attributes of the object's
// backing service on every read.
package stats

import (
	"errors"
	"fmt"
	"time"

	"github.com/loykin/jsr77/internal/service"
)

var ErrUnknownCategory = errors.New("stats: unknown category")

// AttributeSource is anything that can read a named attribute; a registry
// bound to one object name or a service.
type AttributeSource interface {
	Attribute(name string) (any, error)
}

// SourceFunc adapts a function to AttributeSource.
type SourceFunc func(name string) (any, error)

func (f SourceFunc) Attribute(name string) (any, error) { return f(name) }

// Statistic carries the fields common to every statistic.
type Statistic struct {
	Name           string    `json:"name"`
	Unit           string    `json:"unit"`
	Description    string    `json:"description"`
	StartTime      time.Time `json:"startTime"`
	LastSampleTime time.Time `json:"lastSampleTime"`
}

func (s *Statistic) sample(now time.Time) {
	if s.StartTime.IsZero() {
		s.StartTime = now
	}
	s.LastSampleTime = now
}

type CountStatistic struct {
	Statistic
	Count int64 `json:"count"`
}

func (c *CountStatistic) set(v int64, now time.Time) {
	c.sample(now)
	c.Count = v
}

// TimeStatistic values are in milliseconds.
type TimeStatistic struct {
	Statistic
	Count     int64 `json:"count"`
	MaxTime   int64 `json:"maxTime"`
	MinTime   int64 `json:"minTime"`
	TotalTime int64 `json:"totalTime"`
}

func (t *TimeStatistic) set(count, maxT, minT, total int64, now time.Time) {
	t.sample(now)
	t.Count, t.MaxTime, t.MinTime, t.TotalTime = count, maxT, minT, total
}

// RangeStatistic tracks the current value and its water marks across
// refreshes.
type RangeStatistic struct {
	Statistic
	HighWaterMark int64 `json:"highWaterMark"`
	LowWaterMark  int64 `json:"lowWaterMark"`
	Current       int64 `json:"current"`
}

func (r *RangeStatistic) set(v int64, now time.Time) {
	first := r.LastSampleTime.IsZero()
	r.sample(now)
	r.Current = v
	if first || v > r.HighWaterMark {
		r.HighWaterMark = v
	}
	if first || v < r.LowWaterMark {
		r.LowWaterMark = v
	}
}

type BoundaryStatistic struct {
	Statistic
	UpperBound int64 `json:"upperBound"`
	LowerBound int64 `json:"lowerBound"`
}

type BoundedRangeStatistic struct {
	RangeStatistic
	UpperBound int64 `json:"upperBound"`
	LowerBound int64 `json:"lowerBound"`
}

func (b *BoundedRangeStatistic) set(v, lower, upper int64, now time.Time) {
	b.RangeStatistic.set(v, now)
	b.LowerBound, b.UpperBound = lower, upper
}

// Stats is one category bundle. Refresh reads every source attribute the
// bundle needs and only then replaces the snapshot, so a failed read
// leaves the previous values in place.
type Stats interface {
	Category() Category
	Refresh(src AttributeSource) error
	Clone() Stats
}

// reader collects attribute reads and remembers the first failure.
type reader struct {
	src AttributeSource
	err error
}

func (r *reader) int(name string) int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.src.Attribute(name)
	if err != nil {
		r.err = fmt.Errorf("stats: read %s: %w", name, err)
		return 0
	}
	n, err := service.ToInt(v)
	if err != nil {
		r.err = fmt.Errorf("stats: read %s: %w", name, err)
		return 0
	}
	return n
}

// optional reads name and falls back to def when the source does not
// expose it. Conversion errors still fail the refresh.
func (r *reader) optional(name string, def int64) int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.src.Attribute(name)
	if err != nil {
		return def
	}
	n, err := service.ToInt(v)
	if err != nil {
		r.err = fmt.Errorf("stats: read %s: %w", name, err)
		return 0
	}
	return n
}

var now = time.Now

func count(name, desc string) CountStatistic {
	return CountStatistic{Statistic: Statistic{Name: name, Unit: "COUNT", Description: desc}}
}

func rng(name, desc string) RangeStatistic {
	return RangeStatistic{Statistic: Statistic{Name: name, Unit: "COUNT", Description: desc}}
}

func bounded(name, desc string) BoundedRangeStatistic {
	return BoundedRangeStatistic{RangeStatistic: rng(name, desc)}
}

func timed(name, desc string) TimeStatistic {
	return TimeStatistic{Statistic: Statistic{Name: name, Unit: "MILLISECOND", Description: desc}}
}
