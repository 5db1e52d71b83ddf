package stats

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/loykin/jsr77/internal/service"
)

type mapSource map[string]any

func (m mapSource) Attribute(name string) (any, error) {
	v, ok := m[name]
	if !ok {
		return nil, errors.New("no such attribute")
	}
	return v, nil
}

func TestNewKnowsEveryCategory(t *testing.T) {
	for _, c := range []Category{EJB, EntityBean, StatelessSessionBean, StatefulSessionBean, MessageDrivenBean, Servlet, JVM, JDBCDataSource, JTA} {
		s, err := New(c)
		require.NoError(t, err)
		require.Equal(t, c, s.Category())
	}
	_, err := New("Bogus")
	require.ErrorIs(t, err, ErrUnknownCategory)
}

func TestEntityBeanReadyCountComesFromCacheOnly(t *testing.T) {
	s := NewEntityBeanStats()
	require.NoError(t, s.Refresh(mapSource{"CreateCount": 4, "RemoveCount": 1, "CacheSize": 7, "PoolSize": 2}))
	require.Equal(t, int64(7), s.ReadyCount.Current)
	require.Equal(t, int64(2), s.PooledCount.Current)
	require.Equal(t, int64(4), s.CreateCount.Count)
}

func TestFailedRefreshKeepsPreviousSnapshot(t *testing.T) {
	s := NewStatelessSessionBeanStats()
	src := mapSource{"CreateCount": int64(3), "RemoveCount": int64(1), "PoolSize": int64(5)}
	require.NoError(t, s.Refresh(src))
	sampled := s.CreateCount.LastSampleTime

	delete(src, "PoolSize")
	src["CreateCount"] = int64(99)
	require.Error(t, s.Refresh(src))
	require.Equal(t, int64(3), s.CreateCount.Count)
	require.Equal(t, sampled, s.CreateCount.LastSampleTime)

	src["CreateCount"] = "not a number"
	src["PoolSize"] = 1
	require.Error(t, s.Refresh(src))
	require.Equal(t, int64(5), s.MethodReadyCount.Current)
}

func TestRangeWaterMarks(t *testing.T) {
	s := NewStatefulSessionBeanStats()
	for _, v := range []int{4, 9, 2, 6} {
		require.NoError(t, s.Refresh(mapSource{"CreateCount": 0, "RemoveCount": 0, "CacheSize": v}))
	}
	require.Equal(t, int64(6), s.MethodReadyCount.Current)
	require.Equal(t, int64(9), s.MethodReadyCount.HighWaterMark)
	require.Equal(t, int64(2), s.MethodReadyCount.LowWaterMark)
	require.Equal(t, int64(0), s.PassiveCount.Current, "missing passivation count defaults to zero")
}

func TestJVMStatsFromRuntime(t *testing.T) {
	svc := service.New(service.WithDynamic(service.RuntimeAttributes(time.Now().Add(-2 * time.Second))))
	s := NewJVMStats()
	require.NoError(t, s.Refresh(svc))
	require.GreaterOrEqual(t, s.UpTime.Count, int64(2000))
	require.Positive(t, s.HeapSize.Current)
	require.GreaterOrEqual(t, s.HeapSize.UpperBound, s.HeapSize.Current)
}

func TestJDBCDataSourceStatsFromPool(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "ds.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(3)
	require.NoError(t, db.Ping())

	svc := service.New(service.WithDynamic(service.PoolAttributes(db)))
	s := NewJDBCDataSourceStats()
	require.NoError(t, s.Refresh(svc))
	require.Equal(t, int64(3), s.PoolSize.UpperBound)
	require.GreaterOrEqual(t, s.PoolSize.Current, int64(1))
	require.Equal(t, s.PoolSize.Current+s.CloseCount.Count, s.CreateCount.Count)
}

func TestServletAndJTA(t *testing.T) {
	sv := NewServletStats()
	require.NoError(t, sv.Refresh(SourceFunc(func(name string) (any, error) {
		return mapSource{"RequestCount": 10, "ProcessingTime": 250, "MaxTime": 80}.Attribute(name)
	})))
	require.Equal(t, int64(10), sv.ServiceTime.Count)
	require.Equal(t, int64(250), sv.ServiceTime.TotalTime)
	require.Equal(t, "MILLISECOND", sv.ServiceTime.Unit)

	jta := NewJTAStats()
	require.NoError(t, jta.Refresh(mapSource{"ActiveCount": 1, "CommitCount": 20, "RollbackCount": 2}))
	require.Equal(t, int64(20), jta.CommittedCount.Count)
}
