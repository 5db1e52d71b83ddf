package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/jsr77/internal/managed"
	"github.com/loykin/jsr77/internal/registry"
	"github.com/loykin/jsr77/internal/store"
	"github.com/loykin/jsr77/internal/store/sqlite"
)

func newSnapshot(t *testing.T, opts ...store.SnapshotOption) (*managed.Factory, *sqlite.DB, *store.Snapshotter) {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	f := managed.NewFactory(registry.New(), "jboss")
	s := store.NewSnapshotter(db, f, opts...)
	return f, db, s
}

func TestSnapshotterFollowsTree(t *testing.T) {
	f, db, s := newSnapshot(t, store.WithSchedule(""))
	ctx := context.Background()
	root := f.CreateDomain()
	require.False(t, root.IsZero())

	require.NoError(t, s.Start(ctx))
	require.ErrorIs(t, s.Start(ctx), store.ErrRunning)
	defer s.Stop()

	rec, err := db.Get(ctx, root.Canonical())
	require.NoError(t, err, "initial resync writes existing objects")
	require.Equal(t, string(managed.J2EEDomain), rec.Type)

	srv := f.CreateServer("Local", managed.ServerInfo{Vendor: "acme"})
	require.False(t, srv.IsZero())
	require.Eventually(t, func() bool {
		r, err := db.Get(ctx, srv.Canonical())
		return err == nil && r.State == "RUNNING" && !r.StartTime.IsZero()
	}, 2*time.Second, 10*time.Millisecond)

	r, err := db.Get(ctx, srv.Canonical())
	require.NoError(t, err)
	require.Equal(t, root.Canonical(), r.Parent)

	app := f.CreateModule(managed.WebModule, srv, "", "web.war", managed.DeployedInfo{})
	require.False(t, app.IsZero())
	require.Eventually(t, func() bool {
		rows, err := db.List(ctx, string(managed.WebModule))
		return err == nil && len(rows) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.DestroyModule(app)
	require.Eventually(t, func() bool {
		rows, err := db.List(ctx, string(managed.WebModule))
		return err == nil && len(rows) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResyncRemovesStaleRows(t *testing.T) {
	f, db, s := newSnapshot(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureSchema(ctx))
	require.NoError(t, db.Upsert(ctx, store.Record{Name: "jboss:j2eeType=J2EEServer,name=Gone", Type: "J2EEServer"}))
	root := f.CreateDomain()

	require.NoError(t, s.Resync(ctx))
	rows, err := db.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, root.Canonical(), rows[0].Name)
}

func TestSnapshotterStopFlushes(t *testing.T) {
	f, db, s := newSnapshot(t, store.WithSchedule("@every 1h"))
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	root := f.CreateDomain()
	s.Stop()
	s.Stop()

	_, err := db.Get(ctx, root.Canonical())
	require.NoError(t, err, "pending changes are written on stop")

	f.CreateServer("Local", managed.ServerInfo{})
	rows, err := db.List(ctx, string(managed.J2EEServer))
	require.NoError(t, err)
	require.Empty(t, rows, "stopped snapshotter ignores the bus")
}

func TestValidateSchedule(t *testing.T) {
	require.NoError(t, store.ValidateSchedule("@every 30s"))
	require.NoError(t, store.ValidateSchedule("*/10 * * * * *"))
	require.NoError(t, store.ValidateSchedule("0 3 * * *"))
	require.Error(t, store.ValidateSchedule("every minute"))

	_, _, s := newSnapshot(t, store.WithSchedule("bogus"))
	require.Error(t, s.Start(context.Background()))
}
