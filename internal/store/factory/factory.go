// Package factory opens the snapshot store a DSN names.
package factory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loykin/jsr77/internal/store"
	pg "github.com/loykin/jsr77/internal/store/postgres"
	sq "github.com/loykin/jsr77/internal/store/sqlite"
)

var (
	ErrEmptyDSN          = errors.New("store: empty DSN")
	ErrUnsupportedScheme = errors.New("store: unsupported DSN scheme")
)

// Backend is the store implementation a DSN selects.
type Backend string

const (
	SQLite   Backend = "sqlite"
	Postgres Backend = "postgres"
)

// Parse classifies dsn and returns what the backend should be opened
// with. Accepted forms:
//   - postgres://... and postgresql://... open PostgreSQL unchanged
//   - sqlite://<path> opens <path> with SQLite
//   - file:<path>?<params> is passed to SQLite as a URI
//   - a bare path, including ":memory:", is a SQLite database
func Parse(dsn string) (Backend, string, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	switch {
	case d == "":
		return "", "", ErrEmptyDSN
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		return Postgres, d, nil
	case strings.HasPrefix(ld, "sqlite://"):
		path := d[len("sqlite://"):]
		if path == "" {
			return "", "", fmt.Errorf("%w: sqlite DSN without a path", ErrEmptyDSN)
		}
		return SQLite, path, nil
	case strings.HasPrefix(ld, "file:"):
		return SQLite, d, nil
	}
	if i := strings.Index(ld, "://"); i > 0 {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, ld[:i])
	}
	return SQLite, d, nil
}

// NewFromDSN opens the store dsn names. The schema is left alone; the
// snapshotter ensures it on start.
func NewFromDSN(dsn string) (store.Store, error) {
	backend, target, err := Parse(dsn)
	if err != nil {
		return nil, err
	}
	if backend == Postgres {
		return pg.New(target)
	}
	return sq.New(target)
}

// Open opens the store and makes sure its schema exists, for readers of
// a snapshot written by another process.
func Open(ctx context.Context, dsn string) (store.Store, error) {
	st, err := NewFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return st, nil
}
