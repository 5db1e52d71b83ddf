package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/jsr77/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS managed_objects(
			name TEXT PRIMARY KEY,
			j2ee_type TEXT NOT NULL,
			parent TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT '',
			start_time TIMESTAMP NULL,
			synthetic BOOLEAN NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_managed_objects_type ON managed_objects(j2ee_type);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func (s *DB) Upsert(ctx context.Context, rec store.Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO managed_objects(name, j2ee_type, parent, state, start_time, synthetic, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			j2ee_type=excluded.j2ee_type,
			parent=excluded.parent,
			state=excluded.state,
			start_time=excluded.start_time,
			synthetic=excluded.synthetic,
			updated_at=excluded.updated_at;`,
		rec.Name, rec.Type, rec.Parent, rec.State, nullTime(rec.StartTime), rec.Synthetic, rec.UpdatedAt.UTC())
	return err
}

func (s *DB) Delete(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM managed_objects WHERE name=?;`, name)
	return err
}

const columns = `name, j2ee_type, parent, state, start_time, synthetic, updated_at`

func (s *DB) Get(ctx context.Context, name string) (store.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM managed_objects WHERE name=?;`, name)
	if err != nil {
		return store.Record{}, err
	}
	defer func() { _ = rows.Close() }()
	recs, err := scanRecords(rows)
	if err != nil {
		return store.Record{}, err
	}
	if len(recs) == 0 {
		return store.Record{}, fmt.Errorf("%w: %s", store.ErrNotFound, name)
	}
	return recs[0], nil
}

func (s *DB) List(ctx context.Context, j2eeType string) ([]store.Record, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if j2eeType == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+columns+` FROM managed_objects ORDER BY name;`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+columns+` FROM managed_objects WHERE j2ee_type=? ORDER BY name;`, j2eeType)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]store.Record, error) {
	out := make([]store.Record, 0)
	for rows.Next() {
		var r store.Record
		var start sql.NullTime
		if err := rows.Scan(&r.Name, &r.Type, &r.Parent, &r.State, &start, &r.Synthetic, &r.UpdatedAt); err != nil {
			return nil, err
		}
		if start.Valid {
			r.StartTime = start.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
