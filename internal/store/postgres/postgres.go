package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/jsr77/internal/store"
)

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS managed_objects(
			name TEXT PRIMARY KEY,
			j2ee_type TEXT NOT NULL,
			parent TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT '',
			start_time TIMESTAMPTZ NULL,
			synthetic BOOLEAN NOT NULL DEFAULT false,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_managed_objects_type ON managed_objects(j2ee_type);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Upsert(ctx context.Context, rec store.Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	var start any
	if !rec.StartTime.IsZero() {
		start = rec.StartTime.UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO managed_objects(name, j2ee_type, parent, state, start_time, synthetic, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT(name) DO UPDATE SET
			j2ee_type=EXCLUDED.j2ee_type,
			parent=EXCLUDED.parent,
			state=EXCLUDED.state,
			start_time=EXCLUDED.start_time,
			synthetic=EXCLUDED.synthetic,
			updated_at=EXCLUDED.updated_at;`,
		rec.Name, rec.Type, rec.Parent, rec.State, start, rec.Synthetic, rec.UpdatedAt.UTC())
	return err
}

func (p *DB) Delete(ctx context.Context, name string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM managed_objects WHERE name=$1;`, name)
	return err
}

const columns = `name, j2ee_type, parent, state, start_time, synthetic, updated_at`

func (p *DB) Get(ctx context.Context, name string) (store.Record, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+columns+` FROM managed_objects WHERE name=$1;`, name)
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

func (p *DB) List(ctx context.Context, j2eeType string) ([]store.Record, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if j2eeType == "" {
		rows, err = p.db.QueryContext(ctx, `SELECT `+columns+` FROM managed_objects ORDER BY name;`)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT `+columns+` FROM managed_objects WHERE j2ee_type=$1 ORDER BY name;`, j2eeType)
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
