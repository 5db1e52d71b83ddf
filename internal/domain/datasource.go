package domain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// DataSource is a pooled database exposed as a JDBCResource with one
// JDBCDataSource.
type DataSource struct {
	Name    string `mapstructure:"name"`
	DSN     string `mapstructure:"dsn"`
	MaxOpen int    `mapstructure:"max_open"`
}

// driverFor selects the database/sql driver from a DSN:
//   - postgres: "postgres://" or "postgresql://"
//   - sqlite:   "sqlite://<path>" or a bare path
func driverFor(dsn string) (driver, source string, err error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	switch {
	case d == "":
		return "", "", errors.New("empty DSN")
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		return "pgx", d, nil
	case strings.HasPrefix(ld, "sqlite://"):
		return "sqlite", d[len("sqlite://"):], nil
	}
	return "sqlite", d, nil
}

// openPool opens the pool lazily; connectivity is checked when its
// service starts.
func openPool(ds DataSource) (*sql.DB, string, error) {
	driver, source, err := driverFor(ds.DSN)
	if err != nil {
		return nil, "", fmt.Errorf("data source %s: %w", ds.Name, err)
	}
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, "", fmt.Errorf("data source %s: %w", ds.Name, err)
	}
	if ds.MaxOpen > 0 {
		db.SetMaxOpenConns(ds.MaxOpen)
	}
	return db, driver, nil
}

func pingFunc(db *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error { return db.PingContext(ctx) }
}
