// Package store persists a snapshot of the management tree: one record per
// managed object, kept current as objects come, go and change state.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: record not found")

// Record is the persisted view of one managed object. Name and Parent are
// canonical object names. State is empty for objects that are not
// state-manageable, and StartTime is zero until the object first runs.
type Record struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Parent    string    `json:"parent,omitempty"`
	State     string    `json:"state,omitempty"`
	StartTime time.Time `json:"start_time,omitempty"`
	Synthetic bool      `json:"synthetic,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps records keyed by Name.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, rec Record) error
	Delete(ctx context.Context, name string) error
	Get(ctx context.Context, name string) (Record, error)
	// List returns the records of one j2eeType ordered by name; an empty
	// type lists everything.
	List(ctx context.Context, j2eeType string) ([]Record, error)
	Close() error
}
