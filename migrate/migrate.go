// Package migrate applies ordered schema and data migrations against a
// document database and records what ran in a bookkeeping collection.
package migrate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Unit is a single migration step. Units run in identifier order; the
// identifier convention is a sortable numeric prefix followed by a name,
// like 0003_add_scores.
type Unit struct {
	ID   string
	Up   func(ctx context.Context, db *mongo.Database) error
	Down func(ctx context.Context, db *mongo.Database) error
}

// Source yields the known migration units.
type Source interface {
	Units(ctx context.Context) ([]Unit, error)
}

// Registry is a programmatic Source for migrations defined in code.
type Registry struct {
	units map[string]Unit
}

func NewRegistry() *Registry {
	return &Registry{units: make(map[string]Unit)}
}

// Add registers a unit. A duplicate identifier is a programming error.
func (r *Registry) Add(u Unit) error {
	if _, ok := r.units[u.ID]; ok {
		return fmt.Errorf("migrate: duplicate unit %q", u.ID)
	}
	r.units[u.ID] = u
	return nil
}

// MustAdd is Add that panics, for package-level registration.
func (r *Registry) MustAdd(u Unit) {
	if err := r.Add(u); err != nil {
		panic(err)
	}
}

func (r *Registry) Units(ctx context.Context) ([]Unit, error) {
	out := make([]Unit, 0, len(r.units))
	for _, u := range r.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Record is the bookkeeping entry for one applied unit. A success record
// is immutable; a failure record is overwritten when the unit is retried.
type Record struct {
	ID         string    `bson:"_id"`
	Identifier string    `bson:"identifier"`
	AppliedAt  time.Time `bson:"applied_at"`
	Success    bool      `bson:"success"`
}

// Recorder persists migration records.
type Recorder interface {
	Applied(ctx context.Context) (map[string]Record, error)
	Save(ctx context.Context, rec Record) error
	Remove(ctx context.Context, identifier string) error
}

// TxnFunc runs a step against a database handle, inside a transaction
// when the deployment supports them.
type TxnFunc func(ctx context.Context, fn func(ctx context.Context, db *mongo.Database) error) error

// MigrationFailedError reports the unit that stopped a run. Units after
// it were not attempted.
type MigrationFailedError struct {
	Identifier string
	Err        error
}

func (e *MigrationFailedError) Error() string {
	return fmt.Sprintf("migrate: unit %q failed: %s", e.Identifier, e.Err)
}

func (e *MigrationFailedError) Unwrap() error { return e.Err }

// UnknownUnitError reports a recorded migration the source no longer has,
// which blocks rollback of that record.
type UnknownUnitError struct {
	Identifier string
}

func (e *UnknownUnitError) Error() string {
	return fmt.Sprintf("migrate: no unit %q in source", e.Identifier)
}
