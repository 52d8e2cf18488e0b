package migrate

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
)

// Runner applies the units a Source yields, in order, recording every
// outcome through the Recorder. Each unit runs through the supplied
// TxnFunc so a deployment with transactions gets per-unit atomicity.
type Runner struct {
	source   Source
	recorder Recorder
	txn      TxnFunc
	log      *zap.SugaredLogger
	silent   bool
}

func NewRunner(source Source, recorder Recorder, txn TxnFunc, log *zap.SugaredLogger) *Runner {
	return &Runner{source: source, recorder: recorder, txn: txn, log: log}
}

// Silent suppresses per-unit progress logging. Failures still log.
func (r *Runner) Silent(on bool) *Runner {
	r.silent = on
	return r
}

// Run applies every pending unit in identifier order. A unit with a
// success record is skipped; one with a failure record is retried and its
// record overwritten. The first failing unit stops the run.
func (r *Runner) Run(ctx context.Context) error {
	units, err := r.source.Units(ctx)
	if err != nil {
		return err
	}
	applied, err := r.recorder.Applied(ctx)
	if err != nil {
		return err
	}

	for _, u := range units {
		if rec, ok := applied[u.ID]; ok && rec.Success {
			continue
		}

		if !r.silent {
			r.log.Infow("applying migration", "unit", u.ID)
		}

		runErr := r.txn(ctx, u.Up)
		rec := Record{
			ID:         uuid.NewString(),
			Identifier: u.ID,
			AppliedAt:  time.Now().UTC(),
			Success:    runErr == nil,
		}
		if err := r.recorder.Save(ctx, rec); err != nil {
			return err
		}
		if runErr != nil {
			r.log.Errorw("migration failed", "unit", u.ID, "error", runErr)
			return &MigrationFailedError{Identifier: u.ID, Err: runErr}
		}
	}
	return nil
}

// Rollback undoes the n most recently applied units, newest first. Only
// success records roll back; a unit missing from the source stops the
// rollback before anything newer is lost.
func (r *Runner) Rollback(ctx context.Context, n int) error {
	units, err := r.source.Units(ctx)
	if err != nil {
		return err
	}
	byID := make(map[string]Unit, len(units))
	for _, u := range units {
		byID[u.ID] = u
	}

	applied, err := r.recorder.Applied(ctx)
	if err != nil {
		return err
	}
	var done []Record
	for _, rec := range applied {
		if rec.Success {
			done = append(done, rec)
		}
	}
	sort.Slice(done, func(i, j int) bool { return done[i].Identifier > done[j].Identifier })

	if n > len(done) {
		n = len(done)
	}
	for _, rec := range done[:n] {
		u, ok := byID[rec.Identifier]
		if !ok {
			return &UnknownUnitError{Identifier: rec.Identifier}
		}
		if u.Down == nil {
			return &MigrationFailedError{Identifier: u.ID, Err: errNoDown}
		}

		if !r.silent {
			r.log.Infow("rolling back migration", "unit", u.ID)
		}
		if err := r.txn(ctx, u.Down); err != nil {
			r.log.Errorw("rollback failed", "unit", u.ID, "error", err)
			return &MigrationFailedError{Identifier: u.ID, Err: err}
		}
		if err := r.recorder.Remove(ctx, u.ID); err != nil {
			return err
		}
	}
	return nil
}

var errNoDown = errNoDownType{}

type errNoDownType struct{}

func (errNoDownType) Error() string { return "unit has no down step" }

// UnitStatus pairs a unit with its bookkeeping state.
type UnitStatus struct {
	Identifier string
	Applied    bool
	Success    bool
	AppliedAt  time.Time
}

// Status reports every known unit in order, plus any recorded unit the
// source no longer has.
func (r *Runner) Status(ctx context.Context) ([]UnitStatus, error) {
	units, err := r.source.Units(ctx)
	if err != nil {
		return nil, err
	}
	applied, err := r.recorder.Applied(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(units))
	out := make([]UnitStatus, 0, len(units))
	for _, u := range units {
		seen[u.ID] = true
		st := UnitStatus{Identifier: u.ID}
		if rec, ok := applied[u.ID]; ok {
			st.Applied = true
			st.Success = rec.Success
			st.AppliedAt = rec.AppliedAt
		}
		out = append(out, st)
	}
	for id, rec := range applied {
		if !seen[id] {
			out = append(out, UnitStatus{
				Identifier: id, Applied: true, Success: rec.Success, AppliedAt: rec.AppliedAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

// DirectTxn is a TxnFunc for deployments without transactions: the step
// runs straight against the database handle.
func DirectTxn(db *mongo.Database) TxnFunc {
	return func(ctx context.Context, fn func(ctx context.Context, db *mongo.Database) error) error {
		return fn(ctx, db)
	}
}
