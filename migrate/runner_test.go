package migrate

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
)

type memRecorder struct {
	recs map[string]Record
}

func newMemRecorder() *memRecorder {
	return &memRecorder{recs: make(map[string]Record)}
}

func (r *memRecorder) Applied(ctx context.Context) (map[string]Record, error) {
	out := make(map[string]Record, len(r.recs))
	for k, v := range r.recs {
		out[k] = v
	}
	return out, nil
}

func (r *memRecorder) Save(ctx context.Context, rec Record) error {
	r.recs[rec.Identifier] = rec
	return nil
}

func (r *memRecorder) Remove(ctx context.Context, identifier string) error {
	delete(r.recs, identifier)
	return nil
}

func directTxn(ctx context.Context, fn func(context.Context, *mongo.Database) error) error {
	return fn(ctx, nil)
}

func countingUnit(id string, ups *[]string, downs *[]string) Unit {
	return Unit{
		ID: id,
		Up: func(ctx context.Context, db *mongo.Database) error {
			*ups = append(*ups, id)
			return nil
		},
		Down: func(ctx context.Context, db *mongo.Database) error {
			*downs = append(*downs, id)
			return nil
		},
	}
}

func newTestRunner(t *testing.T, units ...Unit) (*Runner, *memRecorder) {
	t.Helper()
	reg := NewRegistry()
	for _, u := range units {
		require.NoError(t, reg.Add(u))
	}
	rec := newMemRecorder()
	return NewRunner(reg, rec, directTxn, zap.NewNop().Sugar()), rec
}

func TestRunAppliesInOrder(t *testing.T) {
	var ups, downs []string
	r, rec := newTestRunner(t,
		countingUnit("0002_second", &ups, &downs),
		countingUnit("0001_first", &ups, &downs),
		countingUnit("0003_third", &ups, &downs),
	)
	ctx := context.Background()

	require.NoError(t, r.Run(ctx))
	assert.Equal(t, []string{"0001_first", "0002_second", "0003_third"}, ups)
	assert.Len(t, rec.recs, 3)
	for _, re := range rec.recs {
		assert.True(t, re.Success)
		assert.NotEmpty(t, re.ID)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	var ups, downs []string
	r, _ := newTestRunner(t,
		countingUnit("0001_first", &ups, &downs),
		countingUnit("0002_second", &ups, &downs),
	)
	ctx := context.Background()

	require.NoError(t, r.Run(ctx))
	require.NoError(t, r.Run(ctx))
	assert.Len(t, ups, 2)
}

func TestRunStopsAtFailure(t *testing.T) {
	var ups, downs []string
	boom := errors.New("index exists")
	failing := true

	units := []Unit{
		countingUnit("0001_first", &ups, &downs),
		{
			ID: "0002_bad",
			Up: func(ctx context.Context, db *mongo.Database) error {
				if failing {
					return boom
				}
				ups = append(ups, "0002_bad")
				return nil
			},
		},
		countingUnit("0003_third", &ups, &downs),
	}
	r, rec := newTestRunner(t, units...)
	ctx := context.Background()

	err := r.Run(ctx)
	var ferr *MigrationFailedError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "0002_bad", ferr.Identifier)
	assert.ErrorIs(t, err, boom)

	// Only the first unit ran; the failure was recorded.
	assert.Equal(t, []string{"0001_first"}, ups)
	assert.False(t, rec.recs["0002_bad"].Success)

	// A retry picks up from the failed unit without rerunning the first.
	failing = false
	require.NoError(t, r.Run(ctx))
	assert.Equal(t, []string{"0001_first", "0002_bad", "0003_third"}, ups)
	assert.True(t, rec.recs["0002_bad"].Success)
}

func TestRollback(t *testing.T) {
	var ups, downs []string
	r, rec := newTestRunner(t,
		countingUnit("0001_first", &ups, &downs),
		countingUnit("0002_second", &ups, &downs),
		countingUnit("0003_third", &ups, &downs),
	)
	ctx := context.Background()

	require.NoError(t, r.Run(ctx))
	require.NoError(t, r.Rollback(ctx, 2))

	assert.Equal(t, []string{"0003_third", "0002_second"}, downs)
	assert.Len(t, rec.recs, 1)
	_, ok := rec.recs["0001_first"]
	assert.True(t, ok)

	// Rolled back units run again.
	require.NoError(t, r.Run(ctx))
	assert.Equal(t, []string{"0001_first", "0002_second", "0003_third", "0002_second", "0003_third"}, ups)
}

func TestRollbackUnknownUnit(t *testing.T) {
	var ups, downs []string
	r, rec := newTestRunner(t, countingUnit("0001_first", &ups, &downs))
	ctx := context.Background()

	require.NoError(t, r.Run(ctx))
	rec.recs["0002_gone"] = Record{ID: "x", Identifier: "0002_gone", Success: true}

	err := r.Rollback(ctx, 1)
	var uerr *UnknownUnitError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "0002_gone", uerr.Identifier)
}

func TestStatus(t *testing.T) {
	var ups, downs []string
	r, rec := newTestRunner(t,
		countingUnit("0001_first", &ups, &downs),
		countingUnit("0002_second", &ups, &downs),
	)
	ctx := context.Background()

	sts, err := r.Status(ctx)
	require.NoError(t, err)
	require.Len(t, sts, 2)
	assert.False(t, sts[0].Applied)

	require.NoError(t, r.Run(ctx))
	rec.recs["0003_gone"] = Record{ID: "x", Identifier: "0003_gone", Success: true}

	sts, err = r.Status(ctx)
	require.NoError(t, err)
	require.Len(t, sts, 3)
	assert.True(t, sts[0].Applied)
	assert.True(t, sts[0].Success)
	assert.Equal(t, "0003_gone", sts[2].Identifier)
	assert.True(t, sts[2].Applied)
}

func TestRegistryDuplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Add(Unit{ID: "0001_first"}))
	require.Error(t, reg.Add(Unit{ID: "0001_first"}))
}
