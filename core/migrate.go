package core

import (
	"context"

	"github.com/spf13/afero"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/docrel/docrel/migrate"
)

// MigrationRunner builds a runner over source, recording into the
// configured bookkeeping collection on the default connection. Each unit
// runs through the engine's transaction path, so transactional mode gives
// per-unit atomicity.
func (e *Engine) MigrationRunner(source migrate.Source) (*migrate.Runner, error) {
	conn, err := e.conns.Get("")
	if err != nil {
		return nil, err
	}
	recorder := migrate.NewRecorder(conn.DB(), e.conf.Migrations.Collection)
	r := migrate.NewRunner(source, recorder, e.migrateTxn, e.log)
	r.Silent(e.conf.Migrations.Silent)
	return r, nil
}

func (e *Engine) migrateTxn(ctx context.Context, fn func(context.Context, *mongo.Database) error) error {
	return e.conns.Transaction(ctx, fn, "")
}

// Migrate applies every pending migration from the configured directory.
// A disabled migrations block is a no-op.
func (e *Engine) Migrate(ctx context.Context) error {
	if !e.conf.Migrations.Enable {
		return nil
	}
	source := migrate.NewDirSource(afero.NewOsFs(), e.conf.AbsolutePath(e.conf.Migrations.Path))
	runner, err := e.MigrationRunner(source)
	if err != nil {
		return err
	}
	return runner.Run(ctx)
}
