package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"
)

// dbCmd creates the db command
func dbCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "db",
		Short: "Database migration and seed commands",
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		Long: `Apply every pending migration unit from the configured migrations
directory, in identifier order. Units already applied successfully are
skipped; a previously failed unit is retried.`,
		Run: cmdDBMigrate,
	}
	c.AddCommand(migrateCmd)

	rollbackCmd := &cobra.Command{
		Use:   "rollback [n]",
		Short: "Roll back the most recent migrations",
		Args:  cobra.MaximumNArgs(1),
		Run:   cmdDBRollback,
	}
	c.AddCommand(rollbackCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of every migration unit",
		Run:   cmdDBStatus,
	}
	c.AddCommand(statusCmd)

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate the database from the seed file",
		Run:   cmdDBSeed,
	}
	c.AddCommand(seedCmd)

	return c
}

func cmdDBMigrate(cmd *cobra.Command, args []string) {
	setup(cpath)
	ctx := context.Background()
	initEngine(ctx)

	if err := engine.Migrate(ctx); err != nil {
		log.Fatalf("Migration failed: %s", err)
	}
	log.Infof("Migrations up to date")
}

func cmdDBRollback(cmd *cobra.Command, args []string) {
	setup(cpath)
	ctx := context.Background()
	initEngine(ctx)

	n := 1
	if len(args) == 1 {
		var err error
		if n, err = strconv.Atoi(args[0]); err != nil || n < 1 {
			log.Fatalf("Invalid rollback count %q", args[0])
		}
	}

	runner, err := engine.MigrationRunner(migrationSource())
	if err != nil {
		log.Fatal(err)
	}
	if err := runner.Rollback(ctx, n); err != nil {
		log.Fatalf("Rollback failed: %s", err)
	}
	log.Infof("Rolled back %d migration(s)", n)
}

func cmdDBStatus(cmd *cobra.Command, args []string) {
	setup(cpath)
	ctx := context.Background()
	initEngine(ctx)

	runner, err := engine.MigrationRunner(migrationSource())
	if err != nil {
		log.Fatal(err)
	}
	units, err := runner.Status(ctx)
	if err != nil {
		log.Fatal(err)
	}

	for _, u := range units {
		switch {
		case !u.Applied:
			log.Infof("%-40s pending", u.Identifier)
		case u.Success:
			log.Infof("%-40s applied %s", u.Identifier, u.AppliedAt.Format("2006-01-02 15:04:05"))
		default:
			log.Warnf("%-40s FAILED  %s", u.Identifier, u.AppliedAt.Format("2006-01-02 15:04:05"))
		}
	}
}
