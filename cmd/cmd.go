package main

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/docrel/docrel/core"
)

var (
	// These variables are set using -ldflags
	version string
	commit  string
	date    string
)

var (
	log    *zap.SugaredLogger
	conf   *core.Config
	engine *core.Engine
	cpath  string
)

// Cmd is the entry point for the CLI
func Cmd() {
	log = newLogger(false).Sugar()

	cobra.EnableCommandSorting = false
	rootCmd := &cobra.Command{
		Use:   "docrel",
		Short: BuildDetails(),
	}

	rootCmd.PersistentFlags().StringVar(&cpath,
		"path", "./config", "path to config files")

	rootCmd.AddCommand(dbCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("%s", err)
	}
}

// setup is a helper function to read the config file
func setup(cpath string) {
	if conf != nil {
		return
	}

	cp, err := filepath.Abs(cpath)
	if err != nil {
		log.Fatal(err)
	}

	cn := core.GetConfigName()
	if conf, err = core.ReadInConfig(path.Join(cp, cn)); err != nil {
		log.Fatal(err)
	}
}

// initEngine builds the engine and opens all configured connections
func initEngine(ctx context.Context) {
	if engine != nil {
		return
	}

	var err error
	if engine, err = core.NewEngine(conf, core.WithLogger(log)); err != nil {
		log.Fatalf("Failed to initialize: %s", err)
	}
	if err := engine.Open(ctx); err != nil {
		log.Fatalf("Failed to connect to database: %s", err)
	}
}

// newLogger creates a new logger
func newLogger(json bool) *zap.Logger {
	econf := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		NameKey:        "logger",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	var zcore zapcore.Core
	if json {
		zcore = zapcore.NewCore(zapcore.NewJSONEncoder(econf), os.Stdout, zap.DebugLevel)
	} else {
		econf.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zcore = zapcore.NewCore(zapcore.NewConsoleEncoder(econf), os.Stdout, zap.DebugLevel)
	}
	return zap.New(zcore)
}
