package core

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds a zap logger from the configured level and format.
func newLogger(conf *Config) (*zap.Logger, error) {
	econf := zap.NewProductionEncoderConfig()
	econf.EncodeTime = zapcore.ISO8601TimeEncoder
	econf.CallerKey = ""

	var enc zapcore.Encoder
	if conf.ShouldUseJSONLogs() {
		enc = zapcore.NewJSONEncoder(econf)
	} else {
		econf.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(econf)
	}

	level := zap.InfoLevel
	if conf.LogLevel != "" {
		if err := level.Set(conf.LogLevel); err != nil {
			return nil, err
		}
	}

	core := zapcore.NewCore(enc, os.Stdout, level)
	return zap.New(core), nil
}
