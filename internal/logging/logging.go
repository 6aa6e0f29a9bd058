package logging

import (
	"fmt"
	"os"

	"github.com/rollbar/rollbar-go"
	rollbarerrors "github.com/rollbar/rollbar-go/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level        string
	Development  bool
	RollbarToken string
	Environment  string
	CodeVersion  string
}

// New builds the process logger. Entries at error level and above are
// also reported to Rollbar when a token is configured.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}

	if cfg.RollbarToken == "" {
		return logger, nil
	}

	host, _ := os.Hostname()
	client := rollbar.New(cfg.RollbarToken, cfg.Environment, cfg.CodeVersion, host, "")
	client.SetStackTracer(rollbarerrors.StackTracer)

	reporter := newRollbarCore(zapcore.ErrorLevel, client)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, reporter)
	})), nil
}
