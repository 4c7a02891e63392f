// Package logging holds the process-wide zap logger.
package logging

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type loggerKeyType string

const loggerKey loggerKeyType = "logger"

var (
	mu     sync.RWMutex
	logger *zap.Logger
	sugar  *zap.SugaredLogger
)

// InitLogger builds the global logger. level may be empty; LOG_LEVEL in the
// environment takes precedence over it.
func InitLogger(development bool, level string) error {
	var config zap.Config

	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	if level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err == nil {
			config.Level = zap.NewAtomicLevelAt(lvl)
		}
	}

	l, err := config.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}
	SetLogger(l)
	return nil
}

// SetLogger replaces the global logger.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
	sugar = l.Sugar()
}

// GetLogger returns the global logger, falling back to a development logger
// when InitLogger was never called.
func GetLogger() *zap.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}
	l, _ = zap.NewDevelopment()
	SetLogger(l)
	return l
}

func GetSugaredLogger() *zap.SugaredLogger {
	GetLogger()
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// LoggerFromContext returns the logger stored in ctx or the global one.
func LoggerFromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return l
	}
	return GetLogger()
}

func ContextWithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// ComponentLogger tags the global logger with a component name.
func ComponentLogger(component string) *zap.Logger {
	return GetLogger().With(zap.String("component", component))
}

func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if logger != nil {
		_ = logger.Sync()
	}
}
