// Package logging provides the package-wide structured logger for
// swallowed-but-logged errors; in this module TcpServer.Close logs the
// close errors it aggregates through it. It is never used for the
// caller-visible ERROR action path.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.RWMutex
	logger = defaultLogger()
)

func defaultLogger() *zap.SugaredLogger {
	l, err := zap.NewProduction()
	if err != nil {
		// fall back to a no-op logger rather than panicking at import time.
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

// Options configures log rotation when writing to a file instead of stderr.
type Options struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Configure replaces the package logger, optionally routing it through a
// rotating file writer.
func Configure(opts Options) error {
	if opts.Filename == "" {
		mu.Lock()
		logger = defaultLogger()
		mu.Unlock()
		return nil
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.Filename,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}

	encCfg := zap.NewProductionEncoderConfig()
	encoder := zapcore.NewJSONEncoder(encCfg)
	core := zapcore.NewCore(encoder, zapcore.AddSync(rotator), zap.InfoLevel)

	mu.Lock()
	logger = zap.New(core).Sugar()
	mu.Unlock()
	return nil
}

// Errorf logs at error level.
func Errorf(format string, args ...interface{}) {
	current().Errorf(format, args...)
}

// Warnf logs at warn level.
func Warnf(format string, args ...interface{}) {
	current().Warnf(format, args...)
}

// Debugf logs at debug level.
func Debugf(format string, args ...interface{}) {
	current().Debugf(format, args...)
}

// LogErr logs err at error level if it is non-nil. It is the standard way
// to report an error that the caller has already decided to swallow (close
// failures during teardown, poller errors during shutdown).
func LogErr(err error) {
	if err == nil {
		return
	}
	current().Errorw("swallowed error", "error", err)
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}
