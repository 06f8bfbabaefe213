// Package dlog provides the structured logger used by the controller
// context. The audio thread's per-block work does not log, since logging
// allocates and can block on I/O; the one audio-context call is the
// bridge engine worker's error log on an output-ring overrun, as it stops.
package dlog

import (
	"sync"

	"go.uber.org/zap"
)

// Logger wraps a *zap.Logger with the severity surface the rest of the
// engine expects, mirroring the Debug/Info/Warning/Error levels
// pkg/host.Logger exposed for the CLAP log extension.
type Logger struct {
	z *zap.Logger
}

var (
	defaultOnce sync.Once
	defaultLog  *Logger
)

// New wraps an existing zap logger. Passing nil yields a no-op logger.
func New(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

// Default returns a process-wide development logger, built once.
func Default() *Logger {
	defaultOnce.Do(func() {
		z, err := zap.NewDevelopment()
		if err != nil {
			z = zap.NewNop()
		}
		defaultLog = New(z)
	})
	return defaultLog
}

func (l *Logger) sugar() *zap.SugaredLogger {
	if l == nil || l.z == nil {
		return zap.NewNop().Sugar()
	}
	return l.z.Sugar()
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.sugar().Debugf(msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.sugar().Infof(msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.sugar().Warnf(msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.sugar().Errorf(msg, args...) }

// With returns a child logger with structured fields attached, e.g.
// log.With("plugin_id", id).
func (l *Logger) With(args ...interface{}) *Logger {
	if l == nil || l.z == nil {
		return l
	}
	return &Logger{z: l.z.Sugar().With(args...).Desugar()}
}

// Sync flushes any buffered log entries. Call on engine shutdown.
func (l *Logger) Sync() error {
	if l == nil || l.z == nil {
		return nil
	}
	return l.z.Sync()
}
