package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global atomic.Pointer[zap.Logger]

// New builds a JSON production logger, or a console logger when dev is
// set.
func New(level string, dev bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// SetGlobal replaces the logger returned by L.
func SetGlobal(l *zap.Logger) {
	global.Store(l)
}

// L is the process logger used by main; a production logger until
// SetGlobal is called.
func L() *zap.Logger {
	if l := global.Load(); l != nil {
		return l
	}
	l := zap.Must(zap.NewProduction())
	global.CompareAndSwap(nil, l)
	return global.Load()
}
