// Package log provides the module-scoped structured logger used across the
// bridge. The API shape (NewModuleLogger, key/value logging methods) mirrors
// github.com/klaytn/klaytn/log; the backend is zap instead of log15.
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Module names passed to NewModuleLogger, one per package that logs.
const (
	Crypto      = "CRYPTO"
	Protocol    = "PROTOCOL"
	Discovery   = "DISCOVERY"
	P2PConn     = "P2P_CONN"
	P2PTransport = "P2P_TRANSPORT"
	Bridge      = "BRIDGE"
	Registry    = "REGISTRY"
	Relay       = "RELAY"
	Config      = "CONFIG"
	NAT         = "NAT"
	Metrics     = "METRICS"
	CMDBridge   = "CMD_BRIDGE"
)

var (
	baseOnce sync.Once
	base     *zap.Logger
)

func rootLogger() *zap.Logger {
	baseOnce.Do(func() {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "ts"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc := zapcore.NewConsoleEncoder(cfg)
		core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), zap.NewAtomicLevelAt(zapcore.DebugLevel))
		base = zap.New(core)
	})
	return base
}

// Logger is the contextual, key/value logger handed to every component.
type Logger struct {
	sugar  *zap.SugaredLogger
	module string
}

// NewModuleLogger returns a Logger scoped to the given module name.
func NewModuleLogger(module string) Logger {
	return Logger{sugar: rootLogger().Sugar().With("module", module), module: module}
}

// NewWith returns a copy of the logger with additional static key/value pairs.
func (l Logger) NewWith(kv ...interface{}) Logger {
	return Logger{sugar: l.sugar.With(kv...), module: l.module}
}

func (l Logger) Trace(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
func (l Logger) Debug(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
func (l Logger) Info(msg string, kv ...interface{})  { l.sugar.Infow(msg, kv...) }
func (l Logger) Warn(msg string, kv ...interface{})  { l.sugar.Warnw(msg, kv...) }
func (l Logger) Error(msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }
