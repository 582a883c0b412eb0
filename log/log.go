// Package log provides the module-scoped structured logger used throughout
// the node. Every package that needs to log calls NewModuleLogger with one
// of the constants below, the same convention the storage and common
// packages of this tree have always used.
package log

import (
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Module identifies the subsystem a logger belongs to, so log lines can be
// filtered or routed per component without string matching.
type Module string

const (
	ChainStore    Module = "chainstore"
	IngestQueue   Module = "ingestqueue"
	Validator     Module = "validator"
	Consensus     Module = "consensus"
	Gossip        Module = "gossip"
	Equilibrium   Module = "equilibrium"
	HTTPAPI       Module = "httpapi"
	Rewards       Module = "rewards"
	NodeContext   Module = "nodectx"
	Config        Module = "config"
	Common        Module = "common"
)

// Logger is the subset of zap.SugaredLogger this tree uses. Keeping it
// narrow means swapping the backend later never ripples past this file.
type Logger interface {
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
	Fatal(msg string, kv ...interface{})
	With(kv ...interface{}) Logger
}

type logger struct {
	sugar *zap.SugaredLogger
}

func (l *logger) Debug(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
func (l *logger) Info(msg string, kv ...interface{})  { l.sugar.Infow(msg, kv...) }
func (l *logger) Warn(msg string, kv ...interface{})  { l.sugar.Warnw(msg, kv...) }
func (l *logger) Error(msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }

// Fatal logs at error level and returns control to the caller. It does not
// call os.Exit: halting a fatal subsystem is the responsibility of the
// caller's own run loop, not this library.
func (l *logger) Fatal(msg string, kv ...interface{}) { l.sugar.Errorw("FATAL: "+msg, kv...) }

func (l *logger) With(kv ...interface{}) Logger {
	return &logger{sugar: l.sugar.With(kv...)}
}

var (
	baseOnce sync.Once
	base     *zap.Logger
)

// parseLevel maps LOG_LEVEL (case-insensitive) to a zap level, defaulting
// to info when unset or unrecognized.
func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func buildBase() *zap.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))
	jsonOut := strings.EqualFold(os.Getenv("LOG_JSON"), "true")

	var encoder zapcore.Encoder
	if jsonOut {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "ts"
		encoder = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = coloredLevelEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
	}

	sink := zapcore.AddSync(colorable.NewColorableStdout())
	core := zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(level))
	return zap.New(core)
}

// coloredLevelEncoder colors level names for terminal output, the same
// visual cue klaytn-style nodes give operators watching a console.
func coloredLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	var c *color.Color
	switch l {
	case zapcore.DebugLevel:
		c = color.New(color.FgCyan)
	case zapcore.InfoLevel:
		c = color.New(color.FgGreen)
	case zapcore.WarnLevel:
		c = color.New(color.FgYellow)
	default:
		c = color.New(color.FgRed)
	}
	enc.AppendString(c.Sprintf("%-5s", l.CapitalString()))
}

// NewModuleLogger returns a Logger tagged with the given module name.
func NewModuleLogger(m Module) Logger {
	baseOnce.Do(func() {
		base = buildBase()
	})
	return &logger{sugar: base.Sugar().With("module", string(m))}
}

// NewRequestLogger is a convenience for HTTP handlers that want a
// correlation id attached to every line for one request's lifetime.
func NewRequestLogger(m Module, requestID string) Logger {
	l := NewModuleLogger(m)
	return l.With("request_id", requestID)
}
