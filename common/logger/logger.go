package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger provides a unified logging interface for the recommendation server.
// The package-level functions write through a zap SugaredLogger that can be
// swapped out by Init (server start) or UseNop (tests).

// LogLevel represents log severity levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Options configures the zap backend.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // console or json
	// File enables rolling file output in addition to stderr when set.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu sync.RWMutex

	// atomic so SetLevel takes effect on live cores
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	sugar = newSugar(Options{})
)

// Init rebuilds the backend from options. It is safe to call more than once.
func Init(opts Options) {
	level.SetLevel(zapLevel(ParseLevel(opts.Level)))
	s := newSugar(opts)
	mu.Lock()
	old := sugar
	sugar = s
	mu.Unlock()
	_ = old.Sync()
}

// UseNop discards all output (useful for tests).
func UseNop() {
	mu.Lock()
	sugar = zap.NewNop().Sugar()
	mu.Unlock()
}

// Sync flushes buffered entries.
func Sync() {
	mu.RLock()
	s := sugar
	mu.RUnlock()
	_ = s.Sync()
}

// ParseLevel maps a level name to LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func newSugar(opts Options) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(opts.Format, "json") {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	// stdout is reserved for the MCP stdio transport.
	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stderr)}
	if opts.File != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		}))
	}
	core := zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(sinks...), level)
	return zap.New(core).Sugar()
}

func zapLevel(l LogLevel) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// Debugf logs a debug message
func Debugf(format string, args ...interface{}) {
	logf(LevelDebug, format, args...)
}

// Infof logs an info message
func Infof(format string, args ...interface{}) {
	logf(LevelInfo, format, args...)
}

// Warnf logs a warning message
func Warnf(format string, args ...interface{}) {
	logf(LevelWarn, format, args...)
}

// Errorf logs an error message
func Errorf(format string, args ...interface{}) {
	logf(LevelError, format, args...)
}

func logf(level LogLevel, format string, args ...interface{}) {
	mu.RLock()
	s := sugar
	mu.RUnlock()
	switch level {
	case LevelDebug:
		s.Debugf(format, args...)
	case LevelInfo:
		s.Infof(format, args...)
	case LevelWarn:
		s.Warnf(format, args...)
	default:
		s.Errorf(format, args...)
	}
}

// SetLevel sets the minimum log level
func SetLevel(l LogLevel) {
	level.SetLevel(zapLevel(l))
}

// Enabled reports whether messages at l would be written.
func Enabled(l LogLevel) bool {
	return level.Enabled(zapLevel(l))
}

// ContextLogger prefixes every message with fixed key=value pairs.
type ContextLogger struct {
	prefix string
}

// WithContext creates a new logger with context, e.g. {"session": id}.
func WithContext(context map[string]interface{}) *ContextLogger {
	if len(context) == 0 {
		return &ContextLogger{}
	}
	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v ", k, context[k])
	}
	return &ContextLogger{prefix: "[" + strings.TrimSpace(b.String()) + "] "}
}

// Debugf logs with context
func (c *ContextLogger) Debugf(format string, args ...interface{}) {
	Debugf(c.prefix+format, args...)
}

// Infof logs with context
func (c *ContextLogger) Infof(format string, args ...interface{}) {
	Infof(c.prefix+format, args...)
}

// Warnf logs with context
func (c *ContextLogger) Warnf(format string, args ...interface{}) {
	Warnf(c.prefix+format, args...)
}

// Errorf logs with context
func (c *ContextLogger) Errorf(format string, args ...interface{}) {
	Errorf(c.prefix+format, args...)
}
