// Package logging provides the structured logger used across rundeck.
//
// Logger wraps a zap SugaredLogger and keeps the key/value calling style
// (Info("msg", "key", value)) used throughout the codebase.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a logging severity.
type Level = zapcore.Level

// Log levels.
const (
	LevelDebug = zapcore.DebugLevel
	LevelInfo  = zapcore.InfoLevel
	LevelWarn  = zapcore.WarnLevel
	LevelError = zapcore.ErrorLevel
)

// ParseLevel parses a level name. Unknown names map to info.
func ParseLevel(s string) Level {
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

// Config configures a Logger.
type Config struct {
	// Level is the minimum level written.
	Level string
	// Format is "console" or "json".
	Format string
	// Output is where entries are written. Defaults to os.Stderr.
	Output io.Writer
}

// Logger is a leveled key/value logger.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New builds a logger from cfg.
func New(cfg Config) (*Logger, error) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(out), zap.NewAtomicLevelAt(ParseLevel(cfg.Level)))
	return &Logger{sugar: zap.New(core).Sugar()}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{sugar: l.sugar.With(args...)}
}

// WithComponent returns a child logger tagged with a component name.
func (l *Logger) WithComponent(component string) *Logger {
	return l.With("component", component)
}

func (l *Logger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
