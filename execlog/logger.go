// Package execlog provides the structured observability sink consumed by
// the workflow engine and the action round-loop. It wraps a zap logger
// with level filtering and bounded entry retention so a run's recent
// history can be replayed for debugging.
package execlog

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level controls which entries are recorded and forwarded.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch s {
	case "error":
		return LevelError
	case "warn", "warning":
		return LevelWarn
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// Entry is one retained log record.
type Entry struct {
	Time    time.Time
	Level   Level
	Message string
	Fields  []zap.Field
}

// DefaultRetention bounds the in-memory history when none is configured.
const DefaultRetention = 256

// ring is the bounded entry buffer shared by a Logger and all its Named
// descendants. A single mutex serializes every writer.
type ring struct {
	mu        sync.Mutex
	retention int
	history   []Entry
	next      int
	full      bool
}

func (r *ring) record(e Entry) {
	r.mu.Lock()
	r.history[r.next] = e
	r.next = (r.next + 1) % r.retention
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Logger is a leveled logger with a bounded ring of recent entries.
// It is safe for concurrent use.
type Logger struct {
	zl    *zap.Logger
	level Level
	ring  *ring
}

// New creates a Logger forwarding to zl. A nil zl records history only.
func New(zl *zap.Logger, level Level, retention int) *Logger {
	if zl == nil {
		zl = zap.NewNop()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Logger{
		zl:    zl,
		level: level,
		ring: &ring{
			retention: retention,
			history:   make([]Entry, retention),
		},
	}
}

// Named returns a logger with a sub-scope name, sharing the same history.
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		zl:    l.zl.Named(name),
		level: l.level,
		ring:  l.ring,
	}
}

// Enabled reports whether entries at lvl pass the filter.
func (l *Logger) Enabled(lvl Level) bool {
	return lvl <= l.level
}

// Debug records a debug entry.
func (l *Logger) Debug(msg string, fields ...zap.Field) { l.log(LevelDebug, msg, fields) }

// Info records an info entry.
func (l *Logger) Info(msg string, fields ...zap.Field) { l.log(LevelInfo, msg, fields) }

// Warn records a warning entry.
func (l *Logger) Warn(msg string, fields ...zap.Field) { l.log(LevelWarn, msg, fields) }

// Error records an error entry.
func (l *Logger) Error(msg string, fields ...zap.Field) { l.log(LevelError, msg, fields) }

func (l *Logger) log(lvl Level, msg string, fields []zap.Field) {
	if !l.Enabled(lvl) {
		return
	}
	l.ring.record(Entry{Time: time.Now(), Level: lvl, Message: msg, Fields: fields})

	switch lvl {
	case LevelError:
		l.zl.Error(msg, fields...)
	case LevelWarn:
		l.zl.Warn(msg, fields...)
	case LevelInfo:
		l.zl.Info(msg, fields...)
	default:
		l.zl.Debug(msg, fields...)
	}
}

// History returns the retained entries, oldest first.
func (l *Logger) History() []Entry {
	r := l.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]Entry, r.next)
		copy(out, r.history[:r.next])
		return out
	}
	out := make([]Entry, 0, r.retention)
	out = append(out, r.history[r.next:]...)
	out = append(out, r.history[:r.next]...)
	return out
}

// ZapLevel converts a Level to the corresponding zapcore level, used when
// building the backing zap logger from config.
func (l Level) ZapLevel() zapcore.Level {
	switch l {
	case LevelError:
		return zapcore.ErrorLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
