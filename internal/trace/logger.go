package trace

import (
	"fmt"
	"io"
	logpkg "log"
	"os"
	"strings"
	"sync/atomic"
)

// Level is the verbosity of a Logger. Higher values print more.
type Level int32

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	default:
		return fmt.Sprintf("level(%d)", int32(l))
	}
}

// ParseLevel accepts a level name or a numeric verbosity.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "0":
		return LevelError, nil
	case "warn", "warning", "1":
		return LevelWarn, nil
	case "info", "2":
		return LevelInfo, nil
	case "debug", "3":
		return LevelDebug, nil
	}
	return LevelError, fmt.Errorf("trace: unknown level %q", s)
}

// Logger is a leveled wrapper over the standard logger. A nil *Logger
// discards everything.
type Logger struct {
	level  atomic.Int32
	logger *logpkg.Logger
}

func New(w io.Writer, level Level, prefix string) *Logger {
	l := &Logger{
		logger: logpkg.New(w, prefix, logpkg.LstdFlags|logpkg.Lmicroseconds),
	}
	l.level.Store(int32(level))
	return l
}

func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}
	l.level.Store(int32(level))
}

func (l *Logger) Level() Level {
	if l == nil {
		return LevelError
	}
	return Level(l.level.Load())
}

// Enabled lets callers skip building expensive messages.
func (l *Logger) Enabled(level Level) bool {
	return l != nil && level <= Level(l.level.Load())
}

func (l *Logger) logf(target Level, format string, args ...any) {
	if !l.Enabled(target) {
		return
	}
	l.logger.Output(3, fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...any) {
	l.logf(LevelDebug, format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.logf(LevelInfo, format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.logf(LevelWarn, format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.logf(LevelError, format, args...)
}

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(New(os.Stderr, LevelWarn, "[tcache] "))
}

// Default returns the process-wide logger.
func Default() *Logger {
	return defaultLogger.Load()
}

// SetDefault replaces the process-wide logger (primarily for tests).
func SetDefault(l *Logger) {
	if l == nil {
		return
	}
	defaultLogger.Store(l)
}
