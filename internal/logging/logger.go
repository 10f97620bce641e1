package logging

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"sync"
	"time"
)

// Logger defines a minimal, printf-style logging contract.
//
// Components depend on this interface rather than a concrete logger so tests
// and library embedders can supply their own sink (or none at all).
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// writerLogger writes timestamped, component-prefixed lines to a shared writer.
type writerLogger struct {
	mu        *sync.Mutex
	out       io.Writer
	level     Level
	component string
}

// New returns a leveled logger writing to out.
func New(out io.Writer, level Level) Logger {
	return &writerLogger{mu: &sync.Mutex{}, out: out, level: level}
}

var (
	defaultLogger *writerLogger
	defaultOnce   sync.Once
)

func sharedDefault() *writerLogger {
	defaultOnce.Do(func() {
		defaultLogger = &writerLogger{mu: &sync.Mutex{}, out: os.Stderr, level: LevelInfo}
	})
	return defaultLogger
}

// NewComponentLogger returns the default application logger scoped to a
// component. All component loggers share one writer and mutex.
func NewComponentLogger(component string) Logger {
	base := sharedDefault()
	return &writerLogger{mu: base.mu, out: base.out, level: base.level, component: component}
}

// SetDefaultLevel sets the minimum level for loggers created by
// NewComponentLogger after this call.
func SetDefaultLevel(level Level) {
	base := sharedDefault()
	base.mu.Lock()
	base.level = level
	base.mu.Unlock()
}

func (l *writerLogger) log(level Level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	if l.component != "" {
		fmt.Fprintf(l.out, "[%s] [%s] [%s] %s\n", ts, level, l.component, msg)
		return
	}
	fmt.Fprintf(l.out, "[%s] [%s] %s\n", ts, level, msg)
}

func (l *writerLogger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *writerLogger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *writerLogger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *writerLogger) Error(format string, args ...any) { l.log(LevelError, format, args...) }
