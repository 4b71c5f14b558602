// Package logger provides the bridge's process-wide structured logger.
// It wraps a single log/slog.Logger behind package-level functions so every
// component logs through the same handler and level without threading a
// logger value through every constructor.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/go-logr/logr"
)

var singleton atomic.Pointer[slog.Logger]

func init() {
	singleton.Store(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

// envReader abstracts os.Getenv so tests can stub the environment without
// mutating the process.
type envReader interface {
	Getenv(key string) string
}

type osEnvReader struct{}

func (osEnvReader) Getenv(key string) string { return os.Getenv(key) }

// Initialize (re)configures the singleton logger from the process
// environment. It should be called once at process startup, typically from
// a cobra command's PersistentPreRun.
func Initialize() {
	InitializeWithEnv(osEnvReader{})
}

// InitializeWithEnv is Initialize with an injectable environment reader, for
// testing.
func InitializeWithEnv(r envReader) {
	level := slog.LevelInfo
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if unstructuredLogsWithEnv(r) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	singleton.Store(slog.New(handler))
}

// unstructuredLogsWithEnv reports whether UNSTRUCTURED_LOGS selects the
// human-readable text handler. Unset or unparsable values default to true,
// matching a local developer's expectation of readable-by-default logs.
func unstructuredLogsWithEnv(r envReader) bool {
	v := r.Getenv("UNSTRUCTURED_LOGS")
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}

// Get returns the current singleton logger.
func Get() *slog.Logger {
	if l := singleton.Load(); l != nil {
		return l
	}
	return slog.Default()
}

// NewLogr adapts the singleton to the logr.Logger interface, for components
// wired against go-logr rather than slog directly.
func NewLogr() logr.Logger {
	return logr.FromSlogHandler(Get().Handler())
}

func Debug(msg string)                       { Get().Debug(msg) }
func Debugf(format string, args ...any)       { Get().Debug(fmt.Sprintf(format, args...)) }
func Debugw(msg string, keysAndValues ...any) { Get().Debug(msg, keysAndValues...) }

func Info(msg string)                       { Get().Info(msg) }
func Infof(format string, args ...any)      { Get().Info(fmt.Sprintf(format, args...)) }
func Infow(msg string, keysAndValues ...any) { Get().Info(msg, keysAndValues...) }

func Warn(msg string)                       { Get().Warn(msg) }
func Warnf(format string, args ...any)       { Get().Warn(fmt.Sprintf(format, args...)) }
func Warnw(msg string, keysAndValues ...any) { Get().Warn(msg, keysAndValues...) }

func Error(msg string)                       { Get().Error(msg) }
func Errorf(format string, args ...any)       { Get().Error(fmt.Sprintf(format, args...)) }
func Errorw(msg string, keysAndValues ...any) { Get().Error(msg, keysAndValues...) }

// DPanic logs at error level in production; callers in the teacher's idiom
// reserve it for conditions that should panic during development only. The
// bridge always runs as a server process, so it never panics here — it logs
// and lets the caller decide how to proceed.
func DPanic(msg string)                       { Get().Error(msg) }
func DPanicf(format string, args ...any)       { Get().Error(fmt.Sprintf(format, args...)) }
func DPanicw(msg string, keysAndValues ...any) { Get().Error(msg, keysAndValues...) }

func Panic(msg string) {
	Get().Error(msg)
	panic(msg)
}

func Panicf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	Get().Error(msg)
	panic(msg)
}

func Panicw(msg string, keysAndValues ...any) {
	Get().Error(msg, keysAndValues...)
	panic(msg)
}
