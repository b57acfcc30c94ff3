// Package logger provides the leveled console logger used across the
// Helmsman engine. Implementations are thread-safe; color output is
// enabled automatically when writing to a TTY.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Logger is the minimal logging surface engine components depend on.
type Logger interface {
	Tracef(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Log level constants for filtering.
const (
	levelTrace = iota
	levelDebug
	levelInfo
	levelWarn
	levelError
)

var levelNames = map[string]int{
	"trace": levelTrace,
	"debug": levelDebug,
	"info":  levelInfo,
	"warn":  levelWarn,
	"error": levelError,
}

// ConsoleLogger logs to a writer with [HH:MM:SS] timestamps and level
// filtering. All methods are safe for concurrent use.
type ConsoleLogger struct {
	writer   io.Writer
	minLevel int
	mu       sync.Mutex
	colored  bool
}

// NewConsoleLogger creates a ConsoleLogger writing to w at the given
// minimum level. Valid levels: trace, debug, info, warn, error
// (case-insensitive); empty or invalid defaults to "info". A nil writer
// discards all messages.
func NewConsoleLogger(w io.Writer, level string) *ConsoleLogger {
	min, ok := levelNames[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		min = levelInfo
	}
	return &ConsoleLogger{
		writer:   w,
		minLevel: min,
		colored:  isTerminal(w),
	}
}

// isTerminal reports whether w is a TTY that supports color. NO_COLOR is
// honored via the color library's global detection.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (cl *ConsoleLogger) logf(level int, label string, paint *color.Color, format string, args ...interface{}) {
	if cl == nil || cl.writer == nil || level < cl.minLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	ts := time.Now().Format("15:04:05")

	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.colored && paint != nil {
		fmt.Fprintf(cl.writer, "[%s] %s %s\n", ts, paint.Sprint(label), msg)
		return
	}
	fmt.Fprintf(cl.writer, "[%s] %s %s\n", ts, label, msg)
}

// Tracef logs at trace level.
func (cl *ConsoleLogger) Tracef(format string, args ...interface{}) {
	cl.logf(levelTrace, "TRACE", color.New(color.FgHiBlack), format, args...)
}

// Debugf logs at debug level.
func (cl *ConsoleLogger) Debugf(format string, args ...interface{}) {
	cl.logf(levelDebug, "DEBUG", color.New(color.FgCyan), format, args...)
}

// Infof logs at info level.
func (cl *ConsoleLogger) Infof(format string, args ...interface{}) {
	cl.logf(levelInfo, "INFO ", color.New(color.FgGreen), format, args...)
}

// Warnf logs at warn level.
func (cl *ConsoleLogger) Warnf(format string, args ...interface{}) {
	cl.logf(levelWarn, "WARN ", color.New(color.FgYellow), format, args...)
}

// Errorf logs at error level.
func (cl *ConsoleLogger) Errorf(format string, args ...interface{}) {
	cl.logf(levelError, "ERROR", color.New(color.FgRed), format, args...)
}

// Nop is a Logger that discards everything. Useful as a test default.
type Nop struct{}

func (Nop) Tracef(string, ...interface{}) {}
func (Nop) Debugf(string, ...interface{}) {}
func (Nop) Infof(string, ...interface{})  {}
func (Nop) Warnf(string, ...interface{})  {}
func (Nop) Errorf(string, ...interface{}) {}
