// Package sklogimpl defines the interface between the sklog facade and the
// logging backends that do the actual writing.
package sklogimpl

import (
	"sync/atomic"
)

// Severity identifies the log level of one message.
type Severity int

const (
	Debug Severity = iota
	Info
	Warning
	Error
	Fatal
)

// Logger writes a single log line. depth is the number of stack frames to
// skip above this call when reporting the log call site. If format is empty
// the args are formatted as fmt.Sprint would, otherwise as fmt.Sprintf.
// A Logger must terminate the process after writing a Fatal message.
type Logger interface {
	Log(depth int, severity Severity, format string, args ...interface{})
}

var logger atomic.Value // of Logger

// SetLogger changes the backend used by all subsequent log calls. It must be
// called before any logging happens, typically from an init function.
func SetLogger(l Logger) {
	logger.Store(&l)
}

// Log forwards one message to the configured backend.
func Log(depth int, severity Severity, format string, args ...interface{}) {
	if l, ok := logger.Load().(*Logger); ok {
		(*l).Log(depth+1, severity, format, args...)
	}
}
