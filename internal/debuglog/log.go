// Package debuglog holds the SDK's diagnostic logger. It reports problems
// inside the SDK itself and never carries application telemetry.
package debuglog

import (
	"io"
	"log"
	"sync"
)

var (
	logger = log.New(io.Discard, "[Faultline] ", log.LstdFlags)
	mu     sync.RWMutex
)

// SetLogger replaces the current debug logger. Safe for concurrent use.
func SetLogger(l *log.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// SetOutput redirects the current debug logger to w.
func SetOutput(w io.Writer) {
	mu.RLock()
	l := logger
	mu.RUnlock()
	l.SetOutput(w)
}

// GetLogger returns the current logger instance. Safe for concurrent use.
func GetLogger() *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Printf calls Printf on the underlying logger. Safe for concurrent use.
func Printf(format string, args ...interface{}) {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Println calls Println on the underlying logger. Safe for concurrent use.
func Println(args ...interface{}) {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		l.Println(args...)
	}
}

// Warnf logs a recoverable SDK problem, such as a value that could not be
// serialized and was replaced with a placeholder.
func Warnf(format string, args ...interface{}) {
	Printf("warn: "+format, args...)
}

// Errorf logs an SDK-internal error, such as a malformed transaction that
// had to be dropped.
func Errorf(format string, args ...interface{}) {
	Printf("error: "+format, args...)
}
