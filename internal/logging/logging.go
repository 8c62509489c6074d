// Package logging wraps the standard library logger with the
// "[component]" prefix convention used throughout the teacher codebase
// (e.g. "[scheduler]", "[watcher]").
package logging

import (
	"log"
	"os"
)

// Logger is a thin per-component wrapper around *log.Logger.
type Logger struct {
	*log.Logger
}

// New returns a Logger that prefixes every line with "[component] ".
func New(component string) *Logger {
	return &Logger{Logger: log.New(os.Stdout, "["+component+"] ", log.LstdFlags)}
}
