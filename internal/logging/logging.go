// Package logging sets up mocd's charmbracelet/log root logger, which
// the server uses. Component derives a named sub-logger via
// With("component", ...); no other package calls it, and the player
// loop, output thread, precache worker, tag-cache reader and I/O
// prefetch thread do not log.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// New builds the root logger, writing to w (typically a log file for a
// detached server, or stderr in foreground mode).
func New(w io.Writer, debug bool) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		ReportCaller:    debug,
	})
	if debug {
		l.SetLevel(log.DebugLevel)
	} else {
		l.SetLevel(log.InfoLevel)
	}
	return l
}

// Component returns a sub-logger tagged with the given component name.
func Component(l *log.Logger, name string) *log.Logger {
	return l.With("component", name)
}
