// Package server implements the control-socket listener and
// command/event dispatch of spec.md §4.11/§6 (C11): the PID file,
// the fixed-size client table, the accept/dispatch loop, and the full
// command and event tables. Grounded on the teacher's internal/player
// lifecycle management (open/close ordering) and on the
// IPC-over-UNIX-socket accept/dispatch shape referenced in
// other_examples, translated from a single-threaded select() loop
// into Go's idiomatic goroutine-per-client model.
package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// WritePIDFile writes the current process PID to path, failing if an
// existing PID file names a still-live process (spec.md §6: "Absence
// or stale PID permits server start").
func WritePIDFile(path string) error {
	if stale, err := isStalePID(path); err != nil {
		return err
	} else if !stale {
		return fmt.Errorf("server: pid file %s names a running process", path)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// isStalePID reports whether path is absent, unreadable, or names a
// process that is no longer alive.
func isStalePID(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("server: reading pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return true, nil // garbage contents: treat as stale
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true, nil
	}
	// Signal 0 probes liveness without side effects (POSIX kill(2)).
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return true, nil
	}
	return false, nil
}

// RemovePIDFile is called on clean shutdown.
func RemovePIDFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
