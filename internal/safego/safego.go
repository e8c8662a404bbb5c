// Package safego starts the service's background goroutines (the consistency
// checker, rate limiter cleanup, DB stats sampling and the HTTP listeners) so
// that a panic in one of them is logged under its name instead of killing the
// process.
package safego

import (
	"log/slog"
	"runtime/debug"
	"sync/atomic"
)

var panics atomic.Uint64

// Go runs fn in a new goroutine. A panic is recovered and logged with name and
// the stack; the goroutine is not restarted.
func Go(name string, fn func()) {
	go func() {
		defer Recover(name)
		fn()
	}()
}

// Recover is deferred by Go. It can also be deferred directly by long-running
// loops that start their own goroutines.
func Recover(name string) {
	r := recover()
	if r == nil {
		return
	}
	slog.Error("recovered panic in background goroutine",
		"goroutine", name, "panic", r, "stack", string(debug.Stack()))
	panics.Add(1)
}

// Panics returns how many panics have been recovered since start.
func Panics() uint64 {
	return panics.Load()
}
