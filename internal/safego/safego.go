// Package safego starts background goroutines that recover from panics.
package safego

import (
	"log/slog"
	"runtime/debug"
)

// Go runs fn in a new goroutine. A panic inside fn is recovered and logged
// with the task name and stack instead of crashing the process.
func Go(task string, fn func()) {
	go func() {
		defer Recover(task)
		fn()
	}()
}

// Recover logs a recovered panic. It must be deferred directly.
func Recover(task string) {
	if r := recover(); r != nil {
		slog.Error("recovered panic in background goroutine",
			"task", task, "panic", r, "stack", string(debug.Stack()))
	}
}
