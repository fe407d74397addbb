// Package safego launches background goroutines that survive panics.
package safego

import (
	"log/slog"
	"runtime/debug"
)

// Go runs fn in a new goroutine. A panic is recovered and logged with its
// stack instead of crashing the process.
func Go(logger *slog.Logger, name string, fn func()) {
	go Run(logger, name, fn)
}

// Run calls fn on the current goroutine with the same recovery as Go. It
// reports whether fn returned without panicking.
func Run(logger *slog.Logger, name string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			if logger == nil {
				logger = slog.Default()
			}
			logger.Error("recovered panic in background goroutine",
				"goroutine", name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			ok = false
		}
	}()
	fn()
	return true
}
