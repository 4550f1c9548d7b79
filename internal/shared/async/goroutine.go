// Package async starts background goroutines that log panics instead of
// taking the process down.
package async

import "runtime/debug"

// PanicLogger captures panic reports from background goroutines.
type PanicLogger interface {
	Error(format string, args ...any)
}

// Go runs fn on a new goroutine guarded by Recover. The returned channel is
// closed once fn has returned or panicked.
func Go(logger PanicLogger, name string, fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer Recover(logger, name)
		fn()
	}()
	return done
}

// Recover logs a panic with its stack. It must be deferred directly.
func Recover(logger PanicLogger, name string) {
	r := recover()
	if r == nil || logger == nil {
		return
	}
	if name == "" {
		logger.Error("goroutine panic: %v, stack: %s", r, debug.Stack())
		return
	}
	logger.Error("goroutine panic [%s]: %v, stack: %s", name, r, debug.Stack())
}
