// Package async provides panic-safe goroutine helpers.
package async

import (
	"fmt"
	"runtime/debug"
)

// PanicLogger is the subset of a logger needed to report recovered panics.
type PanicLogger interface {
	Error(format string, args ...any)
}

// Go runs fn on a new goroutine, logging instead of crashing on panic.
func Go(logger PanicLogger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Recover must be deferred; it logs a recovered panic with its stack.
func Recover(logger PanicLogger, name string) {
	r := recover()
	if r == nil {
		return
	}
	if logger == nil {
		return
	}
	logger.Error("goroutine panic [%s]: %v\n%s", name, r, debug.Stack())
}

// PanicError is returned by Capture when fn panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Capture runs fn and converts a panic into a *PanicError.
func Capture(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}
