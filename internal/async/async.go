// Package async starts background goroutines that report panics through
// the component logger instead of crashing the process.
package async

import (
	"fmt"
	"runtime/debug"

	"smartsched/internal/logging"
)

// Go runs fn in a goroutine guarded by panic recovery.
func Go(logger logging.Logger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Run runs fn in a guarded goroutine and delivers its result on the
// returned channel. A panic in fn is delivered as an error.
func Run(logger logging.Logger, name string, fn func() error) <-chan error {
	out := make(chan error, 1)
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				report(logger, name, r)
				err = fmt.Errorf("%s panicked: %v", label(name), r)
			}
			out <- err
		}()
		err = fn()
	}()
	return out
}

// Recover logs a panic with its stack. It must be deferred directly.
func Recover(logger logging.Logger, name string) {
	if r := recover(); r != nil {
		report(logger, name, r)
	}
}

func report(logger logging.Logger, name string, r any) {
	logging.OrNop(logger).Error("goroutine panic [%s]: %v, stack: %s", label(name), r, debug.Stack())
}

func label(name string) string {
	if name == "" {
		return "anonymous"
	}
	return name
}
