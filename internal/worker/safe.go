package worker

import (
	"fmt"
	"runtime/debug"

	"github.com/jwalitptl/nurse-call-api/pkg/logger"
)

// safeRun calls fn and turns a panic into an error, logging the stack.
func safeRun(log *logger.Logger, name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.ZL.Error().
				Str("goroutine", name).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("worker panicked")
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
	}()
	return fn()
}
