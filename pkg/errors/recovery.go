package errors

import (
	"fmt"
	"runtime/debug"
)

// PanicError turns a recovered panic value into a non-retryable handler
// failure that carries the goroutine stack in its details.
func PanicError(recovered interface{}, message string) *Error {
	cause, ok := recovered.(error)
	if !ok {
		cause = fmt.Errorf("panic: %v", recovered)
	}

	return ErrHandler.
		WithMessage(message).
		WithCause(cause).
		WithDetail("panic", true).
		WithDetail("stack_trace", string(debug.Stack())).
		AsFatal()
}

// RecoverPanic is PanicError for deferred recover() results; nil stays nil.
func RecoverPanic(recovered interface{}) error {
	if recovered == nil {
		return nil
	}
	return PanicError(recovered, "panic recovered")
}
