package corun

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
)

var (
	// ErrInvalidArgument is returned when constructing a runner without a
	// coroutine.
	ErrInvalidArgument = errors.New("corun: invalid argument")

	// ErrProtocolViolation signals that the coroutine broke the save/restore
	// contract, for example by popping a frame that was never pushed. It is
	// a programming error in the instrumented code.
	ErrProtocolViolation = errors.New("corun: protocol violation")

	// ErrIllegalState is returned when a runner is used in a way its state
	// machine does not allow: after a failure, re-entrantly from its own
	// coroutine, or while its continuation is still saving.
	ErrIllegalState = errors.New("corun: illegal state")
)

// ExecutionError is returned by Runner.Execute when the coroutine failed,
// either by returning an error or by panicking.
//
// After an ExecutionError the frames held by the continuation may be
// partially pushed or popped; the runner refuses to execute again until it
// is reset.
type ExecutionError struct {
	// Cycle is the 1-based execution cycle, counted from the last fresh
	// start, during which the failure occurred.
	Cycle int

	// Cause is the error returned by the coroutine, or the error derived
	// from the panic value.
	Cause error

	// Panic holds the recovered value when the coroutine panicked, and
	// Stack the goroutine stack at that point.
	Panic any
	Stack []byte
}

func (e *ExecutionError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("corun: coroutine panicked during cycle %d: %v", e.Cycle, e.Cause)
	}
	return fmt.Sprintf("corun: coroutine failed during cycle %d: %v", e.Cycle, e.Cause)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// ErrorWithStack renders the error followed by the stack captured when the
// coroutine panicked, if any.
func (e *ExecutionError) ErrorWithStack() string {
	if len(e.Stack) == 0 {
		return e.Error()
	}
	var sb strings.Builder
	sb.WriteString(e.Error())
	sb.WriteString("\n\n")
	sb.Write(e.Stack)
	return sb.String()
}

func newPanicError(cycle int, v any) *ExecutionError {
	cause, ok := v.(error)
	if !ok {
		cause = fmt.Errorf("%v", v)
	}
	return &ExecutionError{
		Cycle: cycle,
		Cause: cause,
		Panic: v,
		Stack: debug.Stack(),
	}
}

func protocolViolation(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrProtocolViolation}, args...)...)
}
