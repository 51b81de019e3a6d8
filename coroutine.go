package corun

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Coroutine is a computation that can suspend and resume through the
// Continuation it receives.
//
// Run is invoked from its entry point on every execution cycle. When the
// continuation is Loading, it must retrace the call path it was on when it
// suspended, popping frames until the suspension point is reached, then
// continue normally from there.
type Coroutine interface {
	Run(c *Continuation) error
}

// CoroutineFunc adapts a function to the Coroutine interface.
type CoroutineFunc func(c *Continuation) error

func (f CoroutineFunc) Run(c *Continuation) error { return f(c) }

// Runner drives the execution of a coroutine.
//
// A Runner is not safe for concurrent use: exactly one goroutine may call
// Execute at a time.
type Runner struct {
	coroutine Coroutine
	cont      *Continuation
	logger    zerolog.Logger

	// Set by WithContext, applied after all options.
	context    any
	hasContext bool

	running bool
	err     error
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger the runner reports execution cycles to. The
// default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithContext sets the value shared between the caller and the coroutine,
// see Continuation.Context. It takes precedence over the context of a
// continuation given with WithContinuation, regardless of option order.
func WithContext(v any) Option {
	return func(r *Runner) { r.context, r.hasContext = v, true }
}

// WithContinuation makes the runner start from a previously captured
// continuation, typically one reconstructed with Continuation.Unmarshal.
// The context value of c is kept unless WithContext is also given.
func WithContinuation(c *Continuation) Option {
	return func(r *Runner) {
		if c != nil {
			r.cont = c
		}
	}
}

// New creates a runner for the coroutine co.
func New(co Coroutine, opts ...Option) (*Runner, error) {
	if co == nil {
		return nil, fmt.Errorf("%w: nil coroutine", ErrInvalidArgument)
	}
	if f, ok := co.(CoroutineFunc); ok && f == nil {
		return nil, fmt.Errorf("%w: nil coroutine function", ErrInvalidArgument)
	}
	r := &Runner{
		coroutine: co,
		cont:      new(Continuation),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.hasContext {
		r.cont.context = r.context
	}
	return r, nil
}

// Continuation returns the continuation owned by the runner.
func (r *Runner) Continuation() *Continuation { return r.cont }

// Err returns the failure that stopped the runner, or nil.
func (r *Runner) Err() error { return r.err }

// Reset discards any suspended state and a previous failure. The next call
// to Execute starts the coroutine from its entry point.
func (r *Runner) Reset() {
	if r.running {
		panic("corun: reset called while the coroutine is running")
	}
	r.err = nil
	r.cont.Reset()
}

// Execute starts or resumes the coroutine and runs it until it either
// returns or suspends. It returns true if the coroutine completed, and
// false if it suspended; calling Execute again then resumes it from the
// point where it suspended.
//
// Calling Execute again after it returned true starts the coroutine over
// from its entry point.
//
// When the coroutine fails the error is an *ExecutionError. The frames held
// by the continuation are then unreliable and every later call returns
// ErrIllegalState until the runner is reset.
func (r *Runner) Execute() (done bool, err error) {
	if r.running {
		return false, fmt.Errorf("%w: execute called while the coroutine is running", ErrIllegalState)
	}
	if r.err != nil {
		return false, fmt.Errorf("%w: runner failed previously: %w", ErrIllegalState, r.err)
	}

	c := r.cont
	if c.mode == Saving {
		return false, fmt.Errorf("%w: execute entered in %s mode", ErrIllegalState, c.mode)
	}

	cycle := c.cycles + 1
	r.logger.Debug().
		Int("cycle", cycle).
		Stringer("mode", c.mode).
		Int("depth", c.stack.Len()).
		Msg("executing coroutine")

	err = r.run(cycle)

	if err != nil {
		r.err = err
		r.logger.Error().Err(err).Int("cycle", cycle).Msg("coroutine failed")
		return false, err
	}

	// If the mode was not set to Saving, the coroutine ran to completion.
	if c.mode != Saving {
		r.logger.Debug().Int("cycles", c.cycles).Msg("coroutine completed")
		c.Reset()
		return true, nil
	}

	r.logger.Debug().Int("cycle", cycle).Int("depth", c.stack.Len()).Msg("coroutine suspended")
	c.SetMode(Loading)
	return false, nil
}

func (r *Runner) run(cycle int) (err error) {
	c := r.cont

	// Cleared even when the coroutine exits the goroutine with
	// runtime.Goexit, which recover does not intercept.
	r.running = true
	defer func() { r.running = false }()

	defer func() {
		switch v := recover().(type) {
		case nil:
		default:
			if !Unwinding(v) {
				err = newPanicError(cycle, v)
				return
			}
			if c.mode != Saving {
				err = &ExecutionError{
					Cycle: cycle,
					Cause: protocolViolation("stack unwound in %s mode", c.mode),
				}
				return
			}
			if ferr := c.FinishedExecutionCycle(); ferr != nil {
				err = &ExecutionError{Cycle: cycle, Cause: ferr}
			}
		}
	}()

	if rerr := r.coroutine.Run(c); rerr != nil {
		return &ExecutionError{Cycle: cycle, Cause: rerr}
	}
	if ferr := c.FinishedExecutionCycle(); ferr != nil {
		return &ExecutionError{Cycle: cycle, Cause: ferr}
	}
	return nil
}

// Run executes the coroutine driven by r to completion, calling f after
// each cycle that ended in a suspension. f receives the 1-based number of
// that cycle and may inspect or persist the continuation.
//
// ctx is only checked between cycles: a running cycle is never interrupted.
func Run(ctx context.Context, r *Runner, f func(cycle int) error) error {
	for cycle := 1; ; cycle++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := r.Execute()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if f != nil {
			if err := f(cycle); err != nil {
				return err
			}
		}
	}
}
