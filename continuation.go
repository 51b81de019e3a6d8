package corun

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Continuation is passed to a coroutine and flows through every function
// of its call chain that may suspend. It records the current mode and the
// frames captured while suspending.
//
// A Continuation belongs to exactly one Runner and must only be used from
// the goroutine driving that runner; it performs no synchronization.
type Continuation struct {
	mode   Mode
	stack  Stack
	cycles int

	// Value shared between the caller of the runner and the coroutine.
	// It is not part of the captured state and survives Reset.
	context any
}

// Mode returns the current mode.
func (c *Continuation) Mode() Mode {
	return c.mode
}

// SetMode sets the current mode.
func (c *Continuation) SetMode(m Mode) {
	if !m.Valid() {
		panic(fmt.Sprintf("corun: invalid continuation mode %d", int(m)))
	}
	c.mode = m
}

// Saving returns true if the coroutine is suspending and unwinding its call
// chain.
func (c *Continuation) Saving() bool { return c.mode == Saving }

// Loading returns true if the coroutine is being resumed and must rebuild
// its call chain from the captured frames.
func (c *Continuation) Loading() bool { return c.mode == Loading }

// Depth returns the number of captured frames.
func (c *Continuation) Depth() int { return c.stack.Len() }

// Cycles returns the number of execution cycles completed since the
// coroutine last started fresh.
func (c *Continuation) Cycles() int { return c.cycles }

// Context returns the value shared with the caller of the runner.
func (c *Continuation) Context() any { return c.context }

// SetContext sets the value shared with the caller of the runner.
func (c *Continuation) SetContext(v any) { c.context = v }

// Suspend marks the start of a suspension: the frame of the function that
// decided to suspend is captured and the mode switches to Saving. Every
// caller up the chain then pushes its own frame with PushFrame and returns,
// so frames are pushed deepest call first. On resume PopFrame hands them
// back shallowest call first, in the order the chain is re-entered.
//
// Suspending while frames are still being loaded breaks the replay
// discipline and panics with ErrProtocolViolation.
func (c *Continuation) Suspend(f Frame) {
	if c.mode == Loading {
		panic(protocolViolation("suspend while %d frames are still loading", c.stack.Len()))
	}
	c.stack.Push(f)
	c.mode = Saving
}

// PushFrame captures the frame of a function unwinding during a save pass.
func (c *Continuation) PushFrame(f Frame) {
	c.stack.Push(f)
}

// PopFrame returns the next frame to restore during a load pass. Frames are
// popped in the reverse order they were pushed. Popping the last frame
// switches the mode back to Normal: the call chain has been rebuilt and
// execution continues past the suspension point.
func (c *Continuation) PopFrame() (Frame, error) {
	if c.mode != Loading {
		return Frame{}, protocolViolation("pop frame in %s mode", c.mode)
	}
	f, err := c.stack.Pop()
	if err != nil {
		return Frame{}, err
	}
	if c.stack.Len() == 0 {
		c.mode = Normal
	}
	return f, nil
}

// FinishedExecutionCycle is called by the runner when the coroutine returned
// without failing. It checks that the frame stack agrees with the mode the
// coroutine left behind.
func (c *Continuation) FinishedExecutionCycle() error {
	switch c.mode {
	case Saving:
		if c.stack.Len() == 0 {
			return protocolViolation("suspended without capturing any frame")
		}
	case Loading:
		return protocolViolation("returned with %d frames left to load", c.stack.Len())
	default:
		if n := c.stack.Len(); n != 0 {
			return protocolViolation("returned normally with %d frames on the stack", n)
		}
	}
	c.cycles++
	return nil
}

// Reset clears the frame stack and sets the mode back to Normal. The next
// execution starts the coroutine from its entry point.
func (c *Continuation) Reset() {
	c.stack.Reset()
	c.mode = Normal
	c.cycles = 0
}

const (
	continuationFieldMode   protowire.Number = 1
	continuationFieldCycles protowire.Number = 2
	continuationFieldStack  protowire.Number = 3
)

// MarshalAppend appends a serialized Continuation to the provided buffer.
// The context value is not serialized.
func (c *Continuation) MarshalAppend(b []byte) ([]byte, error) {
	b = protowire.AppendTag(b, continuationFieldMode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.mode))
	b = protowire.AppendTag(b, continuationFieldCycles, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.cycles))

	sb, err := c.stack.MarshalAppend(nil)
	if err != nil {
		return b, err
	}
	b = protowire.AppendTag(b, continuationFieldStack, protowire.BytesType)
	b = protowire.AppendBytes(b, sb)
	return b, nil
}

// Unmarshal deserializes a Continuation from the provided buffer, returning
// the number of bytes that were read in order to reconstruct the
// continuation. The context value is left untouched.
//
// Snapshots whose mode disagrees with their frames are rejected with an
// error wrapping ErrProtocolViolation, and c is left unchanged.
func (c *Continuation) Unmarshal(b []byte) (int, error) {
	var (
		mode   Mode
		cycles int
		stack  Stack
	)
	n, err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == continuationFieldMode && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 || !Mode(v).Valid() {
				return 0, fmt.Errorf("invalid continuation mode: %v", b)
			}
			mode = Mode(v)
			return n, nil
		case num == continuationFieldCycles && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 || int64(int(v)) < 0 {
				return 0, fmt.Errorf("invalid continuation cycles: %v", b)
			}
			cycles = int(v)
			return n, nil
		case num == continuationFieldStack && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, fmt.Errorf("invalid continuation stack: %w", protowire.ParseError(n))
			}
			if _, err := stack.Unmarshal(v); err != nil {
				return 0, err
			}
			return n, nil
		default:
			return skipField(num, typ, b)
		}
	})
	if err != nil {
		return 0, err
	}
	if err := checkSnapshot(mode, stack.Len()); err != nil {
		return 0, err
	}
	c.mode, c.cycles, c.stack = mode, cycles, stack
	return n, nil
}

// checkSnapshot verifies that a decoded mode agrees with the number of
// frames. Snapshots are taken between cycles, where the continuation is
// either Loading a non-empty stack or Normal with no frames.
func checkSnapshot(mode Mode, depth int) error {
	switch mode {
	case Saving:
		return protocolViolation("snapshot taken in %s mode", mode)
	case Loading:
		if depth == 0 {
			return protocolViolation("snapshot in %s mode has no frames", mode)
		}
	default:
		if depth != 0 {
			return protocolViolation("snapshot in %s mode has %d frames", mode, depth)
		}
	}
	return nil
}
