package corun

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Stack is the captured call stack of a suspended coroutine.
//
// Frames are pushed while the call chain unwinds during a save pass and
// popped in the reverse order while it is rebuilt during a load pass.
type Stack struct {
	// Frames is the set of captured frames, in the order they were pushed.
	Frames []Frame
}

// Len returns the number of frames on the stack.
func (s *Stack) Len() int {
	return len(s.Frames)
}

// Push appends a frame to the top of the stack.
func (s *Stack) Push(f Frame) {
	s.Frames = append(s.Frames, f)
}

// Pop removes and returns the frame on top of the stack, which is the last
// one that was pushed and not yet popped.
func (s *Stack) Pop() (Frame, error) {
	if len(s.Frames) == 0 {
		return Frame{}, protocolViolation("pop from an empty frame stack")
	}
	i := len(s.Frames) - 1
	f := s.Frames[i]
	s.Frames[i] = Frame{}
	s.Frames = s.Frames[:i]
	return f, nil
}

// Top returns the frame on top of the stack without removing it.
func (s *Stack) Top() (*Frame, error) {
	if len(s.Frames) == 0 {
		return nil, protocolViolation("no stack frames")
	}
	return &s.Frames[len(s.Frames)-1], nil
}

// Reset drops all frames.
func (s *Stack) Reset() {
	clear(s.Frames)
	s.Frames = s.Frames[:0]
}

const (
	stackFieldFrame protowire.Number = 1
)

// MarshalAppend appends a serialized Stack to the provided buffer.
func (s *Stack) MarshalAppend(b []byte) ([]byte, error) {
	for i := range s.Frames {
		fb, err := s.Frames[i].MarshalAppend(nil)
		if err != nil {
			return b, fmt.Errorf("frame %d: %w", i, err)
		}
		b = protowire.AppendTag(b, stackFieldFrame, protowire.BytesType)
		b = protowire.AppendBytes(b, fb)
	}
	return b, nil
}

// Unmarshal deserializes a Stack from the provided buffer, returning
// the number of bytes that were read in order to reconstruct the
// stack.
func (s *Stack) Unmarshal(b []byte) (int, error) {
	var frames []Frame
	n, err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != stackFieldFrame || typ != protowire.BytesType {
			return skipField(num, typ, b)
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, fmt.Errorf("invalid stack frame: %w", protowire.ParseError(n))
		}
		var f Frame
		if _, err := f.Unmarshal(v); err != nil {
			return 0, fmt.Errorf("frame %d: %w", len(frames), err)
		}
		frames = append(frames, f)
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	s.Frames = frames
	return n, nil
}

// Frame is a stack frame.
//
// A frame is captured when a function suspends and consumed when the
// function is re-entered on resume. It holds the position of execution
// within that function and the locals needed to continue from there. What
// the IP and the storage slots mean is up to the instrumented code.
type Frame struct {
	// IP is the instruction pointer.
	IP int

	// Storage holds the local variables of the frame.
	Storage
}

const (
	frameFieldIP      protowire.Number = 1
	frameFieldStorage protowire.Number = 2
)

// MarshalAppend appends a serialized Frame to the provided buffer.
func (f *Frame) MarshalAppend(b []byte) ([]byte, error) {
	b = protowire.AppendTag(b, frameFieldIP, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(f.IP)))

	sb, err := f.Storage.MarshalAppend(nil)
	if err != nil {
		return b, err
	}
	b = protowire.AppendTag(b, frameFieldStorage, protowire.BytesType)
	b = protowire.AppendBytes(b, sb)
	return b, nil
}

// Unmarshal deserializes a Frame from the provided buffer, returning
// the number of bytes that were read in order to reconstruct the
// frame.
func (f *Frame) Unmarshal(b []byte) (int, error) {
	var (
		ip      int64
		storage Storage
	)
	n, err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == frameFieldIP && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, fmt.Errorf("invalid frame instruction pointer: %w", protowire.ParseError(n))
			}
			ip = protowire.DecodeZigZag(v)
			if int64(int(ip)) != ip {
				return 0, fmt.Errorf("invalid frame instruction pointer: %d", ip)
			}
			return n, nil
		case num == frameFieldStorage && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, fmt.Errorf("invalid frame storage: %w", protowire.ParseError(n))
			}
			if _, err := storage.Unmarshal(v); err != nil {
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
	f.IP = int(ip)
	f.Storage = storage
	return n, nil
}

// consumeFields walks the protobuf fields in b, calling fn with the bytes
// following each tag. fn returns how many of those bytes the field used.
func consumeFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) (int, error) {
	n := 0
	for n < len(b) {
		num, typ, tn := protowire.ConsumeTag(b[n:])
		if tn < 0 {
			return 0, fmt.Errorf("invalid field tag: %w", protowire.ParseError(tn))
		}
		n += tn
		vn, err := fn(num, typ, b[n:])
		if err != nil {
			return 0, err
		}
		n += vn
	}
	return n, nil
}

func skipField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, fmt.Errorf("invalid field %d: %w", num, protowire.ParseError(n))
	}
	return n, nil
}
