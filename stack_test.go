package corun

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestStackPushPop(t *testing.T) {
	var s Stack
	for ip := 0; ip < 4; ip++ {
		s.Push(Frame{IP: ip})
	}

	top, err := s.Top()
	if err != nil {
		t.Fatal(err)
	}
	if top.IP != 3 {
		t.Errorf("wrong top frame: want=3 got=%d", top.IP)
	}

	var popped []int
	for s.Len() > 0 {
		f, err := s.Pop()
		if err != nil {
			t.Fatal(err)
		}
		popped = append(popped, f.IP)
	}
	if diff := cmp.Diff([]int{3, 2, 1, 0}, popped); diff != "" {
		t.Errorf("pop order mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.Pop(); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("wrong error popping an empty stack: %v", err)
	}
	if _, err := s.Top(); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("wrong error peeking an empty stack: %v", err)
	}
}

func TestStackReset(t *testing.T) {
	s := Stack{Frames: []Frame{{IP: 1}, {IP: 2}}}
	s.Reset()
	if s.Len() != 0 {
		t.Errorf("frames left after reset: %d", s.Len())
	}
}

func TestContinuationSerialization(t *testing.T) {
	original := Continuation{
		mode:   Loading,
		cycles: 7,
		stack: Stack{
			Frames: []Frame{
				{
					IP: 3,
					Storage: NewStorage([]any{
						1: Int(3),
						5: Int(-1),
					}),
				},
				{
					IP: 5,
					Storage: NewStorage([]any{
						0: String("hello"),
						2: Int(math.MaxInt),
						3: Bool(true),
						4: Bytes("\x00\x01"),
					}),
				},
				{
					IP: -1,
				},
			},
		},
	}

	b, err := original.MarshalAppend(nil)
	if err != nil {
		t.Fatal(err)
	}

	var reconstructed Continuation
	if n, err := reconstructed.Unmarshal(b); err != nil {
		t.Fatal(err)
	} else if n != len(b) {
		t.Errorf("not all bytes were consumed when reconstructing the Continuation: got %d, expected %d", n, len(b))
	}

	opts := []cmp.Option{
		cmp.AllowUnexported(Continuation{}, Storage{}),
		cmpopts.EquateEmpty(),
	}
	if diff := cmp.Diff(original, reconstructed, opts...); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestContinuationSerializationErrors(t *testing.T) {
	type notSerializable struct{}

	c := Continuation{mode: Loading}
	f := Frame{}
	f.Set(0, notSerializable{})
	c.stack.Push(f)

	if _, err := c.MarshalAppend(nil); err == nil {
		t.Error("expected an error serializing an unsupported local")
	}

	for _, b := range [][]byte{
		{0x08},       // truncated mode
		{0x08, 0x09}, // invalid mode
		{0x1a, 0x05}, // truncated stack
	} {
		var c Continuation
		if _, err := c.Unmarshal(b); err == nil {
			t.Errorf("expected an error decoding %x", b)
		}
	}
}

func TestContinuationSnapshotModeMismatch(t *testing.T) {
	tests := []struct {
		name   string
		mode   Mode
		frames []Frame
	}{
		{name: "normal with frames", mode: Normal, frames: []Frame{{IP: 1}}},
		{name: "loading without frames", mode: Loading},
		{name: "saving", mode: Saving, frames: []Frame{{IP: 1}}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := Continuation{mode: test.mode, stack: Stack{Frames: test.frames}}
			b, err := c.MarshalAppend(nil)
			if err != nil {
				t.Fatal(err)
			}

			restored := Continuation{cycles: 42}
			if _, err := restored.Unmarshal(b); !errors.Is(err, ErrProtocolViolation) {
				t.Fatalf("expected a protocol violation, got %v", err)
			}
			if restored.Cycles() != 42 || restored.Depth() != 0 {
				t.Errorf("continuation modified by a rejected snapshot: cycles=%d depth=%d", restored.Cycles(), restored.Depth())
			}
		})
	}

	var c Continuation
	if _, err := c.Unmarshal(nil); err != nil {
		t.Errorf("empty snapshot of a fresh continuation rejected: %v", err)
	}
}

func TestStorage(t *testing.T) {
	var s Storage
	s.Set(2, Int(1))
	if !s.Has(2) || s.Has(1) || s.Has(-1) || s.Has(3) {
		t.Errorf("wrong slots: %#v", s)
	}
	if s.Len() != 3 {
		t.Errorf("wrong length: want=3 got=%d", s.Len())
	}
	if v := s.Get(2); v != Int(1) {
		t.Errorf("wrong value: %v", v)
	}
	s.Delete(2)
	if s.Has(2) {
		t.Error("slot still set after delete")
	}

	defer func() {
		if recover() == nil {
			t.Error("expected a panic reading a missing slot")
		}
	}()
	s.Get(2)
}
