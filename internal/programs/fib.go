package programs

import (
	"fmt"

	"github.com/stealthrocket/corun"
)

// fib yields Fibonacci numbers. Unlike the other programs it does not
// return up the call chain when suspending: yield calls corun.Unwind and
// each caller captures its frame from a deferred function.
type fib struct {
	steps int
}

func newFib(p Params) (corun.Coroutine, error) {
	if p.Steps < 0 {
		return nil, fmt.Errorf("steps must not be negative: %d", p.Steps)
	}
	return &fib{steps: p.Steps}, nil
}

func (p *fib) Run(c *corun.Continuation) error {
	frame, err := restore(c)
	if err != nil {
		return err
	}

	var (
		a, b int
		i    int
	)

	switch frame.IP {
	case 1:
		a = int(frame.Get(0).(corun.Int))
		b = int(frame.Get(1).(corun.Int))
		i = int(frame.Get(2).(corun.Int))
	}

	defer func() {
		if c.Saving() {
			frame.Set(0, corun.Int(a))
			frame.Set(1, corun.Int(b))
			frame.Set(2, corun.Int(i))
			c.PushFrame(frame)
		}
	}()

	switch frame.IP {
	case 0:
		a, b, i = 0, 1, 0
		frame.IP = 1
		fallthrough
	case 1:
		for i < p.steps {
			yield(c, a)
			a, b = b, a+b
			i++
		}
	}

	complete(c, a)
	return nil
}

func yield(c *corun.Continuation, v int) {
	frame, err := restore(c)
	if err != nil {
		panic(err)
	}

	switch frame.IP {
	case 0:
		emit(c, v)
		c.Suspend(corun.Frame{IP: 1})
		corun.Unwind()
	case 1:
	}
}
