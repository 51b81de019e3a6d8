package programs

import (
	"fmt"

	"github.com/stealthrocket/corun"
)

// nested sums the levels of a call chain depth calls deep. The innermost
// call suspends steps times before returning, so resuming it requires
// rebuilding the whole chain.
type nested struct {
	depth int
	steps int
}

func newNested(p Params) (corun.Coroutine, error) {
	if p.Depth < 1 {
		return nil, fmt.Errorf("depth must be at least 1: %d", p.Depth)
	}
	if p.Steps < 0 {
		return nil, fmt.Errorf("steps must not be negative: %d", p.Steps)
	}
	return &nested{depth: p.Depth, steps: p.Steps}, nil
}

func (p *nested) Run(c *corun.Continuation) error {
	sum, err := p.call(c, 1)
	if err != nil {
		return err
	}
	if c.Saving() {
		return nil
	}
	complete(c, sum)
	return nil
}

func (p *nested) call(c *corun.Continuation, level int) (int, error) {
	frame, err := restore(c)
	if err != nil {
		return 0, err
	}

	var suspended int

	switch frame.IP {
	case 1:
		level = int(frame.Get(0).(corun.Int))
		suspended = int(frame.Get(1).(corun.Int))
	case 2:
		level = int(frame.Get(0).(corun.Int))
	}

	if level == p.depth {
		if suspended < p.steps {
			emit(c, level)
			frame.IP = 1
			frame.Set(0, corun.Int(level))
			frame.Set(1, corun.Int(suspended+1))
			c.Suspend(frame)
			return 0, nil
		}
		return level, nil
	}

	sum, err := p.call(c, level+1)
	if err != nil {
		return 0, err
	}
	if c.Saving() {
		frame.IP = 2
		frame.Set(0, corun.Int(level))
		c.PushFrame(frame)
		return 0, nil
	}
	return level + sum, nil
}
