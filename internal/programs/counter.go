package programs

import (
	"fmt"

	"github.com/stealthrocket/corun"
)

type counter struct {
	steps int
}

func newCounter(p Params) (corun.Coroutine, error) {
	if p.Steps < 0 {
		return nil, fmt.Errorf("steps must not be negative: %d", p.Steps)
	}
	return &counter{steps: p.Steps}, nil
}

func (p *counter) Run(c *corun.Continuation) error {
	frame, err := restore(c)
	if err != nil {
		return err
	}

	// variable declaration
	var (
		i int
	)

	// state restoration
	switch frame.IP {
	case 1:
		i = int(frame.Get(0).(corun.Int))
	}

	switch frame.IP {
	case 0:
		i = 0
		fallthrough
	case 1:
		if i < p.steps {
			emit(c, i)

			// state capture; execution resumes with the next number
			frame.IP = 1
			frame.Set(0, corun.Int(i+1))
			c.Suspend(frame)
			return nil
		}
	}

	complete(c, i)
	return nil
}
