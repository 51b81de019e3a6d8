package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gookit/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stealthrocket/corun"
	"github.com/stealthrocket/corun/checkpoint"
	"github.com/stealthrocket/corun/internal/programs"
)

var errCycleLimit = errors.New("cycle limit reached")

// session drives one run of a program, saving a checkpoint after every
// suspension when it has a store.
type session struct {
	record    checkpoint.Record
	store     checkpoint.Store
	maxCycles int
	logger    zerolog.Logger
}

type outcome struct {
	record    checkpoint.Record
	output    *programs.Output
	suspended bool
}

// drive runs the program until it completes, fails, or has suspended
// maxCycles times. A non-nil cont resumes a previously captured run.
func (s *session) drive(ctx context.Context, cont *corun.Continuation) (outcome, error) {
	res := outcome{output: &programs.Output{}}

	co, err := programs.Lookup(s.record.Program, programs.ParamsFromMap(s.record.Params))
	if err != nil {
		return res, err
	}

	opts := []corun.Option{corun.WithLogger(s.logger)}
	if cont != nil {
		opts = append(opts, corun.WithContinuation(cont))
	}
	opts = append(opts, corun.WithContext(res.output))

	r, err := corun.New(co, opts...)
	if err != nil {
		return res, err
	}

	suspensions := 0
	err = corun.Run(ctx, r, func(int) error {
		c := r.Continuation()
		suspensions++

		event := s.logger.Info().Int("cycle", c.Cycles()).Int("depth", c.Depth())
		if n := len(res.output.Values); n > 0 {
			event = event.Int("value", res.output.Values[n-1])
		}
		event.Msg("coroutine suspended")

		if s.store != nil {
			state, err := c.MarshalAppend(nil)
			if err != nil {
				return fmt.Errorf("capturing state: %w", err)
			}
			s.record = s.record.Update(c.Cycles(), state)
			if err := s.store.Save(s.record); err != nil {
				return err
			}
		}
		if s.maxCycles > 0 && suspensions >= s.maxCycles {
			return errCycleLimit
		}
		return nil
	})
	res.record = s.record

	switch {
	case errors.Is(err, errCycleLimit):
		res.suspended = true
		return res, nil
	case err != nil:
		return res, err
	}

	s.logger.Info().Int("result", res.output.Result).Msg("coroutine completed")
	if s.store != nil {
		if err := s.store.Delete(s.record.ID); err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
			return res, err
		}
	}
	return res, nil
}

func report(w io.Writer, name string, res outcome) {
	if res.suspended {
		fmt.Fprintln(w, color.Yellow.Sprintf("%s: suspended after cycle %d", name, res.record.Cycle))
		fmt.Fprintf(w, "  resume with: corun resume %s\n", res.record.ID)
		return
	}
	fmt.Fprintln(w, color.Green.Sprintf("%s: completed with result %d", name, res.output.Result))
	if len(res.output.Values) > 0 {
		fmt.Fprintf(w, "  values: %v\n", res.output.Values)
	}
}

// openStore returns the checkpoint store selected by --checkpoint-dir, or
// nil when checkpoints are disabled.
func openStore(dir string) (checkpoint.Store, error) {
	if dir == "" {
		return nil, nil
	}
	d, err := checkpoint.NewDirStore(dir, log.Logger)
	if err != nil {
		return nil, err
	}
	return checkpoint.NewLRU(d, 128), nil
}
