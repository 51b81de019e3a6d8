package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/stealthrocket/corun"
)

var resumeCmd = &cobra.Command{
	Use:   "resume RUN_ID",
	Short: "Resume a run from its last checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  resumeCommand,
}

func init() {
	resumeCmd.Flags().IntVar(&maxCyclesFlag, "max-cycles", 0, "Stop after this many suspensions, leaving a checkpoint (0 runs to completion)")
}

func resumeCommand(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run ID: %w", err)
	}
	store, err := openStore(checkpointDir)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("resume requires --checkpoint-dir")
	}

	record, err := store.Load(id)
	if err != nil {
		return err
	}
	var cont corun.Continuation
	if _, err := cont.Unmarshal(record.State); err != nil {
		return fmt.Errorf("restoring run %s: %w", id, err)
	}

	logger := log.With().Str("program", record.Program).Str("run", id.String()).Logger()
	logger.Info().Int("cycle", record.Cycle).Int("depth", cont.Depth()).Msg("resuming from checkpoint")

	s := &session{
		record:    record,
		store:     store,
		maxCycles: maxCyclesFlag,
		logger:    logger,
	}
	res, err := s.drive(cmd.Context(), &cont)
	if err != nil {
		return err
	}
	report(cmd.OutOrStdout(), record.Program, res)
	return nil
}
