package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/stealthrocket/corun/checkpoint"
	"github.com/stealthrocket/corun/internal/programs"
)

var (
	stepsFlag     int
	depthFlag     int
	maxCyclesFlag int
)

var runCmd = &cobra.Command{
	Use:       "run PROGRAM",
	Short:     "Run a program from its entry point",
	Long:      "Run a program from its entry point. Available programs:\n\n" + describePrograms(),
	Args:      cobra.ExactArgs(1),
	ValidArgs: programs.Names(),
	RunE:      runCommand,
}

func init() {
	runCmd.Flags().IntVar(&stepsFlag, "steps", 5, "Number of times the program suspends")
	runCmd.Flags().IntVar(&depthFlag, "depth", 3, "Call depth at which nested programs suspend")
	runCmd.Flags().IntVar(&maxCyclesFlag, "max-cycles", 0, "Stop after this many suspensions, leaving a checkpoint (0 runs to completion)")
}

func runCommand(cmd *cobra.Command, args []string) error {
	name := args[0]
	if _, ok := programs.Describe(name); !ok {
		return fmt.Errorf("%w: %q (available: %s)", programs.ErrUnknownProgram, name, strings.Join(programs.Names(), ", "))
	}
	if maxCyclesFlag > 0 && checkpointDir == "" {
		return fmt.Errorf("--max-cycles requires --checkpoint-dir to resume the run later")
	}

	store, err := openStore(checkpointDir)
	if err != nil {
		return err
	}

	params := programs.Params{Steps: stepsFlag, Depth: depthFlag}
	record := checkpoint.NewRecord(name, params.Map())
	s := &session{
		record:    record,
		store:     store,
		maxCycles: maxCyclesFlag,
		logger:    log.With().Str("program", name).Str("run", record.ID.String()).Logger(),
	}

	res, err := s.drive(cmd.Context(), nil)
	if err != nil {
		return err
	}
	report(cmd.OutOrStdout(), name, res)
	return nil
}

func describePrograms() string {
	var sb strings.Builder
	for _, name := range programs.Names() {
		p, _ := programs.Describe(name)
		fmt.Fprintf(&sb, "  %-8s %s\n", name, p.Description)
	}
	return sb.String()
}
