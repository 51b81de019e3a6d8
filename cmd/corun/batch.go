package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/stealthrocket/corun/checkpoint"
	"github.com/stealthrocket/corun/internal/programs"
	"golang.org/x/sync/errgroup"
)

// batchConfig is the TOML file accepted by the batch command:
//
//	checkpoint_dir = "state"
//	parallel = 2
//
//	[[job]]
//	name = "count"
//	program = "counter"
//	steps = 10
//	max_cycles = 4
type batchConfig struct {
	CheckpointDir string      `toml:"checkpoint_dir"`
	Parallel      int         `toml:"parallel"`
	Jobs          []jobConfig `toml:"job"`
}

type jobConfig struct {
	Name      string `toml:"name"`
	Program   string `toml:"program"`
	MaxCycles int    `toml:"max_cycles"`
	programs.Params
}

func parseBatchConfig(r io.Reader) (*batchConfig, error) {
	var cfg batchConfig
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown configuration keys: %v", undecoded)
	}
	if len(cfg.Jobs) == 0 {
		return nil, fmt.Errorf("no jobs configured")
	}

	seen := make(map[string]bool)
	for i := range cfg.Jobs {
		job := &cfg.Jobs[i]
		if _, ok := programs.Describe(job.Program); !ok {
			return nil, fmt.Errorf("job %d: %w: %q", i, programs.ErrUnknownProgram, job.Program)
		}
		if job.Name == "" {
			job.Name = fmt.Sprintf("%s-%d", job.Program, i)
		}
		if seen[job.Name] {
			return nil, fmt.Errorf("job %d: duplicate name %q", i, job.Name)
		}
		seen[job.Name] = true
	}
	return &cfg, nil
}

func loadBatchConfig(path string) (*batchConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cfg, err := parseBatchConfig(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

var batchCmd = &cobra.Command{
	Use:   "batch CONFIG",
	Short: "Run the jobs listed in a TOML file, each with its own runner",
	Args:  cobra.ExactArgs(1),
	RunE:  batchCommand,
}

func batchCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadBatchConfig(args[0])
	if err != nil {
		return err
	}
	dir := cfg.CheckpointDir
	if checkpointDir != "" {
		dir = checkpointDir
	}
	store, err := openStore(dir)
	if err != nil {
		return err
	}

	if store == nil {
		for _, job := range cfg.Jobs {
			if job.MaxCycles > 0 {
				return fmt.Errorf("job %s: max_cycles requires a checkpoint directory", job.Name)
			}
		}
	}

	results, err := runBatch(cmd.Context(), cfg, store)
	for i, res := range results {
		if res.output != nil {
			report(cmd.OutOrStdout(), cfg.Jobs[i].Name, res)
		}
	}
	return err
}

// runBatch drives every job to completion. Each job owns its runner, so
// runners are never shared between goroutines.
func runBatch(ctx context.Context, cfg *batchConfig, store checkpoint.Store) ([]outcome, error) {
	results := make([]outcome, len(cfg.Jobs))

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Parallel > 0 {
		g.SetLimit(cfg.Parallel)
	}
	for i, job := range cfg.Jobs {
		i, job := i, job
		g.Go(func() error {
			record := checkpoint.NewRecord(job.Program, job.Params.Map())
			s := &session{
				record:    record,
				store:     store,
				maxCycles: job.MaxCycles,
				logger:    log.With().Str("job", job.Name).Str("run", record.ID.String()).Logger(),
			}
			res, err := s.drive(ctx, nil)
			if err != nil {
				return fmt.Errorf("job %s: %w", job.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	return results, g.Wait()
}
