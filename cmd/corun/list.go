package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the runs that can be resumed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(checkpointDir)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("list requires --checkpoint-dir")
		}

		ids, err := store.List()
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, id := range ids {
			r, err := store.Load(id)
			if err != nil {
				fmt.Fprintf(w, "%s  error: %v\n", id, err)
				continue
			}
			fmt.Fprintf(w, "%s  %-8s cycle %-4d %s\n", id, r.Program, r.Cycle, r.CreatedAt.Local().Format(time.DateTime))
		}
		return nil
	},
}
