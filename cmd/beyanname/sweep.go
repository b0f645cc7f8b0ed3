package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/beyanname/internal/pipeline"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one recovery sweep and exit",
		Long: `sweep fails processing jobs whose worker has gone silent and runs
pending jobs that were never picked up, then waits for them to finish.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			disp := pipeline.NewDispatcher(a.scheduler, cfg.Pipeline.MaxConcurrentJobs)
			res, err := a.newSweeper(disp).RunOnce(cmd.Context())
			if drainErr := disp.Drain(cmd.Context()); drainErr != nil && err == nil {
				err = drainErr
			}
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}
