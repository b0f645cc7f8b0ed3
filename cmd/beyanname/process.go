package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/beyanname/internal/pipeline"
)

func newProcessCmd(opts *rootOptions) *cobra.Command {
	var ownerID string
	cmd := &cobra.Command{
		Use:   "process <job-id>",
		Short: "Pick up one pending job, process it in the foreground and print its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ownerID == "" {
				return errors.New("--owner is required")
			}
			cfg, err := opts.load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			return processJob(cmd, a.scheduler, args[0], ownerID)
		},
	}
	cmd.Flags().StringVar(&ownerID, "owner", "", "owner of the job")
	return cmd
}

func processJob(cmd *cobra.Command, sched *pipeline.Scheduler, jobID, ownerID string) error {
	if err := sched.PickupAndProcess(cmd.Context(), jobID, ownerID); err != nil {
		return fmt.Errorf("process job %s: %w", jobID, err)
	}
	view, err := sched.Status(cmd.Context(), jobID, ownerID, true)
	if err != nil {
		return fmt.Errorf("job status: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}
