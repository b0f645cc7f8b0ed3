package main

import (
	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/beyanname/internal/config"
)

type rootOptions struct {
	configFile string
	inMemory   bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "beyanname",
		Short: "Asynchronous analysis of tax declarations",
		Long: `beyanname runs analysis jobs for tax declarations (beyanname).

Clients enqueue a declaration payload over HTTP; workers send it to the
configured language model, store the analysis, and render a PDF report.
Configuration comes from environment variables, optionally layered over
a YAML file passed with --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML config file (keys are lower-cased env names)")
	cmd.PersistentFlags().BoolVar(&opts.inMemory, "in-memory", false, "use in-process store and cache instead of Postgres and Redis")

	cmd.AddCommand(
		newServeCmd(opts),
		newSweepCmd(opts),
		newMigrateCmd(opts),
		newProcessCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	var overrides []config.Option
	if o.inMemory {
		overrides = append(overrides, config.WithOverride("beyanname_in_memory", true))
	}
	return config.Load(o.configFile, overrides...)
}
