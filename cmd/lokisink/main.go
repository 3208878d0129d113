package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/lokisink/internal/cli"
	"github.com/ppiankov/lokisink/internal/config"
)

var version = "dev"

var (
	cfg        *config.Config
	verbose    bool
	jsonErrors bool
)

func main() {
	if err := execute(); err != nil {
		err = cli.Classify(err)
		cli.FormatError(os.Stderr, err, jsonErrors)
		os.Exit(cli.ExitCode(err))
	}
}

func execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lokisink",
		Short:         "Batch and ship log lines to Grafana Loki",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
			if !cmd.Flags().Changed("verbose") && cfg.Defaults.Verbose {
				verbose = true
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().BoolVar(&jsonErrors, "json-errors", false, "print errors as JSON")

	root.AddCommand(newShipCmd())
	root.AddCommand(newRecvCmd())
	root.AddCommand(newCompletionCmd())
	return root
}
