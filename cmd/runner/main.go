// Runner is the LCSM runner daemon.
//
// It hosts instances (named launch commands with a working directory),
// persists their configuration in SQLite and serves the runner protocol over
// TCP. Configuration comes from an optional YAML file given with --config
// and from environment variables; see internal/runner/config for the list.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bdobrica/lcsm/common/version"
	"github.com/bdobrica/lcsm/internal/runner/app"
	"github.com/bdobrica/lcsm/internal/runner/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	var showVersion bool

	cmd := &cobra.Command{
		Use:          "runner",
		Short:        "LCSM runner daemon",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
				return nil
			}

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			runner, err := app.New(cfg)
			if err != nil {
				slog.Error("failed to initialize runner", "err", err)
				return err
			}
			if err := runner.Run(); err != nil {
				slog.Error("runner exited with error", "err", err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgFile, "config", "c", "", "path to a YAML config file")
	cmd.Flags().BoolVar(&showVersion, "version", false, "print the version and exit")
	return cmd
}
