package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "runnerctl",
	Short: "runnerctl manages instances on an LCSM runner",
	Long: `runnerctl is the command-line interface for LCSM runners.

A runner hosts named instances: a launch command plus a working directory,
started and stopped as supervised OS processes. runnerctl speaks the runner
protocol directly over TCP.

Common workflows:

  Create an instance:
    runnerctl instances create --name web --command "nginx -g 'daemon off;'"

  Start it and check it is running:
    runnerctl instances start 1
    runnerctl instances get 1

  Stop it gracefully, or kill it:
    runnerctl instances stop 1
    runnerctl instances terminate 1

Configuration:
  Set the runner address via flags, environment variables or a config file:
    LCSM_ADDR       runner protocol address (default: 127.0.0.1:8008)
    LCSM_TIMEOUT    per-request timeout (default: 30s)`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			// Search config in home directory with name ".runnerctl"
			viper.AddConfigPath(home)
			viper.SetConfigName(".runnerctl")
			viper.SetConfigType("yaml")
		}
	}

	// Read environment variables that match "LCSM_VARNAME"
	viper.SetEnvPrefix("LCSM")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.runnerctl.yaml)")

	rootCmd.PersistentFlags().String("addr", "127.0.0.1:8008", "runner protocol address")
	_ = viper.BindPFlag("addr", rootCmd.PersistentFlags().Lookup("addr"))

	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "per-request timeout")
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))

	rootCmd.PersistentFlags().Int("retries", 3, "connection attempts before giving up")
	_ = viper.BindPFlag("retries", rootCmd.PersistentFlags().Lookup("retries"))
}
