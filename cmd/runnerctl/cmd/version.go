package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bdobrica/lcsm/common/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the runnerctl version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version.Get().String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
