package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bdobrica/lcsm/internal/runner/rpc"
)

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "List container images on the runner host",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(c *rpc.Client) error {
			list, err := c.ListImages(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTAGS\tSIZE\tCREATED")
			for _, img := range list {
				tags := strings.Join(img.Tags, ",")
				if tags == "" {
					tags = "<none>"
				}
				created := time.Unix(img.Created, 0).UTC().Format(time.DateOnly)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", shortID(img.ID), tags, formatSize(img.Size), created)
			}
			return w.Flush()
		})
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the runner answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(c *rpc.Client) error {
			start := time.Now()
			if err := c.Ping(cmd.Context()); err != nil {
				return err
			}
			cmd.Printf("✓ Runner is up (%s)\n", time.Since(start).Round(time.Microsecond))
			return nil
		})
	},
}

func shortID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func formatSize(n int64) string {
	const unit = 1000
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(n)/float64(div), "kMGTPE"[exp])
}

func init() {
	rootCmd.AddCommand(imagesCmd, pingCmd)
}
