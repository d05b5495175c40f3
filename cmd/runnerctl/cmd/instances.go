package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bdobrica/lcsm/internal/runner/protocol"
	"github.com/bdobrica/lcsm/internal/runner/rpc"
)

var instancesCmd = &cobra.Command{
	Use:     "instances",
	Aliases: []string{"instance", "i"},
	Short:   "Manage instances on the runner",
}

var listInstancesCmd = &cobra.Command{
	Use:   "list",
	Short: "List instances",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(c *rpc.Client) error {
			list, err := c.ListInstances(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				cmd.Println("No instances.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATE")
			for _, inst := range list {
				fmt.Fprintf(w, "%d\t%s\t%s\n", inst.ID, inst.Name, state(inst.IsRunning))
			}
			return w.Flush()
		})
	},
}

var getInstanceCmd = &cobra.Command{
	Use:   "get [instance_id]",
	Short: "Show one instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withClient(cmd.Context(), func(c *rpc.Client) error {
			inst, err := c.GetInstance(cmd.Context(), id)
			if err != nil {
				return err
			}
			printInstance(cmd, inst)
			return nil
		})
	},
}

var createInstanceCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an instance",
	Long: `Create an instance. Without --dir the runner provisions a fresh
working directory under its data directory.

Example:
  runnerctl instances create --name web --command "nginx -g 'daemon off;'"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		in := protocol.Instance{}
		in.Name, _ = flags.GetString("name")
		in.LaunchCommand, _ = flags.GetString("command")
		in.WorkingDirectory, _ = flags.GetString("dir")

		return withClient(cmd.Context(), func(c *rpc.Client) error {
			inst, err := c.CreateInstance(cmd.Context(), in)
			if err != nil {
				return err
			}
			cmd.Printf("✓ Instance created!\nID: %d\nName: %s\n", inst.ID, inst.Name)
			return nil
		})
	},
}

var updateInstanceCmd = &cobra.Command{
	Use:   "update [instance_id]",
	Short: "Change an instance's configuration",
	Long:  `Change an instance's configuration. Only the given flags are changed; --dir "" resets the working directory to the default one.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		return withClient(cmd.Context(), func(c *rpc.Client) error {
			inst, err := c.GetInstance(cmd.Context(), id)
			if err != nil {
				return err
			}
			if flags.Changed("name") {
				inst.Name, _ = flags.GetString("name")
			}
			if flags.Changed("command") {
				inst.LaunchCommand, _ = flags.GetString("command")
			}
			if flags.Changed("dir") {
				inst.WorkingDirectory, _ = flags.GetString("dir")
			}
			if err := c.UpdateInstance(cmd.Context(), *inst); err != nil {
				return err
			}
			cmd.Printf("✓ Instance %d updated\n", id)
			return nil
		})
	},
}

// idCommand builds a command that sends one id-only action.
func idCommand(use, short, done string, call func(c *rpc.Client, cmd *cobra.Command, id int) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [instance_id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd.Context(), func(c *rpc.Client) error {
				if err := call(c, cmd, id); err != nil {
					return err
				}
				cmd.Printf("✓ Instance %d %s\n", id, done)
				return nil
			})
		},
	}
}

func printInstance(cmd *cobra.Command, inst *protocol.Instance) {
	dir := inst.WorkingDirectory
	if dir == "" {
		dir = "(default)"
	}
	cmd.Printf("ID:        %d\n", inst.ID)
	cmd.Printf("Name:      %s\n", inst.Name)
	cmd.Printf("Command:   %s\n", inst.LaunchCommand)
	cmd.Printf("Directory: %s\n", dir)
	cmd.Printf("State:     %s\n", state(inst.IsRunning))
}

func state(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}

func init() {
	for _, c := range []*cobra.Command{createInstanceCmd, updateInstanceCmd} {
		flags := c.Flags()
		flags.StringP("name", "n", "", "instance name (default \"Untitled\")")
		flags.StringP("command", "c", "", "launch command line")
		flags.StringP("dir", "d", "", "working directory (default: provisioned by the runner)")
	}

	instancesCmd.AddCommand(
		listInstancesCmd,
		getInstanceCmd,
		createInstanceCmd,
		updateInstanceCmd,
		idCommand("delete", "Delete an instance record", "deleted", func(c *rpc.Client, cmd *cobra.Command, id int) error {
			return c.DeleteInstance(cmd.Context(), id)
		}),
		idCommand("start", "Start an instance's process", "started", func(c *rpc.Client, cmd *cobra.Command, id int) error {
			return c.StartInstance(cmd.Context(), id)
		}),
		idCommand("stop", "Stop an instance's process gracefully", "stopped", func(c *rpc.Client, cmd *cobra.Command, id int) error {
			return c.StopInstance(cmd.Context(), id)
		}),
		idCommand("terminate", "Kill an instance's process", "terminated", func(c *rpc.Client, cmd *cobra.Command, id int) error {
			return c.TerminateInstance(cmd.Context(), id)
		}),
	)
	rootCmd.AddCommand(instancesCmd)
}
