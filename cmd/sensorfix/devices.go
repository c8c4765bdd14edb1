package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sensorfix/internal/devtree"
)

func newDevicesCmd(c *cli) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List sensor and driverless nodes in the device tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := c.engine()
			if err != nil {
				return err
			}
			snap, err := devtree.Enumerate(cmd.Context(), e.manager, c.log)
			if err != nil {
				return err
			}

			var rows [][]string
			for _, n := range snap.Nodes() {
				role := ""
				for _, id := range n.HardwareIDs {
					if r, ok := e.catalog.RoleOf(id); ok {
						role = string(r)
						break
					}
				}
				if !all && role == "" && !n.InClass(devtree.ClassUnknown) && !n.InClass(e.catalog.SensorClass()) {
					continue
				}
				_, problem := n.Status()
				state := verdict(!n.Malfunctioning(), "ok", problem.String())
				if n.Disabled() {
					state = badStyle.Render("disabled")
				}
				rows = append(rows, []string{n.Label(), role, className(n), state, n.InstanceID})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%d of %d nodes", len(rows), snap.Len())))
			table(out, []string{"DEVICE", "ROLE", "CLASS", "STATE", "INSTANCE"}, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list every node, not only sensor and driverless ones")
	return cmd
}

func className(n *devtree.Node) string {
	switch {
	case n.InClass(devtree.ClassUnknown):
		return "Unknown"
	case n.ClassName != "":
		return n.ClassName
	default:
		return n.ClassGUID
	}
}
