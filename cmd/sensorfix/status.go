package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sensorfix/internal/locale"
	"sensorfix/internal/probe"
)

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sensor runtime's device status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := c.engine()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			status, err := e.probe.DeviceStatus(cmd.Context())
			if err != nil {
				fmt.Fprintf(out, "%s  %s\n", warnStyle.Render("unknown"), err)
				return nil
			}

			desc := locale.Lookup(e.strings, status.LocaleKey())
			fmt.Fprintf(out, "%s  %s\n", verdict(status == probe.StatusSuccess, status.String(), status.String()), desc)
			if status != probe.StatusSuccess {
				fmt.Fprintf(out, "    %s\n", dimStyle.Render(status.DocsURL(c.cfg.Language)))
			}
			return nil
		},
	}
}
