package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"sensorfix/internal/config"
	"sensorfix/internal/httpapi"
)

// cli is the state shared by every subcommand, filled in before any of them
// runs.
type cli struct {
	cfgFile  string
	envFile  string
	fixture  string
	logLevel string

	cfg config.Config
	log zerolog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "sensorfix",
		Short: "Diagnose and repair depth sensor driver defects",
		Long: `sensorfix inspects the device tree for the known failure modes of a
first generation depth sensor and applies the matching repair: removing
driverless nodes, reinstalling the shipped driver bundles and rescanning.

Pass --fixture to run against a YAML device tree without touching the OS.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(c.envFile); err != nil {
				return err
			}
			path := c.cfgFile
			if path == "" {
				path = os.Getenv("SENSORFIX_CONFIG")
			}
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if c.fixture != "" {
				cfg.Fixture = c.fixture
			}
			if c.logLevel != "" {
				cfg.LogLevel = c.logLevel
			}
			c.cfg = cfg
			c.log = httpapi.NewLogger(cfg.LogLevel)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "path to a YAML config file (default $SENSORFIX_CONFIG)")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file exported before the config is read")
	root.PersistentFlags().StringVar(&c.fixture, "fixture", "", "use a YAML device tree instead of the live one")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	root.AddCommand(
		newDevicesCmd(c),
		newDiagnoseCmd(c),
		newRepairCmd(c),
		newStatusCmd(c),
		newServeCmd(c),
	)
	return root
}
