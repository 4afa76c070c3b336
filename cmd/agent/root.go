package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/it-novum/openitcockpit-agent-sub000/internal/config"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/otel"
)

// cli holds the state shared by the subcommands.
type cli struct {
	out      io.Writer
	logOut   io.Writer
	cfgFile  string
	logLevel string
	cfg      *config.Config
	logger   *slog.Logger
}

func newRootCmd(out, logOut io.Writer) *cobra.Command {
	c := &cli{out: out, logOut: logOut}

	root := &cobra.Command{
		Use:   "agent",
		Short: "openITCOCKPIT monitoring agent",
		Long: `The openITCOCKPIT agent collects system metrics and custom check
results and serves them over HTTP, or pushes them to an openITCOCKPIT
server.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd.Context())
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "path to config file (YAML)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		return c.init(cmd.Flags().Changed("log-level"))
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the agent until it is stopped",
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.run(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "csr",
			Short: "Write a new certificate signing request and print it",
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.csr()
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the agent version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(out, "openitcockpit-agent %s\n", version)
			},
		},
	)
	return root
}

// init loads the configuration and sets up the logger. The --log-level
// flag takes precedence over the config file.
func (c *cli) init(levelFlagSet bool) error {
	cfg, err := config.Load(c.cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := c.logLevel
	if !levelFlagSet {
		level = cfg.Telemetry.LogLevel
		if cfg.Default.Verbose {
			level = "debug"
		}
	}
	cfg.Telemetry.LogLevel = level

	c.cfg = cfg
	c.logger = otel.NewLogger(c.logOut, level)
	slog.SetDefault(c.logger)
	return nil
}
