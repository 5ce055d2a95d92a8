package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/devscope/internal/app"
	"github.com/dshills/devscope/internal/config"
	"github.com/dshills/devscope/internal/logging"
)

// cli holds state shared by every command.
type cli struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "devscope",
		Short: "Device debugging dashboard runtime",
		Long: `devscope hosts the dashboard's feature plugins: HTTP, WebSocket, logs,
mock rules, breakpoints, chaos injection, performance and Lua script panels.

Configuration is read from the TOML file given by --config (default
` + config.DefaultPath() + `) and DEVSCOPE_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", config.DefaultPath(), "Path to configuration file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Override logging.level")

	root.AddCommand(
		c.newPluginsCmd(),
		c.newRunCmd(),
		c.newCompanionCmd(),
		c.newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// load reads the configuration and applies flag overrides.
func (c *cli) load() (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// open loads configuration, applies overrides and bootstraps the application.
func (c *cli) open(ctx context.Context, overrides ...func(*config.Config)) (*app.Application, *zap.Logger, error) {
	cfg, err := c.load()
	if err != nil {
		return nil, nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, app.Options{Config: cfg, Logger: logger})
	if err != nil {
		logger.Sync()
		return nil, nil, err
	}
	return a, logger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "devscope %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func (c *cli) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			data, err := cfg.Encode()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "env",
		Short: "List supported environment variables",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range config.EnvVars() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	})

	return cmd
}
