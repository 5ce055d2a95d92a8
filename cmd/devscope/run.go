package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/devscope/internal/companion"
	"github.com/dshills/devscope/internal/config"
	"github.com/dshills/devscope/internal/kv"
	"github.com/dshills/devscope/internal/logging"
	"github.com/dshills/devscope/internal/plugin/enablement"
)

func (c *cli) newRunCmd() *cobra.Command {
	var deviceID string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Initialize plugins and stream device events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, logger, err := c.open(ctx, func(cfg *config.Config) {
				if deviceID != "" {
					cfg.Feed.DeviceID = deviceID
				}
			})
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer a.Close()

			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "Device to stream events for (overrides feed.device_id)")
	return cmd
}

func (c *cli) newCompanionCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "companion",
		Short: "Serve the companion plugin sync endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Companion.Addr = addr
			}

			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			kvCfg := cfg.Storage.KV()
			kvCfg.Logger = logger.Named("kv")
			store, err := kv.Open(ctx, kvCfg)
			if err != nil {
				return err
			}
			defer store.Close()

			srv, err := companion.New(ctx,
				companion.WithStore(store),
				companion.WithLogger(logger),
				companion.OnSync(func(states []enablement.PluginState) {
					logger.Debug("sync received", zap.Int("plugins", len(states)))
				}),
			)
			if err != nil {
				return err
			}
			return srv.ListenAndServe(ctx, cfg.Companion.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides companion.addr)")
	return cmd
}
