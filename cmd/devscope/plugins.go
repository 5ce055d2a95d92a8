package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/devscope/internal/plugin"
)

func (c *cli) newPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Manage dashboard plugins",
		Long: `List, enable and disable dashboard plugins.

Enabling a plugin also enables the plugins it depends on. Disabling a plugin
also disables the plugins that depend on it. Changes are persisted to the
configured storage backend and pushed to the companion service when
sync.url is set.`,
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered plugins and their enabled state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, logger, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer a.Close()

			r := a.Registry()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(r.Snapshot())
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tVERSION\tENABLED\tDEPENDS ON")
			for _, p := range r.Plugins() {
				meta := p.Metadata()
				deps := strings.Join(meta.Dependencies, ",")
				if deps == "" {
					deps = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", meta.ID, meta.Label(), meta.Version, r.IsPluginEnabled(meta.ID), deps)
			}
			return tw.Flush()
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "Print the companion sync records as JSON")

	cmd.AddCommand(
		list,
		c.newToggleCmd("enable", true),
		c.newToggleCmd("disable", false),
		&cobra.Command{
			Use:   "order",
			Short: "Print the initialization order",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, logger, err := c.open(cmd.Context())
				if err != nil {
					return err
				}
				defer logger.Sync()
				defer a.Close()

				for i, id := range a.Registry().InitOrder() {
					fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, id)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "tabs",
			Short: "Print the navigation tabs of enabled plugins",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, logger, err := c.open(cmd.Context())
				if err != nil {
					return err
				}
				defer logger.Sync()
				defer a.Close()

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TAB\tROUTE\tPLUGIN")
				for _, tab := range a.Registry().TabConfigs() {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", tab.Label, tab.RoutePath, tab.PluginID)
				}
				return tw.Flush()
			},
		},
	)
	return cmd
}

func (c *cli) newToggleCmd(verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <plugin-id>...",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " plugins",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer a.Close()

			r := a.Registry()
			for _, id := range args {
				if _, ok := r.Plugin(id); !ok {
					return fmt.Errorf("plugin %q: %w", id, plugin.ErrPluginNotFound)
				}
			}

			before := make(map[string]bool)
			for _, p := range r.Plugins() {
				before[p.Metadata().ID] = r.IsPluginEnabled(p.Metadata().ID)
			}
			for _, id := range args {
				r.SetPluginEnabled(id, enabled)
			}
			for _, p := range r.Plugins() {
				id := p.Metadata().ID
				if now := r.IsPluginEnabled(id); now != before[id] {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", id, onOff(now))
				}
			}
			return nil
		},
	}
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
