// Package config provides the devscope configuration.
//
// Configuration is resolved in layers, higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  3. Environment Variables   │  ← DEVSCOPE_*
//	├─────────────────────────────┤
//	│  2. Config File             │  ← ~/.config/devscope/config.toml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Default()
//	└─────────────────────────────┘
//
// Command line flags are applied by the caller on the returned Config.
//
// # Basic Usage
//
//	cfg, err := config.Load(config.DefaultPath())
//	if err != nil {
//	    return err
//	}
//	logger, err := logging.New(cfg.Logging)
//
// # File Format
//
//	[logging]
//	level = "info"
//	format = "console"
//
//	[storage]
//	backend = "sqlite"
//	path = "/var/lib/devscope/state.db"
//
//	[plugins]
//	default_enabled = ["http", "logs"]
//	init_timeout = "10s"
//	scripts_dir = "/etc/devscope/plugins"
//
//	[sync]
//	url = "http://localhost:7781/api/plugins/sync"
//
//	[feed]
//	url = "ws://localhost:7780/events"
//	device_id = "emulator-5554"
//
// Unknown keys are rejected.
package config
