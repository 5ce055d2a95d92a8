package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/devscope/internal/kv"
)

// AppName names the configuration and data directories.
const AppName = "devscope"

// Config is the complete devscope configuration.
type Config struct {
	Logging   LoggingConfig   `toml:"logging"`
	Storage   StorageConfig   `toml:"storage"`
	Plugins   PluginsConfig   `toml:"plugins"`
	Sync      SyncConfig      `toml:"sync"`
	Feed      FeedConfig      `toml:"feed"`
	Companion CompanionConfig `toml:"companion"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`
	// Format is json or console.
	Format string `toml:"format"`
}

// StorageConfig selects the backend for persisted plugin state.
type StorageConfig struct {
	// Backend is one of memory, file, sqlite, redis.
	Backend string `toml:"backend"`
	// Path is the state directory (file) or database file (sqlite).
	Path string `toml:"path"`

	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	KeyPrefix     string `toml:"key_prefix"`

	// Key is the storage key of the enabled-state blob.
	Key string `toml:"key"`
}

// KV returns the backend configuration for kv.Open.
func (s StorageConfig) KV() kv.Config {
	return kv.Config{
		Backend:       s.Backend,
		Path:          s.Path,
		RedisAddr:     s.RedisAddr,
		RedisPassword: s.RedisPassword,
		RedisDB:       s.RedisDB,
		KeyPrefix:     s.KeyPrefix,
	}
}

// PluginsConfig configures the plugin registry.
type PluginsConfig struct {
	// DefaultEnabled lists plugins enabled on a fresh installation.
	// Unset uses the built-in allow list; an empty list enables nothing.
	DefaultEnabled []string `toml:"default_enabled,omitempty"`

	InitTimeout       Duration `toml:"init_timeout"`
	TransitiveCascade bool     `toml:"transitive_cascade"`

	// ScriptsDir holds Lua plugin directories. Empty disables script plugins.
	ScriptsDir    string   `toml:"scripts_dir"`
	ScriptTimeout Duration `toml:"script_timeout"`

	// Watch reloads enabled state when another process changes it.
	// Only the file backend supports watching.
	Watch bool `toml:"watch"`
}

// SyncConfig configures the companion sync push. An empty URL disables it.
type SyncConfig struct {
	URL     string   `toml:"url"`
	Timeout Duration `toml:"timeout"`
}

// FeedConfig configures the server-pushed event feed. An empty URL disables it.
type FeedConfig struct {
	URL            string   `toml:"url"`
	DeviceID       string   `toml:"device_id"`
	ReconnectDelay Duration `toml:"reconnect_delay"`
}

// CompanionConfig configures the companion service.
type CompanionConfig struct {
	Addr string `toml:"addr"`
}

// Duration is a time.Duration written as a string ("10s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			Backend:   "file",
			Path:      DataDir(),
			KeyPrefix: AppName + ":",
			Key:       "enabled_plugins",
		},
		Plugins: PluginsConfig{
			InitTimeout:   Duration{10 * time.Second},
			ScriptTimeout: Duration{2 * time.Second},
		},
		Sync: SyncConfig{
			Timeout: Duration{5 * time.Second},
		},
		Feed: FeedConfig{
			ReconnectDelay: Duration{2 * time.Second},
		},
		Companion: CompanionConfig{
			Addr: "127.0.0.1:7781",
		},
	}
}

// ConfigDir returns the user configuration directory for devscope.
func ConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, AppName)
	}
	return "." + AppName
}

// DataDir returns the directory for persisted state.
func DataDir() string {
	return filepath.Join(ConfigDir(), "state")
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load builds a Config from defaults, the TOML file at path and DEVSCOPE_
// environment variables, then validates it. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		default:
			if err := cfg.decode(path, data); err != nil {
				return nil, err
			}
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML data over the defaults and validates the result.
// Environment variables are not consulted.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode("<input>", data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(source string, data []byte) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		perr := &ParseError{Path: source, Message: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
		}
		return perr
	}
	return nil
}

// Encode writes c as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"json", "console"}
	backends   = []string{"memory", "file", "sqlite", "redis"}
)

// Validate checks c and returns every problem found.
func (c *Config) Validate() error {
	var errs []error
	fail := func(path, msg string, value any) {
		errs = append(errs, &ValidationError{Path: path, Message: msg, Value: value})
	}

	if !oneOf(c.Logging.Level, logLevels) {
		fail("logging.level", "must be one of "+strings.Join(logLevels, ", "), c.Logging.Level)
	}
	if !oneOf(c.Logging.Format, logFormats) {
		fail("logging.format", "must be one of "+strings.Join(logFormats, ", "), c.Logging.Format)
	}

	switch backend := strings.ToLower(c.Storage.Backend); {
	case !oneOf(backend, backends):
		fail("storage.backend", "must be one of "+strings.Join(backends, ", "), c.Storage.Backend)
	case (backend == "file" || backend == "sqlite") && c.Storage.Path == "":
		fail("storage.path", "required for the "+backend+" backend", c.Storage.Path)
	case backend == "redis" && c.Storage.RedisAddr == "":
		fail("storage.redis_addr", "required for the redis backend", c.Storage.RedisAddr)
	}
	if c.Storage.Key == "" {
		fail("storage.key", "must not be empty", c.Storage.Key)
	}
	if c.Plugins.Watch && !strings.EqualFold(c.Storage.Backend, "file") {
		fail("plugins.watch", "requires the file backend", c.Storage.Backend)
	}

	durations := []struct {
		path string
		d    Duration
	}{
		{"plugins.init_timeout", c.Plugins.InitTimeout},
		{"plugins.script_timeout", c.Plugins.ScriptTimeout},
		{"sync.timeout", c.Sync.Timeout},
		{"feed.reconnect_delay", c.Feed.ReconnectDelay},
	}
	for _, v := range durations {
		if v.d.Duration <= 0 {
			fail(v.path, "must be positive", v.d.Duration)
		}
	}

	if c.Companion.Addr == "" {
		fail("companion.addr", "must not be empty", c.Companion.Addr)
	}

	return errors.Join(errs...)
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return true
		}
	}
	return false
}
