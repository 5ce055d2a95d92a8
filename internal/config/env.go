package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DEVSCOPE_"

// envSetter applies one environment value to a Config.
type envSetter func(c *Config, value string) error

// envMapping maps environment variables (without prefix) to settings.
var envMapping = map[string]envSetter{
	"LOG_LEVEL":  setString(func(c *Config) *string { return &c.Logging.Level }),
	"LOG_FORMAT": setString(func(c *Config) *string { return &c.Logging.Format }),

	"STORAGE_BACKEND":  setString(func(c *Config) *string { return &c.Storage.Backend }),
	"STORAGE_PATH":     setString(func(c *Config) *string { return &c.Storage.Path }),
	"STORAGE_KEY":      setString(func(c *Config) *string { return &c.Storage.Key }),
	"REDIS_ADDR":       setString(func(c *Config) *string { return &c.Storage.RedisAddr }),
	"REDIS_PASSWORD":   setString(func(c *Config) *string { return &c.Storage.RedisPassword }),
	"REDIS_DB":         setInt(func(c *Config) *int { return &c.Storage.RedisDB }),
	"REDIS_KEY_PREFIX": setString(func(c *Config) *string { return &c.Storage.KeyPrefix }),

	"PLUGINS_DEFAULT_ENABLED":    setList(func(c *Config) *[]string { return &c.Plugins.DefaultEnabled }),
	"PLUGINS_INIT_TIMEOUT":       setDuration(func(c *Config) *Duration { return &c.Plugins.InitTimeout }),
	"PLUGINS_TRANSITIVE_CASCADE": setBool(func(c *Config) *bool { return &c.Plugins.TransitiveCascade }),
	"PLUGINS_SCRIPTS_DIR":        setString(func(c *Config) *string { return &c.Plugins.ScriptsDir }),
	"PLUGINS_SCRIPT_TIMEOUT":     setDuration(func(c *Config) *Duration { return &c.Plugins.ScriptTimeout }),
	"PLUGINS_WATCH":              setBool(func(c *Config) *bool { return &c.Plugins.Watch }),

	"SYNC_URL":     setString(func(c *Config) *string { return &c.Sync.URL }),
	"SYNC_TIMEOUT": setDuration(func(c *Config) *Duration { return &c.Sync.Timeout }),

	"FEED_URL":             setString(func(c *Config) *string { return &c.Feed.URL }),
	"FEED_DEVICE_ID":       setString(func(c *Config) *string { return &c.Feed.DeviceID }),
	"FEED_RECONNECT_DELAY": setDuration(func(c *Config) *Duration { return &c.Feed.ReconnectDelay }),

	"COMPANION_ADDR": setString(func(c *Config) *string { return &c.Companion.Addr }),
}

// EnvVars returns the supported environment variable names, sorted.
func EnvVars() []string {
	names := make([]string, 0, len(envMapping))
	for name := range envMapping {
		names = append(names, EnvPrefix+name)
	}
	sort.Strings(names)
	return names
}

// ApplyEnv overrides settings from environment variables found by lookup.
// Empty values are treated as set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, name := range EnvVars() {
		value, ok := lookup(name)
		if !ok {
			continue
		}
		if err := envMapping[strings.TrimPrefix(name, EnvPrefix)](c, value); err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidEnv, name, value, err)
		}
	}
	return nil
}

func setString(field func(*Config) *string) envSetter {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func setInt(field func(*Config) *int) envSetter {
	return func(c *Config, v string) error {
		i, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = i
		return nil
	}
}

func setBool(field func(*Config) *bool) envSetter {
	return func(c *Config, v string) error {
		b, err := parseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func setDuration(field func(*Config) *Duration) envSetter {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		field(c).Duration = d
		return nil
	}
}

// setList splits a comma separated value. An empty value yields an empty,
// non-nil list.
func setList(field func(*Config) *[]string) envSetter {
	return func(c *Config, v string) error {
		list := []string{}
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
		*field(c) = list
		return nil
	}
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean")
}
