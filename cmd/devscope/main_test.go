package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dshills/devscope/internal/plugin"
	"github.com/dshills/devscope/internal/plugin/enablement"
	"github.com/dshills/devscope/internal/plugins"
)

// writeConfig creates a config file using a file store in a temp dir.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := fmt.Sprintf("[logging]\nlevel = \"error\"\n\n[storage]\nbackend = \"file\"\npath = %q\n", filepath.Join(dir, "data"))
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, writeConfig(t), "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "devscope ") {
		t.Errorf("version output = %q", out)
	}
}

func TestPlugins_ToggleCascades(t *testing.T) {
	cfg := writeConfig(t)

	tests := []struct {
		args []string
		want []string
	}{
		{[]string{"plugins", "disable", "http"}, []string{"http: disabled"}},
		{[]string{"plugins", "enable", "mock"}, []string{"http: enabled", "mock: enabled"}},
		{[]string{"plugins", "disable", "http"}, []string{"http: disabled", "mock: disabled"}},
	}

	for _, tt := range tests {
		out, err := execute(t, cfg, tt.args...)
		if err != nil {
			t.Fatalf("%v: %v", tt.args, err)
		}
		for _, line := range tt.want {
			if !strings.Contains(out, line+"\n") {
				t.Errorf("%v output = %q, missing %q", tt.args, out, line)
			}
		}
		if got := strings.Count(out, "\n"); got != len(tt.want) {
			t.Errorf("%v printed %d changes, want %d: %q", tt.args, got, len(tt.want), out)
		}
	}
}

func TestPlugins_EnableUnknown(t *testing.T) {
	_, err := execute(t, writeConfig(t), "plugins", "enable", "telemetry")
	if !errors.Is(err, plugin.ErrPluginNotFound) {
		t.Errorf("enable unknown = %v, want ErrPluginNotFound", err)
	}
}

func TestPlugins_Order(t *testing.T) {
	out, err := execute(t, writeConfig(t), "plugins", "order")
	if err != nil {
		t.Fatal(err)
	}
	httpAt := strings.Index(out, ". http\n")
	mockAt := strings.Index(out, ". mock\n")
	if httpAt < 0 || mockAt < 0 || httpAt > mockAt {
		t.Errorf("order output = %q, want http before mock", out)
	}
}

func TestPlugins_ListJSON(t *testing.T) {
	out, err := execute(t, writeConfig(t), "plugins", "list", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var states []enablement.PluginState
	if err := json.Unmarshal([]byte(out), &states); err != nil {
		t.Fatalf("list --json output not JSON: %v\n%s", err, out)
	}
	if len(states) != len(plugins.All()) {
		t.Errorf("len(states) = %d, want %d", len(states), len(plugins.All()))
	}
	for _, s := range states {
		if s.PluginID == plugins.IDHTTP && !s.IsEnabled {
			t.Error("http reported disabled")
		}
	}
}

func TestConfigShow(t *testing.T) {
	out, err := execute(t, writeConfig(t), "config", "show")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "[storage]") || !strings.Contains(out, "file") {
		t.Errorf("config show output = %q", out)
	}
}

func TestConfig_InvalidLogLevel(t *testing.T) {
	if _, err := execute(t, writeConfig(t), "--log-level", "loud", "config", "show"); err == nil {
		t.Error("expected error for invalid log level")
	}
}

func TestPlugins_Tabs(t *testing.T) {
	cfg := writeConfig(t)
	if _, err := execute(t, cfg, "plugins", "disable", "http"); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, cfg, "plugins", "tabs")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "TAB") {
		t.Errorf("tabs output = %q, want header first", out)
	}
	if strings.Contains(out, " /http ") {
		t.Errorf("tabs output lists disabled http: %q", out)
	}
}
