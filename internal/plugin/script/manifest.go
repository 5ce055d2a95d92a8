package script

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/devscope/internal/event/topic"
	"github.com/dshills/devscope/internal/plugin"
)

// ManifestFile is the manifest name inside a script plugin directory.
const ManifestFile = "plugin.yaml"

// DefaultMain is the entry point used when the manifest names none.
const DefaultMain = "init.lua"

// Manifest describes a scripted plugin.
//
//	id: request-counter
//	name: Request Counter
//	version: 1.0.0
//	dependencies: [http]
//	subscribe: [request, response]
type Manifest struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Version      string   `yaml:"version"`
	Description  string   `yaml:"description"`
	Icon         string   `yaml:"icon"`
	Dependencies []string `yaml:"dependencies"`

	// Parent makes the plugin a sub-plugin of another plugin.
	Parent string `yaml:"parent"`

	// Main is the entry point relative to the plugin directory.
	Main string `yaml:"main"`

	// Subscribe lists event types delivered to on_event. Entries may be
	// wildcard patterns such as "http.*".
	Subscribe []string `yaml:"subscribe"`

	// RoutePath overrides the default "/plugins/<id>" route.
	RoutePath string `yaml:"route"`

	// TabOrder places the plugin's tab; zero means after built-ins.
	TabOrder int `yaml:"tab_order"`

	// Directory containing the manifest
	dir string
}

// Validation errors.
var (
	ErrMissingID      = errors.New("manifest: id is required")
	ErrInvalidID      = errors.New("manifest: id must be lowercase alphanumeric with hyphens")
	ErrInvalidVersion = errors.New("manifest: version must be valid semver")
	ErrInvalidMain    = errors.New("manifest: main must be a .lua file inside the plugin directory")
	ErrInvalidEvent   = errors.New("manifest: subscribe entries must be dot-separated event types or patterns")
)

var idPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$|^[a-z]$`)

var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// LoadManifest reads and validates dir/plugin.yaml.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	m.dir = dir
	return m, nil
}

// ParseManifest decodes and validates manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Main == "" {
		m.Main = DefaultMain
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks required fields and formats.
func (m *Manifest) Validate() error {
	var errs []error

	switch {
	case m.ID == "":
		errs = append(errs, ErrMissingID)
	case !idPattern.MatchString(m.ID):
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidID, m.ID))
	}

	if m.Version != "" && !semverPattern.MatchString(m.Version) {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidVersion, m.Version))
	}

	main := filepath.Clean(m.Main)
	if filepath.Ext(main) != ".lua" || filepath.IsAbs(main) || strings.HasPrefix(main, "..") {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidMain, m.Main))
	}

	for _, ev := range m.Subscribe {
		if !topic.Topic(ev).IsValid() {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidEvent, ev))
		}
	}

	return errors.Join(errs...)
}

// Dir returns the plugin directory.
func (m *Manifest) Dir() string {
	return m.dir
}

// MainPath returns the absolute entry point path.
func (m *Manifest) MainPath() string {
	return filepath.Join(m.dir, m.Main)
}

// Route returns the route path of the plugin's panel.
func (m *Manifest) Route() string {
	if m.RoutePath != "" {
		return m.RoutePath
	}
	return "/plugins/" + m.ID
}

// Metadata converts the manifest to plugin metadata.
func (m *Manifest) Metadata() plugin.Metadata {
	name := m.Name
	if name == "" {
		name = m.ID
	}
	return plugin.Metadata{
		ID:             m.ID,
		Name:           name,
		Version:        m.Version,
		Description:    m.Description,
		Dependencies:   append([]string(nil), m.Dependencies...),
		IsSubPlugin:    m.Parent != "",
		ParentPluginID: m.Parent,
		Icon:           m.Icon,
	}
}
