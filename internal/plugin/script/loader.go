package script

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Discover loads every plugin directory under root. A directory is a plugin
// when it contains plugin.yaml. A missing root is not an error. Plugins that
// fail to load are skipped and their errors joined into the returned error.
// Results are sorted by ID.
func Discover(root string, opts ...Option) ([]*Plugin, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plugin dir: %w", err)
	}

	var (
		plugins []*Plugin
		errs    []error
		seen    = make(map[string]string)
	)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, ManifestFile)); err != nil {
			continue
		}

		p, err := Load(dir, opts...)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.Name(), err))
			continue
		}

		id := p.Manifest().ID
		if prev, dup := seen[id]; dup {
			p.Destroy()
			errs = append(errs, fmt.Errorf("%s: plugin id %q already defined in %s", entry.Name(), id, prev))
			continue
		}
		seen[id] = entry.Name()
		plugins = append(plugins, p)
	}

	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Manifest().ID < plugins[j].Manifest().ID
	})

	if len(errs) > 0 {
		return plugins, fmt.Errorf("failed to load %d script plugins: %w", len(errs), errors.Join(errs...))
	}
	return plugins, nil
}
