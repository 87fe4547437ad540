package definitions

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"mcpstudio/internal/api"
)

// Definition is one server declared in a YAML file.
type Definition struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description,omitempty"`
	Config      api.ServerConfig `yaml:"config"`
	// Deploy requests a deployment when the server is first registered.
	Deploy bool `yaml:"deploy,omitempty"`

	// Path is the file the definition was read from.
	Path string `yaml:"-"`
}

// LoadFile parses a definition. The name defaults to the file name without
// its extension.
func LoadFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, err
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("error loading definition from %s: %w", path, err)
	}
	if def.Name == "" {
		def.Name = nameFromPath(path)
	}
	def.Path = path
	if err := def.Config.Validate(); err != nil {
		return Definition{}, fmt.Errorf("invalid definition %s: %w", path, err)
	}
	return def, nil
}

// LoadDir parses every YAML file in dir. A missing directory yields no
// definitions. Files that fail to parse are reported together after the
// valid ones have been collected.
func LoadDir(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var (
		defs []Definition
		errs []error
		seen = map[string]string{}
	)
	for _, e := range entries {
		if e.IsDir() || !isYAMLFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		def, err := LoadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if other, dup := seen[def.Name]; dup {
			errs = append(errs, fmt.Errorf("server %q is defined in both %s and %s", def.Name, other, path))
			continue
		}
		seen[def.Name] = path
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, errors.Join(errs...)
}

func nameFromPath(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, ".yaml")
	return strings.TrimSuffix(name, ".yml")
}

func isYAMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
