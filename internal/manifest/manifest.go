// Package manifest reads and edits poetry pyproject.toml files.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the manifest file every package carries.
const FileName = "pyproject.toml"

var (
	// ErrNoPoetrySection is returned when the manifest has no [tool.poetry] table.
	ErrNoPoetrySection = errors.New("missing [tool.poetry] section")
	// ErrMissingName is returned when [tool.poetry] has no name.
	ErrMissingName = errors.New("missing tool.poetry.name")
	// ErrMissingVersion is returned when [tool.poetry] has no version.
	ErrMissingVersion = errors.New("missing tool.poetry.version")
)

// Dependency is one entry of a dependency table. Poetry allows either a
// plain version string or a table; both are normalized here.
type Dependency struct {
	Version  string
	Path     string
	Git      string
	Branch   string
	Optional bool
	Develop  bool
	Extras   []string
	Python   string
	Markers  string
}

// Include is one element of tool.poetry.packages.
type Include struct {
	Include string
	From    string
	Format  string
}

// BuildSystem is the [build-system] table.
type BuildSystem struct {
	Requires     []string `toml:"requires"`
	BuildBackend string   `toml:"build-backend"`
}

// Manifest is the parsed content of a pyproject.toml managed by poetry.
type Manifest struct {
	Name            string
	Version         string
	Description     string
	License         string
	Authors         []string
	Packages        []Include
	Dependencies    map[string]Dependency
	DevDependencies map[string]Dependency
	Scripts         map[string]string
	Extras          map[string][]string
	BuildSystem     BuildSystem
}

type rawPoetry struct {
	Name            string              `toml:"name"`
	Version         string              `toml:"version"`
	Description     string              `toml:"description"`
	License         string              `toml:"license"`
	Authors         []string            `toml:"authors"`
	Packages        []any               `toml:"packages"`
	Dependencies    map[string]any      `toml:"dependencies"`
	DevDependencies map[string]any      `toml:"dev-dependencies"`
	Group           map[string]rawGroup `toml:"group"`
	Scripts         map[string]string   `toml:"scripts"`
	Extras          map[string][]string `toml:"extras"`
}

type rawGroup struct {
	Dependencies map[string]any `toml:"dependencies"`
}

type rawFile struct {
	Tool struct {
		Poetry *rawPoetry `toml:"poetry"`
	} `toml:"tool"`
	BuildSystem BuildSystem `toml:"build-system"`
}

// Parse decodes manifest content.
func Parse(data []byte) (*Manifest, error) {
	var raw rawFile
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode toml: %w", err)
	}
	p := raw.Tool.Poetry
	if p == nil {
		return nil, ErrNoPoetrySection
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, ErrMissingName
	}

	m := &Manifest{
		Name:            p.Name,
		Version:         p.Version,
		Description:     p.Description,
		License:         p.License,
		Authors:         p.Authors,
		Scripts:         p.Scripts,
		Extras:          p.Extras,
		BuildSystem:     raw.BuildSystem,
		Dependencies:    make(map[string]Dependency),
		DevDependencies: make(map[string]Dependency),
	}

	for name, v := range p.Dependencies {
		dep, err := parseDependency(v)
		if err != nil {
			return nil, fmt.Errorf("dependency %s: %w", name, err)
		}
		m.Dependencies[name] = dep
	}
	for name, v := range p.DevDependencies {
		dep, err := parseDependency(v)
		if err != nil {
			return nil, fmt.Errorf("dev dependency %s: %w", name, err)
		}
		m.DevDependencies[name] = dep
	}
	// Poetry >= 1.2 declares dev dependencies in groups.
	for group, g := range p.Group {
		for name, v := range g.Dependencies {
			dep, err := parseDependency(v)
			if err != nil {
				return nil, fmt.Errorf("group %s dependency %s: %w", group, name, err)
			}
			if _, exists := m.DevDependencies[name]; !exists {
				m.DevDependencies[name] = dep
			}
		}
	}

	for i, v := range p.Packages {
		inc, err := parseInclude(v)
		if err != nil {
			return nil, fmt.Errorf("packages[%d]: %w", i, err)
		}
		m.Packages = append(m.Packages, inc)
	}

	return m, nil
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

func parseDependency(v any) (Dependency, error) {
	switch val := v.(type) {
	case string:
		return Dependency{Version: val}, nil
	case map[string]any:
		var d Dependency
		d.Version, _ = val["version"].(string)
		d.Path, _ = val["path"].(string)
		d.Git, _ = val["git"].(string)
		d.Branch, _ = val["branch"].(string)
		d.Optional, _ = val["optional"].(bool)
		d.Develop, _ = val["develop"].(bool)
		d.Python, _ = val["python"].(string)
		d.Markers, _ = val["markers"].(string)
		if extras, ok := val["extras"].([]any); ok {
			for _, e := range extras {
				if s, ok := e.(string); ok {
					d.Extras = append(d.Extras, s)
				}
			}
		}
		return d, nil
	case []any:
		// Multiple constraints; keep the first one that parses.
		for _, item := range val {
			if d, err := parseDependency(item); err == nil {
				return d, nil
			}
		}
		return Dependency{}, fmt.Errorf("no usable constraint")
	default:
		return Dependency{}, fmt.Errorf("unsupported value of type %T", v)
	}
}

func parseInclude(v any) (Include, error) {
	switch val := v.(type) {
	case string:
		return Include{Include: val}, nil
	case map[string]any:
		var inc Include
		inc.Include, _ = val["include"].(string)
		inc.From, _ = val["from"].(string)
		inc.Format, _ = val["format"].(string)
		if inc.Include == "" {
			return Include{}, fmt.Errorf("missing include")
		}
		return inc, nil
	default:
		return Include{}, fmt.Errorf("unsupported value of type %T", v)
	}
}

// Validate checks the fields every package manifest must carry beyond
// its name.
func (m *Manifest) Validate() error {
	if m.Version == "" {
		return ErrMissingVersion
	}
	return nil
}

// DependencyNames returns the runtime dependency names, sorted, without
// the python constraint.
func (m *Manifest) DependencyNames() []string {
	return sortedKeys(m.Dependencies)
}

// DevDependencyNames returns the development dependency names, sorted.
func (m *Manifest) DevDependencyNames() []string {
	return sortedKeys(m.DevDependencies)
}

// PrivateDependencies returns the absolute directories of dependencies that
// are installed from a path. A dependency is private when it is declared
// with a path either in the runtime table, or in the dev table while also
// being a runtime dependency. root is the package directory that relative
// paths are resolved against.
func (m *Manifest) PrivateDependencies(root string) []string {
	seen := make(map[string]bool)
	var dirs []string
	add := func(p string) {
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			dirs = append(dirs, p)
		}
	}

	for _, name := range sortedKeys(m.Dependencies) {
		if dep := m.Dependencies[name]; dep.Path != "" {
			add(dep.Path)
			continue
		}
		if dev, ok := m.DevDependencies[name]; ok && dev.Path != "" {
			add(dev.Path)
		}
	}
	return dirs
}

// Sources returns the absolute source directories of the package rooted at
// root. Without an explicit packages list the default module directory
// (name with dashes replaced by underscores) is used when it exists.
func (m *Manifest) Sources(root string) []string {
	if len(m.Packages) == 0 {
		def := filepath.Join(root, ModuleName(m.Name))
		if isDir(def) {
			return []string{def}
		}
		return nil
	}

	var sources []string
	for _, inc := range m.Packages {
		if inc.From == "" && inc.Format == "" && !strings.ContainsAny(inc.Include, "*?") {
			// Plain string entries may live under src/.
			if p := filepath.Join(root, inc.Include); isDir(p) {
				sources = append(sources, p)
			} else if p := filepath.Join(root, "src", inc.Include); isDir(p) {
				sources = append(sources, p)
			}
			continue
		}
		base := root
		if inc.From != "" {
			base = filepath.Join(root, inc.From)
		}
		if p := filepath.Join(base, inc.Include); exists(p) {
			sources = append(sources, p)
		}
	}
	return sources
}

// ModuleName converts a distribution name to its import name.
func ModuleName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

func sortedKeys(m map[string]Dependency) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k == "python" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
