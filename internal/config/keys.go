package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"go.yaml.in/yaml/v3"
)

// ErrUnknownKey is returned when a configuration key does not exist.
var ErrUnknownKey = errors.New("unknown config key")

// Keys returns every known dotted configuration key, sorted.
func Keys() []string {
	d := defaults()
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the effective value of a dotted key, or of a whole section
// such as "tools".
func Get(cfg *Config, key string) (any, error) {
	tree, err := cfg.Map()
	if err != nil {
		return nil, err
	}

	var cur any = tree
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		if cur, ok = m[part]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
	}
	return cur, nil
}

// Map returns the configuration as a nested map keyed like the config file.
func (c *Config) Map() (map[string]any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return tree, nil
}

// SetProjectValue writes key=value to the project config of root,
// creating .repo.yaml when no project config exists. Returns the file
// written.
func SetProjectValue(root, key, value string) (string, error) {
	def, ok := defaults()[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	typed, err := convertValue(key, def, value)
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}

	path := findProjectConfig(root)
	if path == "" {
		path = filepath.Join(root, ProjectFileName)
	}

	tree := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return "", fmt.Errorf("parse %s: %w", path, err)
		}
		if tree == nil {
			tree = map[string]any{}
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	setNested(tree, strings.Split(key, "."), typed)

	data, err := yaml.Marshal(tree)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func setNested(tree map[string]any, parts []string, value any) {
	for _, part := range parts[:len(parts)-1] {
		next, ok := tree[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			tree[part] = next
		}
		tree = next
	}
	tree[parts[len(parts)-1]] = value
}

// durationKeys hold time.Duration values stored as strings.
var durationKeys = map[string]bool{
	"watch.debounce": true,
}

// convertValue parses a command line value into the type of def.
func convertValue(key string, def any, value string) (any, error) {
	switch def.(type) {
	case []string:
		out, err := shellquote.Split(value)
		if err != nil {
			return nil, fmt.Errorf("expected a command line: %w", err)
		}
		if len(out) == 0 {
			return nil, errors.New("expected a non-empty list")
		}
		return out, nil
	case bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("expected a boolean, got %q", value)
		}
		return b, nil
	case int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %q", value)
		}
		return n, nil
	default:
		if durationKeys[key] {
			if _, err := time.ParseDuration(value); err != nil {
				return nil, fmt.Errorf("expected a duration, got %q", value)
			}
		}
		return value, nil
	}
}
