// Package config handles configuration loading and management for repo.
// It supports XDG config paths, the setup.cfg [tool:repo] section,
// project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/kballard/go-shellquote"
	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

// ProjectFileName is the project-level configuration file.
const ProjectFileName = ".repo.yaml"

// setupCfgSection is the setup.cfg section holding repo settings.
const setupCfgSection = "tool:repo"

// EnvPrefix prefixes every environment variable override (REPO_PREFIX,
// REPO_RUN_PARALLEL, ...).
const EnvPrefix = "REPO"

// Output modes for per-package process output.
const (
	OutputStream  = "stream"
	OutputCapture = "capture"
)

// Config holds all configuration for repo.
type Config struct {
	// Prefix is the shared distribution name prefix of the monorepo
	// packages, e.g. "quara" for quara-core.
	Prefix   string         `mapstructure:"prefix" yaml:"prefix"`
	Layout   []string       `mapstructure:"layout" yaml:"layout"`
	Manifest string         `mapstructure:"manifest" yaml:"manifest"`
	TestsDir string         `mapstructure:"tests_dir" yaml:"tests_dir"`
	Dist     string         `mapstructure:"dist" yaml:"dist"`
	Run      RunConfig      `mapstructure:"run" yaml:"run"`
	Tools    ToolsConfig    `mapstructure:"tools" yaml:"tools"`
	History  HistoryConfig  `mapstructure:"history" yaml:"history"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Release  ReleaseConfig  `mapstructure:"release" yaml:"release"`
	Watch    WatchConfig    `mapstructure:"watch" yaml:"watch"`
	Coverage CoverageConfig `mapstructure:"coverage" yaml:"coverage"`
}

// RunConfig holds execution settings.
type RunConfig struct {
	Parallel bool   `mapstructure:"parallel" yaml:"parallel"`
	Jobs     int    `mapstructure:"jobs" yaml:"jobs"`
	Output   string `mapstructure:"output" yaml:"output"`
	Quiet    bool   `mapstructure:"quiet" yaml:"quiet"`
}

// ToolsConfig holds the argv prefix used for each external tool.
type ToolsConfig struct {
	Install     []string `mapstructure:"install" yaml:"install"`
	Test        []string `mapstructure:"test" yaml:"test"`
	Lint        []string `mapstructure:"lint" yaml:"lint"`
	Format      []string `mapstructure:"format" yaml:"format"`
	SortImports []string `mapstructure:"sort_imports" yaml:"sort_imports"`
	Typecheck   []string `mapstructure:"typecheck" yaml:"typecheck"`
	Build       []string `mapstructure:"build" yaml:"build"`
	Update      []string `mapstructure:"update" yaml:"update"`
	Lock        []string `mapstructure:"lock" yaml:"lock"`
	Commit      []string `mapstructure:"commit" yaml:"commit"`
	Export      []string `mapstructure:"export" yaml:"export"`
	Download    []string `mapstructure:"download" yaml:"download"`
}

// HistoryConfig holds run history settings.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// ReleaseConfig holds the release branch names.
type ReleaseConfig struct {
	StableBranch string `mapstructure:"stable_branch" yaml:"stable_branch"`
	RCBranch     string `mapstructure:"rc_branch" yaml:"rc_branch"`
	Remote       string `mapstructure:"remote" yaml:"remote"`
}

// WatchConfig holds watch mode settings.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// Load loads configuration for the repository rooted at root.
// Precedence (highest to lowest):
// 1. Environment variables (REPO_*, RC_BRANCH_NAME, STABLE_BRANCH_NAME)
// 2. Project config (.repo.yaml in root or a parent)
// 3. setup.cfg [tool:repo] section in root
// 4. User config (~/.config/repo/config.yaml)
// 5. Built-in defaults
func Load(root string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Load user config from XDG path
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// The original location of the repo settings.
	if settings, err := readSetupCfg(filepath.Join(root, "setup.cfg")); err != nil {
		return nil, err
	} else if len(settings) > 0 {
		if err := v.MergeConfigMap(settings); err != nil {
			return nil, fmt.Errorf("merging setup.cfg: %w", err)
		}
	}

	if projectConfig := findProjectConfig(root); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)

	return decode(v)
}

// LoadFromPath loads configuration from the file at path instead of the
// user and project config files. Environment variables still apply.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		shellSplitHook,
	))
	if err := v.Unmarshal(cfg, hooks); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if cfg.Run.Jobs <= 0 {
		cfg.Run.Jobs = runtime.NumCPU()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// shellSplitHook decodes a string into a list the way a shell splits a
// command line, so REPO_TOOLS_TEST="python -m pytest" and setup.cfg
// multi-line values both become argv lists.
func shellSplitHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf([]string(nil)) {
		return data, nil
	}
	return shellquote.Split(data.(string))
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Names used by the release script in CI.
	_ = v.BindEnv("release.rc_branch", "REPO_RELEASE_RC_BRANCH", "RC_BRANCH_NAME")
	_ = v.BindEnv("release.stable_branch", "REPO_RELEASE_STABLE_BRANCH", "STABLE_BRANCH_NAME")
}

// readSetupCfg returns the [tool:repo] settings of a setup.cfg file.
// A missing file or section yields no settings.
func readSetupCfg(path string) (map[string]any, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}

	f, err := ini.LoadSources(ini.LoadOptions{AllowPythonMultilineValues: true}, path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if !f.HasSection(setupCfgSection) {
		return nil, nil
	}

	settings := map[string]any{}
	for k, val := range f.Section(setupCfgSection).KeysHash() {
		if val == "" {
			// An empty value means "unset" in setup.cfg.
			continue
		}
		settings[strings.ToLower(k)] = val
	}
	return settings, nil
}

// Validate checks values that would make every run fail.
func (c *Config) Validate() error {
	if len(c.Layout) == 0 {
		return errors.New("config: layout must list at least one directory")
	}
	if c.Manifest == "" {
		return errors.New("config: manifest must not be empty")
	}
	if c.TestsDir == "" {
		return errors.New("config: tests_dir must not be empty")
	}
	switch c.Run.Output {
	case OutputStream, OutputCapture:
	default:
		return fmt.Errorf("config: run.output must be %q or %q, got %q", OutputStream, OutputCapture, c.Run.Output)
	}
	if c.Run.Jobs < 1 {
		return fmt.Errorf("config: run.jobs must be positive, got %d", c.Run.Jobs)
	}
	if c.Release.StableBranch == c.Release.RCBranch {
		return fmt.Errorf("config: release branches must differ, both are %q", c.Release.StableBranch)
	}
	return nil
}

// DistDir returns the absolute build output directory for root.
func (c *Config) DistDir(root string) string {
	if filepath.IsAbs(c.Dist) {
		return c.Dist
	}
	return filepath.Join(root, c.Dist)
}

// HistoryPath returns the absolute history database path for root.
func (c *Config) HistoryPath(root string) string {
	if filepath.IsAbs(c.History.Path) {
		return c.History.Path
	}
	return filepath.Join(root, c.History.Path)
}

// LogPath returns the absolute debug log path for root, or "" when file
// logging is disabled.
func (c *Config) LogPath(root string) string {
	if c.Log.File == "" || filepath.IsAbs(c.Log.File) {
		return c.Log.File
	}
	return filepath.Join(root, c.Log.File)
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath(root string) string {
	return findProjectConfig(root)
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	for key, val := range defaults() {
		v.SetDefault(key, val)
	}
}

func defaults() map[string]any {
	return map[string]any{
		"prefix":    "",
		"layout":    []string{"libraries", "plugins", "applications"},
		"manifest":  "pyproject.toml",
		"tests_dir": "tests",
		"dist":      "dist",

		"run.parallel": false,
		"run.jobs":     0,
		"run.output":   OutputStream,
		"run.quiet":    false,

		"tools.install":      []string{"poetry", "install"},
		"tools.test":         []string{"pytest"},
		"tools.lint":         []string{"flake8"},
		"tools.format":       []string{"black"},
		"tools.sort_imports": []string{"isort"},
		"tools.typecheck":    []string{"mypy"},
		"tools.build":        []string{"poetry", "build"},
		"tools.update":       []string{"poetry", "update"},
		"tools.lock":         []string{"poetry", "lock", "--no-update"},
		"tools.commit":       []string{"cz", "commit"},
		"tools.export":       []string{"poetry", "export", "--without-hashes"},
		"tools.download":     []string{"pip", "download"},

		"history.enabled": false,
		"history.path":    filepath.Join(".repo", "history.db"),

		"log.level": "warn",
		"log.file":  filepath.Join(".repo", "logs", "repo-debug.log"),

		"release.stable_branch": "stable",
		"release.rc_branch":     "next",
		"release.remote":        "origin",

		"watch.debounce": "500ms",

		"coverage.addr": "127.0.0.1:8000",
		"coverage.dir":  ".",
	}
}

// getUserConfigDir returns the XDG config directory for repo.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "repo")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "repo")
	}
	return filepath.Join(home, ".config", "repo")
}

// findProjectConfig searches for .repo.yaml in dir and its parents.
func findProjectConfig(dir string) string {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(dir, ProjectFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// FindRoot returns the repository root for start: the nearest directory
// holding .repo.yaml, else the nearest holding .git, else start itself.
func FindRoot(start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", start, err)
	}
	if cfg := findProjectConfig(abs); cfg != "" {
		return filepath.Dir(cfg), nil
	}
	for dir := abs; ; {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return abs, nil
}

// CoverageConfig holds the settings of the coverage report server.
type CoverageConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	// Dir is the served directory, relative to the repository root.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Prefix:   "",
		Layout:   []string{"libraries", "plugins", "applications"},
		Manifest: "pyproject.toml",
		TestsDir: "tests",
		Dist:     "dist",
		Run: RunConfig{
			Jobs:   runtime.NumCPU(),
			Output: OutputStream,
		},
		Tools: ToolsConfig{
			Install:     []string{"poetry", "install"},
			Test:        []string{"pytest"},
			Lint:        []string{"flake8"},
			Format:      []string{"black"},
			SortImports: []string{"isort"},
			Typecheck:   []string{"mypy"},
			Build:       []string{"poetry", "build"},
			Update:      []string{"poetry", "update"},
			Lock:        []string{"poetry", "lock", "--no-update"},
			Commit:      []string{"cz", "commit"},
			Export:      []string{"poetry", "export", "--without-hashes"},
			Download:    []string{"pip", "download"},
		},
		History: HistoryConfig{
			Path: filepath.Join(".repo", "history.db"),
		},
		Log: LogConfig{
			Level: "warn",
			File:  filepath.Join(".repo", "logs", "repo-debug.log"),
		},
		Release: ReleaseConfig{
			StableBranch: "stable",
			RCBranch:     "next",
			Remote:       "origin",
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		Coverage: CoverageConfig{
			Addr: "127.0.0.1:8000",
			Dir:  ".",
		},
	}
}
