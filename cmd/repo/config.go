package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/quara-dev/repo/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [KEY [VALUE]]",
	Short: "Show or change configuration",
	Long: `View or modify repo configuration.

Without arguments, prints the effective configuration as YAML.
With one argument (key), prints the value for that key.
With two arguments (key value), writes the value to the project config.

Settings are read, lowest precedence first, from built-in defaults,
~/.config/repo/config.yaml, the [tool:repo] section of setup.cfg,
.repo.yaml and REPO_* environment variables (REPO_RUN_JOBS=4).`,
	Args:              usageArgs(cobra.MaximumNArgs(2)),
	ValidArgsFunction: completeConfigKey,
	RunE:              runConfig,
}

func completeConfigKey(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return config.Keys(), cobra.ShellCompDirectiveNoFileComp
}

func runConfig(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	switch len(args) {
	case 0:
		return displayAllConfig(e)
	case 1:
		return displayConfigKey(e, args[0])
	default:
		return setConfigKey(e, args[0], args[1])
	}
}

// displayAllConfig prints the effective configuration and where it came
// from.
func displayAllConfig(e *env) error {
	tree, err := e.cfg.Map()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(tree)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	fmt.Fprintf(e.stdout, "# root: %s\n", e.root)
	if flagConfig != "" {
		fmt.Fprintf(e.stdout, "# config file: %s\n", flagConfig)
	} else {
		fmt.Fprintf(e.stdout, "# user config: %s\n", config.GetUserConfigPath())
		if p := config.GetProjectConfigPath(e.root); p != "" {
			fmt.Fprintf(e.stdout, "# project config: %s\n", p)
		}
	}
	_, err = e.stdout.Write(data)
	return err
}

// displayConfigKey prints a single value, or a section as YAML.
func displayConfigKey(e *env, key string) error {
	value, err := config.Get(e.cfg, key)
	if err != nil {
		return err
	}
	switch v := value.(type) {
	case map[string]any, []any:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		_, err = e.stdout.Write(data)
		return err
	default:
		fmt.Fprintln(e.stdout, v)
		return nil
	}
}

// setConfigKey writes a value to the project config.
func setConfigKey(e *env, key, value string) error {
	path, err := config.SetProjectValue(e.root, key, value)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Set %s = %s in %s\n", key, value, path)
	return nil
}
