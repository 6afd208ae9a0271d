package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odbgo/odb/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE:  runConfigInit,
	}
}

// runConfigInit is exempt from config loading like path: a broken existing
// file should produce the "already exists" message, not a parse error.
func runConfigInit(_ *cobra.Command, _ []string) error {
	path := effectiveConfigPath()

	if err := config.WriteStarterConfig(path); err != nil {
		return err
	}

	statusf("Created %s\n", path)

	return nil
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a key in the current profile's config section",
		Long: "Set a key in the current profile's config section.\n\n" +
			"Settable keys: " + strings.Join(config.ProfileKeys(), ", ") + ".",
		Args: cobra.ExactArgs(2),
		RunE: runConfigSet,
	}
}

func runConfigSet(_ *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	rp := resolvedCfg

	if err := config.ValidateProfileKeyValue(rp.Name, key, value); err != nil {
		return err
	}

	path := effectiveConfigPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no config file at %s — run 'odb login' or 'odb config init' first", path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	// SetProfileKey edits text in place, so the section must already exist.
	if _, ok := cfg.Profiles[rp.Name]; !ok {
		return fmt.Errorf("profile %q has no section in %s — run 'odb login' to create it",
			rp.Name, path)
	}

	if err := config.SetProfileKey(path, rp.Name, key, value); err != nil {
		return fmt.Errorf("updating config: %w", err)
	}

	statusf("Set %s for profile %q.\n", key, rp.Name)

	return nil
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE:  runConfigShow,
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		RunE:  runConfigPath,
	}
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return fmt.Errorf("no configuration loaded")
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(resolvedCfg)
	}

	return config.RenderEffective(resolvedCfg, os.Stdout)
}

// runConfigPath prints where the config file is looked up. It is exempt
// from config loading on purpose: the path must print even when the file
// itself is broken.
func runConfigPath(_ *cobra.Command, _ []string) error {
	fmt.Println(effectiveConfigPath())

	return nil
}
