package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/careops/internal/config"
)

var (
	validateContext string
	initForce       bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CareOps configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration for a command family",
	RunE:  runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to ~/.careops/careops.yaml",
	RunE:  runConfigInit,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)

	configValidateCmd.Flags().StringVar(&validateContext, "context", "all", "gate, operator, cycle or all")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	mode := config.DetectMode()
	res := cfg.ValidateWithMode(config.ValidationContext(strings.ToLower(validateContext)), mode)
	if wantJSON() {
		return printJSON(res)
	}
	fmt.Printf("Mode: %s (%s)\n", mode, mode.Description())
	for _, w := range res.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	for _, e := range res.Errors {
		fmt.Printf("  error: %s\n", e)
	}
	if res.HasErrors() {
		return res.AsError()
	}
	fmt.Println("Configuration OK")
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		path = filepath.Join(home, ".careops", "careops.yaml")
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Default().Save(path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
