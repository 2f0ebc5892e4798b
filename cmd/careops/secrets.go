package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/careops/internal/config"
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Store LLM and SMS credentials in the OS keychain",
	Long: `Store credentials in the OS keychain instead of the config file.
Set llm.use_keychain: true for them to be picked up. Environment variables
(GEMINI_API_KEY, OPENAI_API_KEY, SMS_AUTH_TOKEN) still take precedence.`,
}

var secretsSetCmd = &cobra.Command{
	Use:       "set <gemini|openai|sms>",
	Short:     "Prompt for a credential and save it",
	Args:      cobra.ExactArgs(1),
	ValidArgs: secretNames(),
	RunE:      runSecretsSet,
}

var secretsDeleteCmd = &cobra.Command{
	Use:   "delete <gemini|openai|sms>",
	Short: "Remove a credential",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretsDelete,
}

var secretsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which credentials are stored",
	RunE:  runSecretsStatus,
}

func init() {
	secretsCmd.AddCommand(secretsSetCmd)
	secretsCmd.AddCommand(secretsDeleteCmd)
	secretsCmd.AddCommand(secretsStatusCmd)
}

func secretNames() []string {
	names := make([]string, 0, len(config.SecretItems))
	for name := range config.SecretItems {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func secretItem(name string) (string, error) {
	item, ok := config.SecretItems[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("unknown credential %q (want one of %s)", name, strings.Join(secretNames(), ", "))
	}
	return item, nil
}

func runSecretsSet(cmd *cobra.Command, args []string) error {
	item, err := secretItem(args[0])
	if err != nil {
		return err
	}
	km := config.NewKeyringManager()
	if !km.IsAvailable() {
		return fmt.Errorf("OS keychain not available; use environment variables instead")
	}
	if mode := cfg.DeploymentMode(); !mode.AllowsPrompts() && config.IsInteractive() {
		return fmt.Errorf("secrets cannot be entered interactively in %s mode; pipe the value on stdin", mode.Description())
	}
	secret, err := config.ReadSecret(fmt.Sprintf("Enter %s credential: ", args[0]))
	if err != nil {
		return err
	}
	if err := km.Set(item, secret); err != nil {
		return err
	}
	fmt.Printf("Saved %s credential (%s) to the OS keychain\n", args[0], config.MaskSecret(secret))
	return nil
}

func runSecretsDelete(cmd *cobra.Command, args []string) error {
	item, err := secretItem(args[0])
	if err != nil {
		return err
	}
	if err := config.NewKeyringManager().Delete(item); err != nil {
		return err
	}
	fmt.Printf("Removed %s credential\n", args[0])
	return nil
}

func runSecretsStatus(cmd *cobra.Command, args []string) error {
	km := config.NewKeyringManager()
	if !km.IsAvailable() {
		fmt.Println("OS keychain: not available")
		return nil
	}
	fmt.Println("OS keychain: available")
	for _, name := range secretNames() {
		secret, err := km.Get(config.SecretItems[name])
		switch {
		case err != nil:
			fmt.Printf("  %-7s error: %v\n", name, err)
		case secret == "":
			fmt.Printf("  %-7s not set\n", name)
		default:
			fmt.Printf("  %-7s %s\n", name, config.MaskSecret(secret))
		}
	}
	return nil
}
