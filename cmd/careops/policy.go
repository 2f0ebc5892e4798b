package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rohankatakam/careops/internal/models"
	"github.com/rohankatakam/careops/internal/risk"
)

var (
	evaluateFile   string
	evaluateAction string
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect and check the risk policy",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the policy in force (file or built-in defaults)",
	RunE:  runPolicyShow,
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Check a policy file without loading it into the gate",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPolicyValidate,
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Dry-run the risk evaluation for an action",
	Long: `Evaluate an action against the policy in force and the live kill switch.
Nothing is proposed or executed.

Examples:
  careops evaluate --action '{"type":"PURCHASE_ORDER","item":"oxygen_cylinders","quantity":10,"cost":50000,"vendor":"vendor_a","item_category":"medical_supplies"}'
  careops evaluate --file action.json
  cat action.json | careops evaluate --file -`,
	RunE: runEvaluate,
}

func init() {
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policyValidateCmd)

	evaluateCmd.Flags().StringVar(&evaluateFile, "file", "", "JSON action file ('-' for stdin)")
	evaluateCmd.Flags().StringVar(&evaluateAction, "action", "", "inline JSON action")
}

func runPolicyShow(cmd *cobra.Command, args []string) error {
	loaded := risk.NewPolicySource(cfg.Policy.Path).Current()
	if wantJSON() {
		return printJSON(map[string]interface{}{
			"source":  loaded.Source,
			"version": loaded.Version(),
			"policy":  loaded.Policy,
		})
	}
	fmt.Printf("# source: %s\n# version: %s\n", loaded.Source, loaded.Version())
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(loaded.Policy)
}

func runPolicyValidate(cmd *cobra.Command, args []string) error {
	path := cfg.Policy.Path
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return fmt.Errorf("no policy path given and policy.path is not configured")
	}
	loaded, err := risk.LoadPolicy(path)
	if err != nil {
		return err
	}
	fmt.Printf("%s: valid (version %s, %d action types)\n", path, loaded.Version(), len(loaded.Policy.ActionTypes))
	return nil
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	raw, err := actionInput()
	if err != nil {
		return err
	}
	var action models.Action
	if err := json.Unmarshal(raw, &action); err != nil {
		return fmt.Errorf("invalid action JSON: %w", err)
	}

	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	eval := risk.NewEvaluator(rt.policy, rt.kill).Evaluate(ctx, action)
	if wantJSON() {
		return printJSON(eval)
	}
	fmt.Printf("Action type:  %s\n", action.Type)
	fmt.Printf("Risk level:   %s\n", eval.RiskLevel)
	fmt.Printf("Route:        %s\n", eval.ExecutionType())
	if len(eval.RequiredApprovals) > 0 {
		fmt.Printf("Approvers:    %v\n", eval.RequiredApprovals)
	}
	fmt.Println("Reasons:")
	for _, r := range eval.Reasons {
		fmt.Printf("  - %s\n", r)
	}
	return nil
}

func actionInput() ([]byte, error) {
	switch {
	case evaluateAction != "":
		return []byte(evaluateAction), nil
	case evaluateFile == "-":
		return io.ReadAll(os.Stdin)
	case evaluateFile != "":
		return os.ReadFile(evaluateFile)
	default:
		return nil, fmt.Errorf("one of --action or --file is required")
	}
}
