package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	careerrors "github.com/rohankatakam/careops/internal/errors"
	"github.com/rohankatakam/careops/internal/models"
)

var (
	approveBy     string
	approveNotes  string
	approveModify string
	rejectReason  string
	waitTimeout   time.Duration
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Review actions waiting for human approval",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending actions, oldest first",
	RunE:  runApprovalsList,
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <action-id>",
	Short: "Approve a pending action",
	Long: `Approve a pending action. --modify takes a JSON file with the action
fields to execute instead (for example a lower quantity); fields left out
keep the proposed values.

Examples:
  careops approvals approve action_1a2b3c4d5e6f --by cfo --notes "ok for this week"
  careops approvals approve action_1a2b3c4d5e6f --by cfo --modify smaller-order.json`,
	Args: cobra.ExactArgs(1),
	RunE: runApprovalsApprove,
}

var approvalsRejectCmd = &cobra.Command{
	Use:   "reject <action-id>",
	Short: "Reject a pending action",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprovalsReject,
}

var approvalsWaitCmd = &cobra.Command{
	Use:   "wait <action-id>",
	Short: "Block until an action is decided or the timeout passes",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprovalsWait,
}

func init() {
	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsApproveCmd)
	approvalsCmd.AddCommand(approvalsRejectCmd)
	approvalsCmd.AddCommand(approvalsWaitCmd)

	approvalsApproveCmd.Flags().StringVar(&approveBy, "by", "", "approver (default: current user)")
	approvalsApproveCmd.Flags().StringVar(&approveNotes, "notes", "", "approval notes")
	approvalsApproveCmd.Flags().StringVar(&approveModify, "modify", "", "JSON file with modified action fields")

	approvalsRejectCmd.Flags().StringVar(&approveBy, "by", "", "rejecter (default: current user)")
	approvalsRejectCmd.Flags().StringVar(&rejectReason, "reason", "", "rejection reason (required)")
	_ = approvalsRejectCmd.MarkFlagRequired("reason")

	approvalsWaitCmd.Flags().DurationVar(&waitTimeout, "timeout", 0, "how long to wait (default: approval.timeout)")
}

func runApprovalsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	pending := rt.approvals.ListPending(ctx)
	if wantJSON() {
		return printJSON(pending)
	}
	if len(pending) == 0 {
		fmt.Println("No actions awaiting approval")
		return nil
	}
	w := newTable("ACTION ID", "TYPE", "WAITING", "URGENCY", "REASONING")
	for _, p := range pending {
		row(w, p.ActionID, p.Action.Type, formatDuration(time.Since(p.RegisteredAt)), dash(p.Action.Urgency), truncate(p.Action.Reasoning, 60))
	}
	return w.Flush()
}

func runApprovalsApprove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	actionID := args[0]
	var modified *models.Action
	if approveModify != "" {
		pending, ok := rt.approvals.GetPending(ctx, actionID)
		if !ok {
			return fmt.Errorf("action %s is not pending; cannot apply modifications", actionID)
		}
		m, err := readActionPatch(approveModify, pending.Action)
		if err != nil {
			return err
		}
		modified = &m
	}

	d, err := rt.approvals.Approve(ctx, actionID, operator(approveBy), approveNotes, modified)
	if err != nil {
		return err
	}
	if wantJSON() {
		return printJSON(d)
	}
	fmt.Printf("Approved %s by %s\n", actionID, d.ApprovedBy)
	if d.ModifiedAction != nil {
		fmt.Println("  With modifications")
	}
	return nil
}

// readActionPatch overlays the fields in path onto the proposed action
func readActionPatch(path string, proposed models.Action) (models.Action, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Action{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	base, err := json.Marshal(proposed)
	if err != nil {
		return models.Action{}, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(base, &fields); err != nil {
		return models.Action{}, err
	}
	patch := map[string]any{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return models.Action{}, fmt.Errorf("invalid action JSON in %s: %w", path, err)
	}
	for k, v := range patch {
		fields[k] = v
	}
	return models.ActionFromMap(fields).WithID(proposed.ID), nil
}

func runApprovalsReject(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	d, err := rt.approvals.Reject(ctx, args[0], operator(approveBy), rejectReason)
	if err != nil {
		return err
	}
	if wantJSON() {
		return printJSON(d)
	}
	fmt.Printf("Rejected %s by %s: %s\n", args[0], d.RejectedBy, d.RejectionReason)
	return nil
}

func runApprovalsWait(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	timeout := waitTimeout
	if timeout <= 0 {
		timeout = rt.approvals.Timeout()
	}
	d := rt.approvals.WaitForApproval(ctx, args[0], timeout)
	if wantJSON() {
		return printJSON(d)
	}
	fmt.Printf("%s: %s\n", args[0], d.Status)
	if d.Status == models.ApprovalTimeout {
		return careerrors.TimeoutErrorf("no decision on %s within %s", args[0], timeout).
			WithContext("action_id", args[0])
	}
	return nil
}
