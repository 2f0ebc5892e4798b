package main

import (
	"context"
	"fmt"
	"os/user"

	"github.com/spf13/cobra"
)

var (
	ksReason string
	ksBy     string
	ksNotes  string
)

var killSwitchCmd = &cobra.Command{
	Use:     "killswitch",
	Aliases: []string{"kill-switch"},
	Short:   "Halt or resume all autonomous execution",
}

var killSwitchActivateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Halt every agent action until deactivated",
	RunE:  runKillSwitchActivate,
}

var killSwitchDeactivateCmd = &cobra.Command{
	Use:   "deactivate",
	Short: "Resume autonomous execution",
	RunE:  runKillSwitchDeactivate,
}

var killSwitchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show kill switch state",
	RunE:  runKillSwitchStatus,
}

func init() {
	killSwitchCmd.AddCommand(killSwitchActivateCmd)
	killSwitchCmd.AddCommand(killSwitchDeactivateCmd)
	killSwitchCmd.AddCommand(killSwitchStatusCmd)

	killSwitchActivateCmd.Flags().StringVar(&ksReason, "reason", "", "why the system is being halted (required)")
	killSwitchActivateCmd.Flags().StringVar(&ksBy, "by", "", "operator name (default: current user)")
	_ = killSwitchActivateCmd.MarkFlagRequired("reason")

	killSwitchDeactivateCmd.Flags().StringVar(&ksBy, "by", "", "operator name (default: current user)")
	killSwitchDeactivateCmd.Flags().StringVar(&ksNotes, "notes", "", "reactivation notes")
}

// operator defaults --by to the OS user so interventions are never anonymous
func operator(flag string) string {
	if flag != "" {
		return flag
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "operator"
}

func runKillSwitchActivate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	act, err := rt.kill.Activate(ctx, ksReason, operator(ksBy))
	if err != nil {
		return err
	}
	if wantJSON() {
		return printJSON(act)
	}
	fmt.Printf("Kill switch ACTIVATED by %s at %s\n", act.ActivatedBy, formatTime(act.ActivatedAt))
	fmt.Printf("  Reason: %s\n", act.Reason)
	if act.Degraded {
		fmt.Println("  Warning: shared store unreachable; only this host is halted")
	}
	return nil
}

func runKillSwitchDeactivate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	re, err := rt.kill.Deactivate(ctx, operator(ksBy), ksNotes)
	if err != nil {
		return err
	}
	if wantJSON() {
		return printJSON(re)
	}
	fmt.Printf("Kill switch deactivated by %s at %s\n", re.ReactivatedBy, formatTime(re.ReactivatedAt))
	if re.Degraded && rt.redis != nil {
		fmt.Println("  Warning: shared store rejected the change; other hosts may still be halted")
	}
	return nil
}

func runKillSwitchStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	st := rt.kill.Status(ctx)
	if wantJSON() {
		return printJSON(st)
	}
	if st.KillSwitchActive {
		fmt.Println("Kill switch: ACTIVE (all agent actions blocked)")
	} else {
		fmt.Println("Kill switch: inactive")
	}
	if a := st.Activation; a != nil && a.ActivatedBy != "" {
		fmt.Printf("  Last activation: %s by %s (%s)\n", formatTime(a.ActivatedAt), a.ActivatedBy, a.Reason)
	}
	if r := st.Reactivation; r != nil {
		fmt.Printf("  Last reactivation: %s by %s\n", formatTime(r.ReactivatedAt), r.ReactivatedBy)
	}
	fmt.Printf("  Failure policy: %s\n", st.FailurePolicy)
	if st.Degraded {
		fmt.Println("  Shared store: DEGRADED (answering from local state)")
	}
	return nil
}
