package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/careops/internal/dlq"
	"github.com/rohankatakam/careops/internal/gate"
	"github.com/rohankatakam/careops/internal/models"
	"github.com/rohankatakam/careops/internal/storage"
)

var (
	historyAgent  string
	historyStatus string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show terminal execution records, newest first",
	RunE:  runHistory,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show system statistics",
	RunE:  runStats,
}

func init() {
	historyCmd.Flags().StringVar(&historyAgent, "agent", "", "only records proposed by this agent")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "only records with this status (EXECUTED, TIMEOUT, ...)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", storage.DefaultHistoryLimit, "maximum records to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	records, err := rt.store.ListHistory(ctx, storage.HistoryFilter{
		Agent:  historyAgent,
		Status: models.ExecutionStatus(strings.ToUpper(historyStatus)),
		Limit:  historyLimit,
	})
	if err != nil {
		return err
	}
	if wantJSON() {
		return printJSON(records)
	}
	if len(records) == 0 {
		fmt.Println("No execution history")
		return nil
	}
	w := newTable("PROPOSED", "AGENT", "ACTION", "RISK", "STATUS", "ROUTE", "BY", "ACTION ID")
	for _, rec := range records {
		by := rec.ApprovedBy
		if by == "" {
			by = rec.RejectedBy
		}
		row(w, formatTime(rec.ProposedAt), rec.Agent, rec.Action.Type, rec.RiskLevel, rec.Status, rec.ExecutionType, dash(by), rec.ActionID)
	}
	return w.Flush()
}

type statsView struct {
	gate.SystemStats
	DeadLetters *dlq.Stats `json:"dead_letters,omitempty"`
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	st, err := rt.gate.Stats(ctx)
	if err != nil {
		return err
	}
	view := statsView{SystemStats: st}
	if rt.dlq != nil {
		if view.DeadLetters, err = rt.dlq.GetStats(ctx); err != nil {
			logger.WithError(err).Warn("Dead letter stats unavailable")
		}
	}
	if wantJSON() {
		return printJSON(view)
	}

	fmt.Println("CareOps Statistics")
	fmt.Println(strings.Repeat("=", 40))
	fmt.Printf("  Total actions:      %d\n", st.Total)
	fmt.Printf("  Autonomous:         %d\n", st.Autonomous)
	fmt.Printf("  Approved:           %d\n", st.Approved)
	fmt.Printf("  Rejected:           %d\n", st.Rejected)
	fmt.Printf("  Timed out:          %d\n", st.TimedOut)
	fmt.Printf("  Failed:             %d\n", st.Failed)
	fmt.Printf("  Blocked:            %d\n", st.Blocked)
	fmt.Printf("  Pending approvals:  %d\n", st.PendingApprovals)
	fmt.Printf("  Kill switch active: %v\n", st.KillSwitchActive)
	fmt.Printf("  Policy version:     %s\n", st.PolicyVersion)
	if d := view.DeadLetters; d != nil {
		fmt.Printf("  Dead letters:       %d (%d retryable)\n", d.TotalEntries, d.RetryableEntries)
	}
	return nil
}
