package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	dlqAll       bool
	dlqLimit     int
	dlqOlderThan time.Duration
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect verifications that exhausted their retries",
	Long: `Deferred verifications that keep failing are parked in the dead letter
queue of the SQL audit store. The memory store has no queue.`,
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved dead letters (--all includes resolved ones)",
	Args:  cobra.NoArgs,
	RunE:  runDLQList,
}

var dlqResolveCmd = &cobra.Command{
	Use:   "resolve <action_id>",
	Short: "Mark the dead letters of an action as resolved",
	Args:  cobra.ExactArgs(1),
	RunE:  runDLQResolve,
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete dead letters older than --older-than",
	Args:  cobra.NoArgs,
	RunE:  runDLQPurge,
}

func init() {
	dlqListCmd.Flags().BoolVar(&dlqAll, "all", false, "include resolved entries")
	dlqListCmd.Flags().IntVar(&dlqLimit, "limit", 50, "maximum entries with --all")
	dlqPurgeCmd.Flags().DurationVar(&dlqOlderThan, "older-than", 30*24*time.Hour, "age of entries to delete")

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqResolveCmd)
	dlqCmd.AddCommand(dlqPurgeCmd)
}

func withDLQ(fn func(ctx context.Context, rt *runtime) error) error {
	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.dlq == nil {
		return fmt.Errorf("storage type %q has no dead letter queue", cfg.Storage.Type)
	}
	return fn(ctx, rt)
}

func runDLQList(cmd *cobra.Command, args []string) error {
	return withDLQ(func(ctx context.Context, rt *runtime) error {
		entries, err := rt.dlq.GetPendingRetries(ctx)
		if dlqAll {
			entries, err = rt.dlq.GetRecentFailures(ctx, dlqLimit)
		}
		if err != nil {
			return err
		}
		if wantJSON() {
			return printJSON(entries)
		}
		if len(entries) == 0 {
			fmt.Println("Dead letter queue is empty")
			return nil
		}
		w := newTable("CREATED", "AGENT", "ACTION", "RETRIES", "ERROR", "ACTION ID")
		for _, e := range entries {
			row(w, formatTime(e.CreatedAt), e.Agent, e.ActionType, e.RetryCount, truncate(e.ErrorMessage, 48), e.ActionID)
		}
		return w.Flush()
	})
}

func runDLQResolve(cmd *cobra.Command, args []string) error {
	return withDLQ(func(ctx context.Context, rt *runtime) error {
		if err := rt.dlq.MarkResolved(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Resolved dead letters for %s\n", args[0])
		return nil
	})
}

func runDLQPurge(cmd *cobra.Command, args []string) error {
	return withDLQ(func(ctx context.Context, rt *runtime) error {
		n, err := rt.dlq.PurgeOld(ctx, dlqOlderThan)
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d dead letters older than %s\n", n, formatDuration(dlqOlderThan))
		return nil
	})
}
