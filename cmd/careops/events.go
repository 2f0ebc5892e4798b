package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var eventsLimit int

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent monitoring events",
	Long: `Show the most recent monitoring events, newest first. With Redis
configured this includes events broadcast by every careops process.`,
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "number of events to show")
}

func runEvents(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	events, err := rt.hub.RecentShared(ctx, eventsLimit)
	if err != nil {
		logger.WithError(err).Warn("Shared event history unavailable, showing local events")
	}
	if wantJSON() {
		return printJSON(events)
	}
	if len(events) == 0 {
		fmt.Println("No events recorded")
		return nil
	}
	w := newTable("TIME", "TYPE", "AGENT", "STATUS", "RISK", "ACTION ID")
	for _, ev := range events {
		row(w, formatTime(ev.Timestamp), ev.Type, dash(ev.Agent), dash(ev.Status), dash(ev.RiskLevel), dash(ev.ActionID))
	}
	return w.Flush()
}

// streamEvents prints every event as a JSON line until ctx ends
func streamEvents(ctx context.Context, rt *runtime) error {
	events, cancel := rt.hub.Subscribe(64)
	defer cancel()

	logger.Info("Serving; press Ctrl-C to stop")
	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			logger.Infof("Stopping with %d verification(s) pending", rt.verifier.Pending())
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
