package gate

import (
	"context"

	"github.com/rohankatakam/careops/internal/storage"
)

// SystemStats is the operator summary shown by the CLI
type SystemStats struct {
	storage.Stats
	PendingApprovals int    `json:"pending_approvals"`
	KillSwitchActive bool   `json:"kill_switch_active"`
	PolicyVersion    string `json:"policy_version"`
}

// Stats combines audit counts with live approval and kill switch state
func (g *Gate) Stats(ctx context.Context) (SystemStats, error) {
	st, err := g.store.Stats(ctx)
	if err != nil {
		return SystemStats{}, err
	}
	return SystemStats{
		Stats:            st,
		PendingApprovals: len(g.approvals.ListPending(ctx)),
		KillSwitchActive: g.kill.IsActive(ctx),
		PolicyVersion:    g.policy.Current().Version(),
	}, nil
}
