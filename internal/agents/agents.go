// Package agents holds the hospital operations agents. Agents only propose;
// every side effect runs through the gate they are given.
package agents

import (
	"context"

	"github.com/rohankatakam/careops/internal/gate"
	"github.com/rohankatakam/careops/internal/models"
)

// Agent names as they appear in records and monitoring events
const (
	WatchtowerName     = "Watchtower"
	QuartermasterName  = "Quartermaster"
	PressSecretaryName = "Press Secretary"
)

// Proposer is the gate as seen by agents
type Proposer interface {
	Propose(ctx context.Context, agent string, action models.Action, exec gate.Executor) *models.ExecutionRecord
}

// toInt reads a count out of an executor result, which may have been
// through JSON on its way back
func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
