package risk

import (
	"context"

	"github.com/rohankatakam/careops/internal/models"
)

// KillSwitchReader reports whether the live kill switch is engaged
type KillSwitchReader interface {
	IsActive(ctx context.Context) bool
}

// Evaluator binds the pure Evaluate to a policy source and the live kill
// switch, so the store-backed switch and the policy flag are one authority.
type Evaluator struct {
	source *PolicySource
	kill   KillSwitchReader
}

// NewEvaluator creates an evaluator; kill may be nil
func NewEvaluator(source *PolicySource, kill KillSwitchReader) *Evaluator {
	return &Evaluator{source: source, kill: kill}
}

// Evaluate returns the kill-switch verdict when the live switch is engaged,
// otherwise the policy verdict.
func (e *Evaluator) Evaluate(ctx context.Context, action models.Action) models.RiskEvaluation {
	if e.kill != nil && e.kill.IsActive(ctx) {
		return KillSwitchEvaluation()
	}
	return Evaluate(e.source.Policy(), action)
}

// Policy returns the policy currently in force
func (e *Evaluator) Policy() *Policy {
	return e.source.Policy()
}

// Source exposes the underlying policy source
func (e *Evaluator) Source() *PolicySource {
	return e.source
}
