package agents

import (
	"testing"
	"time"

	"github.com/rohankatakam/careops/internal/approval"
	"github.com/rohankatakam/careops/internal/gate"
	"github.com/rohankatakam/careops/internal/killswitch"
	"github.com/rohankatakam/careops/internal/risk"
)

type testGate struct {
	*gate.Gate
	kill      *killswitch.Switch
	approvals *approval.Coordinator
}

// newTestGate runs the default policy with a short approval window so
// anything above LOW times out quickly
func newTestGate(t *testing.T) *testGate {
	t.Helper()
	kill := killswitch.New(nil)
	coord := approval.NewCoordinator(nil, approval.WithPollInterval(10*time.Millisecond))
	g := gate.New(risk.StaticPolicySource(risk.DefaultPolicy()), kill, coord,
		gate.WithApprovalTimeout(50*time.Millisecond))
	return &testGate{Gate: g, kill: kill, approvals: coord}
}

func day(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}
