package agents

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/careops/internal/llm"
	"github.com/rohankatakam/careops/internal/messaging"
	"github.com/rohankatakam/careops/internal/models"
	"github.com/rohankatakam/careops/internal/patients"
)

type fixedCompleter struct {
	text string
	err  error
}

func (f fixedCompleter) Complete(context.Context, string, string) (string, error) {
	return f.text, f.err
}

func newPressSecretary(t *testing.T, drafter *llm.Drafter, failFor ...string) (*PressSecretary, *messaging.LogSender, *patients.MockDirectory) {
	t.Helper()
	dir := patients.NewMockDirectory()
	sms := messaging.NewLogSender(failFor...)
	p := NewPressSecretary(newTestGate(t), dir, sms, drafter, PressSecretaryConfig{RatePerSecond: 1e6})
	return p, sms, dir
}

func TestContainsPrescription(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"Take 2 tablets after meals", true},
		{"Increase your DOSAGE today", true},
		{"Stock up on medicines", true},
		{"500mg paracetamol", true},
		{"Drugstores open late", false},
		{"Stay indoors, use prescribed inhalers", false},
		{"Mistakes happen; stay calm", false},
		{"Avoid crowded places", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ContainsPrescription(tt.msg), tt.msg)
	}
}

func TestCapMessage(t *testing.T) {
	short := "Stay indoors."
	assert.Equal(t, short, capMessage(short))

	long := strings.Repeat("é", 200)
	capped := capMessage(long)
	assert.Len(t, []rune(capped), MaxSMSLength)
	assert.True(t, strings.HasSuffix(capped, "..."))
}

func TestPollutionAdvisoryFromTemplate(t *testing.T) {
	p, sms, _ := newPressSecretary(t, nil)

	out, err := p.SendAdvisory(context.Background(), AdvisoryRequest{Type: AdvisoryPollution, Severity: "HIGH", AQI: 320})
	require.NoError(t, err)
	require.NotNil(t, out.Record)

	assert.Equal(t, "template", out.Drafted)
	assert.Equal(t, "Air quality alert: AQI 320. Respiratory patients advised to stay indoors, use prescribed inhalers. Emergency: Call 108. - City Hospital", out.Message)

	rec := out.Record
	assert.Equal(t, PressSecretaryName, rec.Agent)
	assert.Equal(t, models.RiskLow, rec.RiskLevel)
	assert.Equal(t, models.StatusExecuted, rec.Status)

	adv, ok := rec.Action.PatientAdvisory()
	require.True(t, ok)
	assert.Equal(t, 500, adv.RecipientCount)
	assert.Len(t, adv.Recipients, 100)
	assert.Equal(t, "PAT_0000", adv.Recipients[0])
	assert.Equal(t, "SMS", adv.Channel)

	assert.Equal(t, 500, toInt(rec.Result["sent_count"]))
	assert.Equal(t, 0, toInt(rec.Result["failed_count"]))

	sent := sms.SentSMS()
	require.Len(t, sent, 500)
	assert.Equal(t, "HOSPITAL", sent[0].SenderID)
	assert.Equal(t, messaging.PriorityNormal, sent[0].Priority)
}

func TestLLMDraftIsUsedWhenSafe(t *testing.T) {
	drafter := llm.NewDrafter(fixedCompleter{text: `"Smog today. Stay indoors and keep windows shut. Breathless? Call {helpline}."`}, MaxSMSLength)
	p, _, _ := newPressSecretary(t, drafter)

	out, err := p.SendAdvisory(context.Background(), AdvisoryRequest{Type: AdvisoryPollution, Severity: "HIGH", AQI: 250})
	require.NoError(t, err)
	assert.Equal(t, "llm", out.Drafted)
	assert.Equal(t, "Smog today. Stay indoors and keep windows shut. Breathless? Call 108.", out.Message)
}

func TestLLMDraftFallsBackToTemplate(t *testing.T) {
	tests := map[string]fixedCompleter{
		"medical advice": {text: "Take 2 tablets of salbutamol before going out."},
		"provider error": {err: errors.New("quota exceeded")},
	}
	for name, c := range tests {
		t.Run(name, func(t *testing.T) {
			p, _, _ := newPressSecretary(t, llm.NewDrafter(c, MaxSMSLength))
			out, err := p.SendAdvisory(context.Background(), AdvisoryRequest{Type: AdvisorySurge, Severity: "MEDIUM"})
			require.NoError(t, err)
			assert.Equal(t, "template", out.Drafted)
			assert.True(t, strings.HasPrefix(out.Message, "Hospital Notice: High patient volume expected."))
		})
	}
}

func TestAdvisoryWithoutRecipientsIsSkipped(t *testing.T) {
	dir := patients.NewMockDirectoryWith(nil)
	sms := messaging.NewLogSender()
	p := NewPressSecretary(newTestGate(t), dir, sms, nil, PressSecretaryConfig{})

	out, err := p.SendAdvisory(context.Background(), AdvisoryRequest{Type: AdvisoryPollution, Severity: "HIGH"})
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, "No eligible recipients", out.Reason)
	assert.Nil(t, out.Record)
	assert.Empty(t, sms.SentSMS())
}

func TestEpidemicAdvisoryNeedsApproval(t *testing.T) {
	p, sms, _ := newPressSecretary(t, nil)

	out, err := p.SendAdvisory(context.Background(), AdvisoryRequest{Type: AdvisoryEpidemic, Severity: "CRITICAL", Disease: "dengue", RiskScore: 0.6})
	require.NoError(t, err)
	require.NotNil(t, out.Record)
	assert.Equal(t, models.RiskMedium, out.Record.RiskLevel)
	assert.Equal(t, models.StatusTimeout, out.Record.Status)
	assert.Contains(t, out.Message, "dengue cases detected")
	assert.Empty(t, sms.SentSMS())
}

func TestExecuteReportsFailedRecipients(t *testing.T) {
	dir := patients.NewMockDirectory()
	pts, err := dir.Query(context.Background(), patients.Query{AppointmentWithinDays: 7})
	require.NoError(t, err)
	require.Len(t, pts, 167)

	sms := messaging.NewLogSender(pts[0].Phone, pts[1].Phone)
	p := NewPressSecretary(nil, dir, sms, nil, PressSecretaryConfig{RatePerSecond: 1e6, BatchSize: 50})

	result, err := p.Execute(context.Background(), models.NewAction(&models.PatientAdvisory{
		AdvisoryType:   AdvisorySurge,
		MessageContent: "Hospital Notice: expect delays.",
		Severity:       "CRITICAL",
		RecipientCount: len(pts),
	}, ""))
	require.NoError(t, err)

	assert.Equal(t, 165, result["sent_count"])
	assert.Equal(t, 2, result["failed_count"])
	assert.Equal(t, 167, result["total_recipients"])
	failures := result["failed_recipients"].([]map[string]any)
	require.Len(t, failures, 2)
	assert.Equal(t, pts[0].ID, failures[0]["patient_id"])

	sent := sms.SentSMS()
	require.Len(t, sent, 165)
	assert.Equal(t, messaging.PriorityHigh, sent[0].Priority)
}

func TestExecuteHonoursRecipientCount(t *testing.T) {
	p, sms, _ := newPressSecretary(t, nil)
	result, err := p.Execute(context.Background(), models.NewAction(&models.PatientAdvisory{
		AdvisoryType:   AdvisoryPollution,
		MessageContent: "Stay indoors.",
		RecipientCount: 10,
	}, ""))
	require.NoError(t, err)
	assert.Equal(t, 10, result["sent_count"])
	assert.Len(t, sms.SentSMS(), 10)
}

func TestExecuteWithZeroRecipientCountSendsNothing(t *testing.T) {
	for _, count := range []int{0, -5} {
		p, sms, _ := newPressSecretary(t, nil)
		result, err := p.Execute(context.Background(), models.NewAction(&models.PatientAdvisory{
			AdvisoryType:   AdvisoryPollution,
			MessageContent: "Stay indoors.",
			RecipientCount: count,
		}, ""))
		require.NoError(t, err)
		assert.Equal(t, 0, result["sent_count"], count)
		assert.Equal(t, 0, result["total_recipients"], count)
		assert.Empty(t, sms.SentSMS(), count)
	}
}

func TestExecuteRejectsEmptyMessage(t *testing.T) {
	p, _, _ := newPressSecretary(t, nil)
	_, err := p.Execute(context.Background(), models.NewAction(&models.PatientAdvisory{AdvisoryType: AdvisorySurge}, ""))
	assert.Error(t, err)

	_, err = p.Execute(context.Background(), models.NewAction(&models.PurchaseOrder{}, ""))
	assert.Error(t, err)
}

func TestVerifyAdvisoryFeedback(t *testing.T) {
	tests := []struct {
		name     string
		feedback patients.Feedback
		success  bool
		notes    string
	}{
		{"well received", patients.Feedback{Complaints: 10, OptOuts: 20, EmergencyCalls: 4}, true, "Advisory well-received. Complaints: 10, Opt-outs: 20, Emergency calls: 4"},
		{"complaints", patients.Feedback{Complaints: 30}, false, "High complaint rate: 6.00%. 30 complaints received."},
		{"opt outs", patients.Feedback{OptOuts: 60}, false, "High opt-out rate: 12.00%. Message may have been intrusive."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, dir := newPressSecretary(t, nil)
			dir.SetFeedback(tt.feedback)

			v, err := p.Verify(context.Background(), models.Action{}, map[string]any{
				"sent_count": 500,
				"sent_at":    time.Now().UTC().Format(time.RFC3339),
				"message":    "Stay indoors.",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.success, v.Success)
			assert.Equal(t, tt.notes, v.Notes)
			assert.Equal(t, tt.feedback.EmergencyCalls, v.Metrics["emergency_calls"])
		})
	}
}

func TestVerifyDelayDefaultsToFeedbackWindow(t *testing.T) {
	p, _, _ := newPressSecretary(t, nil)
	assert.Equal(t, 24*time.Hour, p.VerifyDelay())
}
