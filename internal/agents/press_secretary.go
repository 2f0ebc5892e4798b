package agents

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode"

	"golang.org/x/time/rate"

	"github.com/rohankatakam/careops/internal/llm"
	"github.com/rohankatakam/careops/internal/messaging"
	"github.com/rohankatakam/careops/internal/models"
	"github.com/rohankatakam/careops/internal/patients"
)

// Advisory types
const (
	AdvisoryPollution = "pollution_alert"
	AdvisoryEpidemic  = "epidemic_alert"
	AdvisorySurge     = "surge_warning"
)

const (
	MaxSMSLength     = 160
	DefaultBatchSize = 100
	DefaultSMSRate   = 10 // per second
	// DefaultFeedbackDelay is how long complaints and opt-outs are collected
	DefaultFeedbackDelay = 24 * time.Hour

	auditSampleSize   = 100
	failureSampleSize = 10
	helpline          = "108"

	maxComplaintRate = 0.05
	maxOptOutRate    = 0.10
)

var templates = map[string]string{
	AdvisoryPollution: "Air quality alert: AQI {aqi}. Respiratory patients advised to stay indoors, use prescribed inhalers. Emergency: Call {helpline}. - {hospital_name}",
	AdvisoryEpidemic:  "Health Advisory: {disease} cases detected in your area. Practice hygiene, avoid crowded places. Symptoms? Call {helpline}. - {hospital_name}",
	AdvisorySurge:     "Hospital Notice: High patient volume expected. Non-urgent cases may experience delays. Emergency care unaffected. - {hospital_name}",
}

// Words that make a message medical advice requiring clinical sign-off
var prescriptionWords = []string{
	"take", "medication", "medications", "dosage", "mg", "tablet", "tablets",
	"prescription", "drug", "drugs", "medicine", "medicines", "pill", "pills",
	"dose", "doses", "inject", "injection",
}

// ContainsPrescription reports whether msg reads as medical advice
func ContainsPrescription(msg string) bool {
	words := strings.FieldsFunc(strings.ToLower(msg), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if slices.Contains(prescriptionWords, w) {
			return true
		}
	}
	return false
}

// capMessage truncates to MaxSMSLength characters
func capMessage(msg string) string {
	r := []rune(msg)
	if len(r) <= MaxSMSLength {
		return msg
	}
	return string(r[:MaxSMSLength-3]) + "..."
}

// AdvisoryRequest describes the situation an advisory is about
type AdvisoryRequest struct {
	Type          string
	Severity      string
	AQI           float64
	Disease       string
	RiskScore     float64
	PredictedLoad int
}

// AdvisoryOutcome is what SendAdvisory did
type AdvisoryOutcome struct {
	Type    string                  `json:"type"`
	Message string                  `json:"message,omitempty"`
	Drafted string                  `json:"drafted_by,omitempty"` // "llm" or "template"
	Skipped bool                    `json:"skipped,omitempty"`
	Reason  string                  `json:"reason,omitempty"`
	Record  *models.ExecutionRecord `json:"record,omitempty"`
}

// PressSecretaryConfig tunes delivery
type PressSecretaryConfig struct {
	Hospital      string
	SenderID      string
	RatePerSecond float64
	BatchSize     int
	BatchPause    time.Duration
	FeedbackDelay time.Duration
}

func (c *PressSecretaryConfig) applyDefaults() {
	if c.Hospital == "" {
		c.Hospital = "City Hospital"
	}
	if c.SenderID == "" {
		c.SenderID = "HOSPITAL"
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = DefaultSMSRate
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FeedbackDelay <= 0 {
		c.FeedbackDelay = DefaultFeedbackDelay
	}
}

// PressSecretary drafts patient advisories and, once cleared, sends them
type PressSecretary struct {
	gate      Proposer
	directory patients.Directory
	sms       messaging.SMSSender
	drafter   *llm.Drafter
	limiter   *rate.Limiter
	cfg       PressSecretaryConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewPressSecretary wires the communicator. drafter may be nil, in which
// case every advisory uses a template.
func NewPressSecretary(g Proposer, dir patients.Directory, sms messaging.SMSSender, drafter *llm.Drafter, cfg PressSecretaryConfig) *PressSecretary {
	cfg.applyDefaults()
	return &PressSecretary{
		gate:      g,
		directory: dir,
		sms:       sms,
		drafter:   drafter,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		cfg:       cfg,
		logger:    slog.Default().With("component", "press_secretary"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// VerifyDelay makes the gate wait for patient feedback before verifying
func (p *PressSecretary) VerifyDelay() time.Duration { return p.cfg.FeedbackDelay }

// SendAdvisory drafts, targets and proposes one advisory. No eligible
// recipients means nothing is proposed.
func (p *PressSecretary) SendAdvisory(ctx context.Context, req AdvisoryRequest) (AdvisoryOutcome, error) {
	out := AdvisoryOutcome{Type: req.Type}

	recipients, err := p.targets(ctx, req.Type)
	if err != nil {
		return out, fmt.Errorf("failed to resolve advisory recipients: %w", err)
	}
	if len(recipients) == 0 {
		p.logger.Warn("no recipients for advisory", "type", req.Type)
		out.Skipped = true
		out.Reason = "No eligible recipients"
		return out, nil
	}

	out.Message, out.Drafted = p.draft(ctx, req)

	sample := make([]string, 0, min(len(recipients), auditSampleSize))
	for _, r := range recipients[:min(len(recipients), auditSampleSize)] {
		sample = append(sample, r.ID)
	}

	action := models.NewAction(&models.PatientAdvisory{
		AdvisoryType:   req.Type,
		MessageContent: out.Message,
		RecipientCount: len(recipients),
		Recipients:     sample,
		Severity:       req.Severity,
		Channel:        "SMS",
	}, fmt.Sprintf("%s event with %s severity. %d at-risk patients identified based on medical history.",
		strings.ToUpper(req.Type), req.Severity, len(recipients)))

	out.Record = p.gate.Propose(ctx, PressSecretaryName, action, p)
	return out, nil
}

func (p *PressSecretary) draft(ctx context.Context, req AdvisoryRequest) (string, string) {
	if p.drafter != nil {
		text, err := p.drafter.Draft(ctx, llm.AdvisoryBrief{
			AdvisoryType: req.Type,
			Severity:     req.Severity,
			Hospital:     p.cfg.Hospital,
			Facts:        facts(req),
		})
		switch {
		case err != nil:
			p.logger.Warn("advisory drafting failed, using template", "type", req.Type, "error", err)
		case ContainsPrescription(text):
			p.logger.Warn("drafted advisory reads as medical advice, using template", "type", req.Type)
		default:
			return capMessage(p.fill(text, req)), "llm"
		}
	}
	tmpl, ok := templates[req.Type]
	if !ok {
		tmpl = templates[AdvisorySurge]
	}
	return capMessage(p.fill(tmpl, req)), "template"
}

func (p *PressSecretary) fill(text string, req AdvisoryRequest) string {
	aqi := "200"
	if req.AQI > 0 {
		aqi = fmt.Sprintf("%.0f", req.AQI)
	}
	disease := req.Disease
	if disease == "" {
		disease = "infectious disease"
	}
	return strings.NewReplacer(
		"{aqi}", aqi,
		"{disease}", disease,
		"{helpline}", helpline,
		"{hospital_name}", p.cfg.Hospital,
	).Replace(text)
}

func facts(req AdvisoryRequest) []string {
	var out []string
	if req.AQI > 0 {
		out = append(out, fmt.Sprintf("AQI %.0f", req.AQI))
	}
	if req.Disease != "" {
		out = append(out, "Disease: "+req.Disease)
	}
	if req.RiskScore > 0 {
		out = append(out, fmt.Sprintf("Outbreak risk score %.2f", req.RiskScore))
	}
	if req.PredictedLoad > 0 {
		out = append(out, fmt.Sprintf("Expected load %d patients", req.PredictedLoad))
	}
	return append(out, "Emergency helpline "+helpline)
}

// targets picks the at-risk audience for an advisory type
func (p *PressSecretary) targets(ctx context.Context, advisoryType string) ([]patients.Patient, error) {
	var q patients.Query
	switch advisoryType {
	case AdvisoryPollution:
		q = patients.Query{
			Conditions:          []string{"asthma", "COPD", "chronic_bronchitis", "emphysema"},
			ActiveOnly:          true,
			ConsentSMSOnly:      true,
			LastVisitWithinDays: 90,
		}
	case AdvisoryEpidemic:
		q = patients.Query{
			Tags:           []string{"immunocompromised", "elderly_65plus", "chronic_illness", "diabetes"},
			ActiveOnly:     true,
			ConsentSMSOnly: true,
		}
	case AdvisorySurge:
		q = patients.Query{AppointmentWithinDays: 7, ConsentSMSOnly: true}
	default:
		q = patients.Query{ActiveOnly: true, ConsentSMSOnly: true, Limit: 1000}
	}
	return p.directory.Query(ctx, q)
}

// Execute sends the advisory by SMS. Recipients are resolved again from the
// directory so consent withdrawn since the proposal is honoured; the approved
// recipient_count caps the send.
func (p *PressSecretary) Execute(ctx context.Context, a models.Action) (map[string]any, error) {
	adv, ok := a.PatientAdvisory()
	if !ok {
		return nil, fmt.Errorf("press secretary cannot execute %s", a.Type)
	}
	if strings.TrimSpace(adv.MessageContent) == "" {
		return nil, fmt.Errorf("advisory has no message content")
	}
	recipients, err := p.targets(ctx, adv.AdvisoryType)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve advisory recipients: %w", err)
	}
	// the approved count is a ceiling; zero or less reaches nobody
	if limit := max(adv.RecipientCount, 0); len(recipients) > limit {
		recipients = recipients[:limit]
	}
	if len(recipients) == 0 {
		p.logger.Warn("advisory approved for no recipients", "advisory_type", adv.AdvisoryType)
	}

	priority := messaging.PriorityNormal
	if strings.EqualFold(adv.Severity, string(models.RiskCritical)) {
		priority = messaging.PriorityHigh
	}

	sent, failed := 0, 0
	var failures []map[string]any
	for start := 0; start < len(recipients); start += p.cfg.BatchSize {
		batch := recipients[start:min(start+p.cfg.BatchSize, len(recipients))]
		for _, r := range batch {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("advisory send interrupted after %d messages: %w", sent, err)
			}
			_, err := p.sms.SendSMS(ctx, messaging.SMS{
				To:       r.Phone,
				Body:     adv.MessageContent,
				SenderID: p.cfg.SenderID,
				Priority: priority,
			})
			if err != nil {
				failed++
				if len(failures) < failureSampleSize {
					failures = append(failures, map[string]any{"patient_id": r.ID, "error": err.Error()})
				}
				p.logger.Warn("sms send failed", "patient_id", r.ID, "error", err)
				continue
			}
			sent++
		}
		if p.cfg.BatchPause > 0 && start+p.cfg.BatchSize < len(recipients) {
			select {
			case <-time.After(p.cfg.BatchPause):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	p.logger.Info("sms campaign complete", "advisory_type", adv.AdvisoryType, "sent", sent, "failed", failed)
	return map[string]any{
		"sent_count":        sent,
		"failed_count":      failed,
		"failed_recipients": failures,
		"message":           adv.MessageContent,
		"total_recipients":  len(recipients),
		"sent_at":           p.now().Format(time.RFC3339),
	}, nil
}

// Verify judges the advisory by complaint and opt-out rates
func (p *PressSecretary) Verify(ctx context.Context, a models.Action, result map[string]any) (models.Verification, error) {
	sent := toInt(result["sent_count"])
	since := p.now().Add(-p.cfg.FeedbackDelay)
	if s, _ := result["sent_at"].(string); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			since = t
		}
	}
	msg, _ := result["message"].(string)

	fb, err := p.directory.Feedback(ctx, since, msg)
	if err != nil {
		return models.Verification{}, fmt.Errorf("failed to collect advisory feedback: %w", err)
	}

	var complaintRate, optOutRate float64
	if sent > 0 {
		complaintRate = float64(fb.Complaints) / float64(sent)
		optOutRate = float64(fb.OptOuts) / float64(sent)
	}

	v := models.Verification{
		VerifiedAt: p.now(),
		Metrics: map[string]any{
			"complaint_rate":  complaintRate,
			"opt_out_rate":    optOutRate,
			"emergency_calls": fb.EmergencyCalls,
		},
	}
	switch {
	case complaintRate > maxComplaintRate:
		v.Notes = fmt.Sprintf("High complaint rate: %.2f%%. %d complaints received.", complaintRate*100, fb.Complaints)
	case optOutRate > maxOptOutRate:
		v.Notes = fmt.Sprintf("High opt-out rate: %.2f%%. Message may have been intrusive.", optOutRate*100)
	default:
		v.Success = true
		v.Notes = fmt.Sprintf("Advisory well-received. Complaints: %d, Opt-outs: %d, Emergency calls: %d",
			fb.Complaints, fb.OptOuts, fb.EmergencyCalls)
	}
	return v, nil
}
