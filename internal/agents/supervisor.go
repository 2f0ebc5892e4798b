package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rohankatakam/careops/internal/models"
)

// Load levels that trigger patient advisories
const (
	pollutionAdvisoryLoad = 150
	surgeAdvisoryLoad     = 200
)

// DailyReport summarises one supervisor cycle
type DailyReport struct {
	Date           time.Time         `json:"date"`
	Forecast       *models.Forecast  `json:"forecast"`
	Resources      *ResourceReport   `json:"resources"`
	Advisories     []AdvisoryOutcome `json:"advisories"`
	ActionsTaken   int               `json:"actions_taken"`
	AdvisoriesSent int               `json:"advisories_sent"`
	Summary        string            `json:"summary"`
	GeneratedAt    time.Time         `json:"generated_at"`
}

// Supervisor runs the daily cycle: forecast, resources, advisories, report
type Supervisor struct {
	watchtower     *Watchtower
	quartermaster  *Quartermaster
	pressSecretary *PressSecretary
	logger         *slog.Logger
	now            func() time.Time
}

func NewSupervisor(w *Watchtower, q *Quartermaster, p *PressSecretary) *Supervisor {
	return &Supervisor{
		watchtower:     w,
		quartermaster:  q,
		pressSecretary: p,
		logger:         slog.Default().With("component", "supervisor"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// RunDailyCycle runs every stage for date. A forecast failure aborts the
// cycle; advisory failures are logged and the cycle continues.
func (s *Supervisor) RunDailyCycle(ctx context.Context, date time.Time) (*DailyReport, error) {
	s.logger.Info("starting daily cycle", "date", date.Format(dateLayout))

	forecast, err := s.watchtower.Forecast(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("forecast failed: %w", err)
	}

	resources, err := s.quartermaster.AnalyzeAndAct(ctx, forecast)
	if err != nil {
		return nil, fmt.Errorf("resource planning failed: %w", err)
	}

	report := &DailyReport{
		Date:         truncateDay(date),
		Forecast:     forecast,
		Resources:    resources,
		ActionsTaken: len(resources.Actions),
	}

	for _, req := range advisoriesFor(forecast) {
		out, err := s.pressSecretary.SendAdvisory(ctx, req)
		if err != nil {
			s.logger.Error("advisory failed", "type", req.Type, "error", err)
			continue
		}
		report.Advisories = append(report.Advisories, out)
		if out.Record != nil && out.Record.Status == models.StatusExecuted {
			report.AdvisoriesSent++
		}
	}

	report.Summary = summary(report)
	report.GeneratedAt = s.now()
	s.logger.Info("daily cycle complete",
		"date", date.Format(dateLayout), "actions", report.ActionsTaken, "advisories_sent", report.AdvisoriesSent)
	return report, nil
}

func advisoriesFor(f *models.Forecast) []AdvisoryRequest {
	var reqs []AdvisoryRequest
	if f.PredictedLoad > pollutionAdvisoryLoad && f.DriverLevel("pollution") == models.DriverHigh {
		reqs = append(reqs, AdvisoryRequest{
			Type:          AdvisoryPollution,
			Severity:      string(models.RiskHigh),
			AQI:           f.Drivers["pollution"].Value,
			PredictedLoad: f.PredictedLoad,
		})
	}
	if f.DriverLevel("epidemic") == models.DriverAlert {
		reqs = append(reqs, AdvisoryRequest{
			Type:      AdvisoryEpidemic,
			Severity:  string(models.RiskCritical),
			RiskScore: f.Drivers["epidemic"].Value,
		})
	}
	if f.PredictedLoad > surgeAdvisoryLoad {
		reqs = append(reqs, AdvisoryRequest{
			Type:          AdvisorySurge,
			Severity:      string(models.RiskMedium),
			PredictedLoad: f.PredictedLoad,
		})
	}
	return reqs
}

func summary(r *DailyReport) string {
	byStatus := map[models.ExecutionStatus]int{}
	for _, rec := range r.Resources.Actions {
		if rec != nil {
			byStatus[rec.Status]++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Daily Cycle Summary for %s:\n", r.Date.Format(dateLayout))
	fmt.Fprintf(&b, "- Predicted Patient Load: %d (%d-%d, %s)\n",
		r.Forecast.PredictedLoad, r.Forecast.LowerBound, r.Forecast.UpperBound, r.Forecast.Source)
	fmt.Fprintf(&b, "- Resource Actions Taken: %d (executed %d, timed out %d, rejected %d, failed %d, blocked %d)\n",
		r.ActionsTaken,
		byStatus[models.StatusExecuted],
		byStatus[models.StatusTimeout],
		byStatus[models.StatusRejected],
		byStatus[models.StatusFailed],
		byStatus[models.StatusBlocked])
	fmt.Fprintf(&b, "- Patient Advisories Sent: %d of %d", r.AdvisoriesSent, len(r.Advisories))
	return b.String()
}
