package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/careops/internal/agents"
	"github.com/rohankatakam/careops/internal/config"
	"github.com/rohankatakam/careops/internal/llm"
	"github.com/rohankatakam/careops/internal/messaging"
	"github.com/rohankatakam/careops/internal/patients"
)

var (
	cycleDate     string
	cycleAQI      float64
	cycleEpidemic float64
	cycleHospital string
	cycleServe    bool
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run the daily agent cycle through the gate",
	Long: `Forecast patient load, propose resource actions and patient advisories,
and print the daily report. Actions above LOW risk wait for approval
(see 'careops approvals').

With --serve the process stays up after the report so deferred outcome
verifications can run, streaming monitoring events until interrupted.`,
	RunE: runCycle,
}

func init() {
	cycleCmd.Flags().StringVar(&cycleDate, "date", "", "forecast date YYYY-MM-DD (default: today)")
	cycleCmd.Flags().Float64Var(&cycleAQI, "aqi", 100, "air quality index signal")
	cycleCmd.Flags().Float64Var(&cycleEpidemic, "epidemic", 0, "epidemic risk signal in [0,1]")
	cycleCmd.Flags().StringVar(&cycleHospital, "hospital", "", "hospital name used in advisories")
	cycleCmd.Flags().BoolVar(&cycleServe, "serve", false, "keep running for deferred verifications")
}

func runCycle(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	date := time.Now().UTC()
	if cycleDate != "" {
		d, err := time.Parse("2006-01-02", cycleDate)
		if err != nil {
			return fmt.Errorf("invalid --date %q: %w", cycleDate, err)
		}
		date = d
	}

	if res := cfg.Validate(config.ValidationContextCycle); res.HasErrors() {
		return res.AsError()
	}

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	supervisor, err := buildSupervisor(ctx, rt)
	if err != nil {
		return err
	}

	report, err := supervisor.RunDailyCycle(ctx, date)
	if err != nil {
		return err
	}

	if wantJSON() {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}

	if !cycleServe {
		if n := rt.verifier.Pending(); n > 0 {
			logger.Infof("%d verification(s) scheduled; use --serve to keep them running", n)
		}
		return nil
	}
	return streamEvents(ctx, rt)
}

func buildSupervisor(ctx context.Context, rt *runtime) (*agents.Supervisor, error) {
	var opts []llm.ClientOption
	if rt.redis != nil {
		opts = append(opts, llm.WithQuota(llm.NewQuota(rt.redis.Client(), 0, 0, 0)))
	}
	client, err := llm.NewClient(ctx, cfg.LLM, opts...)
	if err != nil {
		return nil, err
	}
	var drafter *llm.Drafter
	if client.IsEnabled() {
		drafter = llm.NewDrafter(client, agents.MaxSMSLength)
	}

	watchtower := agents.NewWatchtower(agents.StaticAQI(cycleAQI), agents.StaticEpidemic(cycleEpidemic))
	quartermaster := agents.NewQuartermaster(rt.gate)
	press := agents.NewPressSecretary(rt.gate, patients.NewMockDirectory(), messaging.NewLogSender(), drafter,
		agents.PressSecretaryConfig{
			Hospital:      cycleHospital,
			SenderID:      cfg.SMS.SenderID,
			RatePerSecond: cfg.SMS.RatePerSecond,
			BatchSize:     cfg.SMS.BatchSize,
			FeedbackDelay: cfg.Verification.CommunicationDelay,
		})
	return agents.NewSupervisor(watchtower, quartermaster, press), nil
}

func printReport(r *agents.DailyReport) {
	fmt.Println(r.Summary)
	fmt.Println()

	w := newTable("AGENT", "ACTION", "RISK", "STATUS", "ROUTE", "ACTION ID")
	for _, rec := range r.Resources.Actions {
		row(w, rec.Agent, rec.Action.Type, rec.RiskLevel, rec.Status, rec.ExecutionType, rec.ActionID)
	}
	for _, adv := range r.Advisories {
		if adv.Record == nil {
			row(w, agents.PressSecretaryName, adv.Type, "-", "SKIPPED", "-", adv.Reason)
			continue
		}
		rec := adv.Record
		row(w, rec.Agent, rec.Action.Type, rec.RiskLevel, rec.Status, rec.ExecutionType, rec.ActionID)
	}
	_ = w.Flush()
}
