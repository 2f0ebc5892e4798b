package agents

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/rohankatakam/careops/internal/errors"
	"github.com/rohankatakam/careops/internal/models"
)

const (
	dateLayout = "2006-01-02"

	baseLoad           = 100.0
	festivalFactor     = 1.2
	defaultAQI         = 100.0
	fallbackConfidence = 0.7

	pollutionHighAQI   = 150.0
	epidemicAlertLevel = 0.5
)

// Signals are the external inputs of a forecast
type Signals struct {
	AQI          float64 `json:"aqi"`
	Festival     bool    `json:"festival"`
	EpidemicRisk float64 `json:"epidemic_risk"`
}

// Prediction is what a trained model returns
type Prediction struct {
	Load  int
	Lower int
	Upper int
}

// AQIProvider forecasts the air quality index (0-500) for a date
type AQIProvider interface {
	AQI(ctx context.Context, date time.Time) (float64, error)
}

// EpidemicSignal scores outbreak risk in [0,1]
type EpidemicSignal interface {
	EpidemicRisk(ctx context.Context, date time.Time) (float64, error)
}

// Predictor is an optional trained load model
type Predictor interface {
	Predict(ctx context.Context, date time.Time, s Signals) (Prediction, error)
}

// StaticAQI always reports the same index
type StaticAQI float64

func (a StaticAQI) AQI(context.Context, time.Time) (float64, error) { return float64(a), nil }

// StaticEpidemic always reports the same risk
type StaticEpidemic float64

func (e StaticEpidemic) EpidemicRisk(context.Context, time.Time) (float64, error) {
	return float64(e), nil
}

// DefaultFestivals are the national holidays and festivals that raise load
func DefaultFestivals() map[string]bool {
	return map[string]bool{
		"2025-01-26": true, // Republic Day
		"2025-03-14": true, // Holi
		"2025-04-10": true, // Eid al-Fitr
		"2025-08-15": true, // Independence Day
		"2025-10-02": true, // Gandhi Jayanti
		"2025-10-24": true, // Diwali
		"2025-12-25": true, // Christmas
	}
}

// WatchtowerOption configures a Watchtower
type WatchtowerOption func(*Watchtower)

func WithPredictor(p Predictor) WatchtowerOption {
	return func(w *Watchtower) { w.predictor = p }
}

// WithFestivals replaces the festival calendar; keys are YYYY-MM-DD
func WithFestivals(days map[string]bool) WatchtowerOption {
	return func(w *Watchtower) { w.festivals = days }
}

// Watchtower forecasts patient load. It never proposes actions.
type Watchtower struct {
	aqi       AQIProvider
	epidemic  EpidemicSignal
	predictor Predictor
	festivals map[string]bool

	mu        sync.RWMutex
	forecasts map[string]*models.Forecast

	logger *slog.Logger
	now    func() time.Time
}

func NewWatchtower(aqi AQIProvider, epidemic EpidemicSignal, opts ...WatchtowerOption) *Watchtower {
	w := &Watchtower{
		aqi:       aqi,
		epidemic:  epidemic,
		festivals: DefaultFestivals(),
		forecasts: make(map[string]*models.Forecast),
		logger:    slog.Default().With("component", "watchtower"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Forecast predicts load for date and remembers it for accuracy checks.
// Signal failures degrade to neutral inputs; a failing model degrades to the
// fallback formula.
func (w *Watchtower) Forecast(ctx context.Context, date time.Time) (*models.Forecast, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sig := w.signals(ctx, date)

	f := &models.Forecast{
		Date:        truncateDay(date),
		Drivers:     drivers(sig),
		GeneratedAt: w.now(),
	}

	if w.predictor != nil {
		p, err := w.predictor.Predict(ctx, date, sig)
		if err == nil && p.Load > 0 {
			f.PredictedLoad, f.LowerBound, f.UpperBound = p.Load, p.Lower, p.Upper
			f.Confidence = modelConfidence(p)
			f.Source = "model"
		} else {
			w.logger.Warn("load model prediction failed, using fallback", "date", date.Format(dateLayout), "error", err)
		}
	}
	if f.Source == "" {
		load := fallbackLoad(sig)
		f.PredictedLoad = load
		f.LowerBound = int(float64(load) * 0.85)
		f.UpperBound = int(float64(load) * 1.15)
		f.Confidence = fallbackConfidence
		f.Source = "fallback"
	}

	w.mu.Lock()
	w.forecasts[date.Format(dateLayout)] = f
	w.mu.Unlock()

	w.logger.Info("forecast complete",
		"date", date.Format(dateLayout), "predicted_load", f.PredictedLoad,
		"confidence", f.Confidence, "source", f.Source)
	return f, nil
}

func (w *Watchtower) signals(ctx context.Context, date time.Time) Signals {
	s := Signals{AQI: defaultAQI, Festival: w.festivals[date.Format(dateLayout)]}
	if w.aqi != nil {
		if v, err := w.aqi.AQI(ctx, date); err != nil {
			w.logger.Warn("aqi forecast unavailable, assuming moderate", "error", err)
		} else {
			s.AQI = v
		}
	}
	if w.epidemic != nil {
		if v, err := w.epidemic.EpidemicRisk(ctx, date); err != nil {
			w.logger.Warn("epidemic signal unavailable", "error", err)
		} else {
			s.EpidemicRisk = math.Max(0, math.Min(1, v))
		}
	}
	return s
}

func fallbackLoad(s Signals) int {
	festival := 1.0
	if s.Festival {
		festival = festivalFactor
	}
	load := baseLoad * festival * (1 + 0.3*s.EpidemicRisk) * (1 + 0.1*s.AQI/100)
	return int(load)
}

func modelConfidence(p Prediction) float64 {
	c := 1 - float64(p.Upper-p.Lower)/float64(max(p.Load, 1))
	c = math.Max(0, math.Min(1, c))
	return math.Round(c*100) / 100
}

func drivers(s Signals) map[string]models.Driver {
	d := map[string]models.Driver{}
	if s.AQI > pollutionHighAQI {
		d["pollution"] = models.Driver{Level: models.DriverHigh, Value: s.AQI, Detail: fmt.Sprintf("AQI %.0f", s.AQI)}
	}
	if s.Festival {
		d["festival"] = models.Driver{Level: models.DriverHigh, Value: 1}
	}
	if s.EpidemicRisk > epidemicAlertLevel {
		d["epidemic"] = models.Driver{Level: models.DriverAlert, Value: s.EpidemicRisk}
	}
	return d
}

// EvaluateAccuracy compares the stored forecast for date with the observed load
func (w *Watchtower) EvaluateAccuracy(date time.Time, actual int) (models.Accuracy, error) {
	if actual <= 0 {
		return models.Accuracy{}, errors.ValidationErrorf("actual load must be positive, got %d", actual)
	}
	w.mu.RLock()
	f, ok := w.forecasts[date.Format(dateLayout)]
	w.mu.RUnlock()
	if !ok {
		return models.Accuracy{}, errors.ValidationErrorf("no forecast found for %s", date.Format(dateLayout))
	}

	diff := f.PredictedLoad - actual
	if diff < 0 {
		diff = -diff
	}
	return models.Accuracy{
		Date:          f.Date,
		PredictedLoad: f.PredictedLoad,
		ActualLoad:    actual,
		AbsoluteError: diff,
		PercentError:  math.Round(float64(diff)/float64(actual)*10000) / 100,
		WithinBounds:  f.LowerBound <= actual && actual <= f.UpperBound,
	}, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
