package models

import "time"

// DriverLevel grades one contributor to predicted load
type DriverLevel string

const (
	DriverLow    DriverLevel = "LOW"
	DriverNormal DriverLevel = "NORMAL"
	DriverHigh   DriverLevel = "HIGH"
	DriverAlert  DriverLevel = "ALERT"
)

// Driver explains one input of a forecast
type Driver struct {
	Level  DriverLevel `json:"level"`
	Value  float64     `json:"value"`
	Detail string      `json:"detail,omitempty"`
}

// Forecast is the predicted patient load for a date
type Forecast struct {
	Date          time.Time         `json:"date"`
	PredictedLoad int               `json:"predicted_load"`
	LowerBound    int               `json:"lower_bound"`
	UpperBound    int               `json:"upper_bound"`
	Confidence    float64           `json:"confidence"`
	Drivers       map[string]Driver `json:"drivers"`
	Source        string            `json:"source"` // "model" or "fallback"
	GeneratedAt   time.Time         `json:"generated_at"`
}

// DriverLevel returns the level of a named driver, or LOW when absent
func (f *Forecast) DriverLevel(name string) DriverLevel {
	if d, ok := f.Drivers[name]; ok {
		return d.Level
	}
	return DriverLow
}

// Accuracy compares a stored forecast with the observed load
type Accuracy struct {
	Date          time.Time `json:"date"`
	PredictedLoad int       `json:"predicted_load"`
	ActualLoad    int       `json:"actual_load"`
	AbsoluteError int       `json:"absolute_error"`
	PercentError  float64   `json:"percent_error"`
	WithinBounds  bool      `json:"within_bounds"`
}
