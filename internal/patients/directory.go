// Package patients answers "who should hear about this" for advisories.
package patients

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Patient is the contact view of a registered patient
type Patient struct {
	ID         string   `json:"id"`
	Phone      string   `json:"phone"`
	Email      string   `json:"email,omitempty"`
	Conditions []string `json:"conditions"`
	Tags       []string `json:"tags"`
	Active     bool     `json:"active"`
	ConsentSMS bool     `json:"consent_sms"`

	LastVisitDays int `json:"last_visit_days"`
	// AppointmentInDays is 0 when no appointment is booked
	AppointmentInDays int `json:"appointment_in_days,omitempty"`
}

// Query selects patients. Zero fields do not filter. Conditions and Tags
// match when the patient has any of the listed values.
type Query struct {
	Conditions            []string
	Tags                  []string
	ActiveOnly            bool
	ConsentSMSOnly        bool
	LastVisitWithinDays   int
	AppointmentWithinDays int
	Limit                 int
}

// Feedback is what came back after a message went out
type Feedback struct {
	Complaints     int `json:"complaints"`
	OptOuts        int `json:"opt_outs"`
	EmergencyCalls int `json:"emergency_calls"`
}

// Directory is the patient database surface the communicator needs
type Directory interface {
	Query(ctx context.Context, q Query) ([]Patient, error)
	Feedback(ctx context.Context, since time.Time, message string) (Feedback, error)
}

// Match reports whether p satisfies q
func (q Query) Match(p Patient) bool {
	if len(q.Conditions) > 0 && !anyOf(p.Conditions, q.Conditions) {
		return false
	}
	if len(q.Tags) > 0 && !anyOf(p.Tags, q.Tags) {
		return false
	}
	if q.ActiveOnly && !p.Active {
		return false
	}
	if q.ConsentSMSOnly && !p.ConsentSMS {
		return false
	}
	if q.LastVisitWithinDays > 0 && p.LastVisitDays > q.LastVisitWithinDays {
		return false
	}
	if q.AppointmentWithinDays > 0 && (p.AppointmentInDays == 0 || p.AppointmentInDays > q.AppointmentWithinDays) {
		return false
	}
	return true
}

func anyOf(have, want []string) bool {
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}

// MockDirectory is an in-memory directory with a fixed, reproducible roster
type MockDirectory struct {
	mu       sync.RWMutex
	patients []Patient
	feedback Feedback
}

// NewMockDirectory returns 500 respiratory patients followed by 300 elderly
// chronic-illness patients. Values derive from the index so every run sees
// the same roster.
func NewMockDirectory() *MockDirectory {
	roster := make([]Patient, 0, 800)
	for i := 0; i < 500; i++ {
		cond := "asthma"
		if i%2 == 1 {
			cond = "COPD"
		}
		p := Patient{
			ID:            fmt.Sprintf("PAT_%04d", i),
			Phone:         phone(i),
			Conditions:    []string{cond},
			Tags:          []string{"respiratory"},
			Active:        true,
			ConsentSMS:    true,
			LastVisitDays: 1 + (i*37)%90,
		}
		if i%3 == 0 {
			p.AppointmentInDays = 1 + i%7
		}
		roster = append(roster, p)
	}
	for i := 500; i < 800; i++ {
		roster = append(roster, Patient{
			ID:            fmt.Sprintf("PAT_%04d", i),
			Phone:         phone(i),
			Conditions:    []string{"diabetes", "hypertension"},
			Tags:          []string{"elderly_65plus", "chronic_illness"},
			Active:        true,
			ConsentSMS:    true,
			LastVisitDays: 1 + (i*53)%180,
		})
	}
	return NewMockDirectoryWith(roster)
}

// NewMockDirectoryWith serves the given roster
func NewMockDirectoryWith(roster []Patient) *MockDirectory {
	return &MockDirectory{patients: roster}
}

func phone(i int) string {
	return fmt.Sprintf("+91-9%09d", 100000000+i*7919)
}

// SetFeedback fixes what Feedback reports
func (m *MockDirectory) SetFeedback(f Feedback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = f
}

func (m *MockDirectory) Query(ctx context.Context, q Query) ([]Patient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Patient
	for _, p := range m.patients {
		if !q.Match(p) {
			continue
		}
		out = append(out, p)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (m *MockDirectory) Feedback(ctx context.Context, _ time.Time, _ string) (Feedback, error) {
	if err := ctx.Err(); err != nil {
		return Feedback{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.feedback, nil
}
