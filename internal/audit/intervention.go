package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Kind of operator intervention
type Kind string

const (
	KillSwitchActivated   Kind = "kill_switch_activated"
	KillSwitchDeactivated Kind = "kill_switch_deactivated"
	ActionApproved        Kind = "action_approved"
	ActionApprovedChanged Kind = "action_approved_modified"
	ActionRejected        Kind = "action_rejected"
)

// Intervention is one human override of autonomous behaviour
type Intervention struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	Operator  string    `json:"operator"`
	ActionID  string    `json:"action_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Recorder is implemented by intervention sinks
type Recorder interface {
	Record(ctx context.Context, iv Intervention) error
}

// DefaultPath is where interventions land when no path is configured
const DefaultPath = ".careops/interventions.jsonl"

// Log appends interventions to a JSONL file, one object per line
type Log struct {
	mu   sync.Mutex
	path string
}

// NewLog creates a log writing to path (DefaultPath when empty)
func NewLog(path string) *Log {
	if path == "" {
		path = DefaultPath
	}
	return &Log{path: path}
}

// Path returns the file being written
func (l *Log) Path() string { return l.path }

// Record appends iv. The directory is created on first use.
func (l *Log) Record(_ context.Context, iv Intervention) error {
	if iv.Timestamp.IsZero() {
		iv.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(iv)
}

// ReadAll returns every intervention in file order. A missing file is empty.
func (l *Log) ReadAll() ([]Intervention, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Intervention
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var iv Intervention
		if err := json.Unmarshal(sc.Bytes(), &iv); err != nil {
			return out, fmt.Errorf("%s:%d: %w", l.path, line, err)
		}
		out = append(out, iv)
	}
	return out, sc.Err()
}

// Nop discards interventions
type Nop struct{}

func (Nop) Record(context.Context, Intervention) error { return nil }
