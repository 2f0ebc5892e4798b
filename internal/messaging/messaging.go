// Package messaging delivers patient advisories. Only a logging sender
// ships here; real gateways plug in behind SMSSender and EmailSender.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Priority of an outgoing message
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// SMS is one outgoing text message
type SMS struct {
	To       string
	Body     string
	SenderID string
	Priority Priority
}

// Email is one outgoing email
type Email struct {
	To      string
	Subject string
	Body    string
}

// Receipt acknowledges a message accepted for delivery
type Receipt struct {
	MessageID string `json:"message_id"`
	To        string `json:"to"`
	Mock      bool   `json:"mock"`
}

type SMSSender interface {
	SendSMS(ctx context.Context, msg SMS) (Receipt, error)
}

type EmailSender interface {
	SendEmail(ctx context.Context, msg Email) (Receipt, error)
}

// LogSender logs instead of delivering and keeps what it sent. Recipients
// listed in FailFor are refused, which lets callers exercise partial failure.
type LogSender struct {
	mu      sync.Mutex
	sms     []SMS
	emails  []Email
	failFor map[string]bool
	logger  *slog.Logger
}

// NewLogSender returns a sender that refuses the given recipients
func NewLogSender(failFor ...string) *LogSender {
	s := &LogSender{
		failFor: make(map[string]bool, len(failFor)),
		logger:  slog.Default().With("component", "messaging"),
	}
	for _, to := range failFor {
		s.failFor[to] = true
	}
	return s
}

func (s *LogSender) SendSMS(ctx context.Context, msg SMS) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if msg.To == "" {
		return Receipt{}, fmt.Errorf("sms recipient missing")
	}
	if s.failFor[msg.To] {
		return Receipt{}, fmt.Errorf("sms gateway refused %s", msg.To)
	}

	s.mu.Lock()
	s.sms = append(s.sms, msg)
	s.mu.Unlock()

	s.logger.Debug("sms sent (mock)", "to", msg.To, "sender_id", msg.SenderID, "priority", msg.Priority, "length", len(msg.Body))
	return Receipt{MessageID: "mock_" + uuid.NewString(), To: msg.To, Mock: true}, nil
}

func (s *LogSender) SendEmail(ctx context.Context, msg Email) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if msg.To == "" {
		return Receipt{}, fmt.Errorf("email recipient missing")
	}
	if s.failFor[msg.To] {
		return Receipt{}, fmt.Errorf("mail relay refused %s", msg.To)
	}

	s.mu.Lock()
	s.emails = append(s.emails, msg)
	s.mu.Unlock()

	s.logger.Debug("email sent (mock)", "to", msg.To, "subject", msg.Subject)
	return Receipt{MessageID: "mock_" + uuid.NewString(), To: msg.To, Mock: true}, nil
}

// SentSMS returns a copy of every accepted SMS in send order
func (s *LogSender) SentSMS() []SMS {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SMS(nil), s.sms...)
}

func (s *LogSender) SentEmails() []Email {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Email(nil), s.emails...)
}
