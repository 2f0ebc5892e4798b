package config

import (
	"fmt"
	"strings"

	"github.com/rohankatakam/careops/internal/errors"
)

// ValidationContext specifies what configuration is required
type ValidationContext string

const (
	// ValidationContextGate - proposing actions needs policy, approval and kill switch settings
	ValidationContextGate ValidationContext = "gate"
	// ValidationContextOperator - approve/reject/kill switch commands need the shared store
	ValidationContextOperator ValidationContext = "operator"
	// ValidationContextCycle - the daily cycle additionally needs SMS and LLM settings
	ValidationContextCycle ValidationContext = "cycle"
	// ValidationContextAll - validate all configuration
	ValidationContextAll ValidationContext = "all"
)

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n")
	for _, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err))
	}

	if len(vr.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, warn := range vr.Warnings {
			sb.WriteString(fmt.Sprintf("  ! %s\n", warn))
		}
	}

	return sb.String()
}

// AsError converts a failed result into a config error, or nil when valid
func (vr *ValidationResult) AsError() error {
	if !vr.HasErrors() {
		return nil
	}
	return errors.ConfigError(vr.Error())
}

// Validate validates configuration for the given context in the configured mode
func (c *Config) Validate(ctx ValidationContext) *ValidationResult {
	return c.ValidateWithMode(ctx, c.DeploymentMode())
}

// ValidateWithMode validates configuration for the given context and deployment mode
func (c *Config) ValidateWithMode(ctx ValidationContext, mode DeploymentMode) *ValidationResult {
	result := &ValidationResult{Valid: true}

	switch ctx {
	case ValidationContextGate:
		c.validateApproval(result)
		c.validateKillSwitch(result, mode)
		c.validateStorage(result, mode)
	case ValidationContextOperator:
		c.validateKillSwitch(result, mode)
	case ValidationContextCycle:
		c.validateApproval(result)
		c.validateKillSwitch(result, mode)
		c.validateStorage(result, mode)
		c.validateVerification(result)
		c.validateSMS(result)
		c.validateLLM(result)
	case ValidationContextAll:
		c.validateApproval(result)
		c.validateKillSwitch(result, mode)
		c.validateStorage(result, mode)
		c.validateVerification(result)
		c.validateSMS(result)
		c.validateLLM(result)
		if c.Monitoring.HistorySize <= 0 {
			result.AddError("monitoring.history_size must be positive (got %d)", c.Monitoring.HistorySize)
		}
	}

	return result
}

func (c *Config) validateApproval(result *ValidationResult) {
	if c.Approval.Timeout <= 0 {
		result.AddError("approval.timeout must be positive (got %s)", c.Approval.Timeout)
	}
	if c.Approval.PollInterval <= 0 {
		result.AddError("approval.poll_interval must be positive (got %s)", c.Approval.PollInterval)
	} else if c.Approval.PollInterval > c.Approval.Timeout && c.Approval.Timeout > 0 {
		result.AddWarning("approval.poll_interval (%s) exceeds approval.timeout (%s)", c.Approval.PollInterval, c.Approval.Timeout)
	}
}

func (c *Config) validateKillSwitch(result *ValidationResult, mode DeploymentMode) {
	if c.KillSwitch.Key == "" {
		result.AddError("kill_switch.key must not be empty")
	}
	if c.KillSwitch.TTL <= 0 {
		result.AddError("kill_switch.ttl must be positive (got %s)", c.KillSwitch.TTL)
	}
	if !c.Redis.Enabled() {
		if mode.RequiresSharedState() {
			result.AddError("REDIS_HOST is required in %s mode (%s): the kill switch must be shared across processes", mode, mode.Description())
		} else {
			result.AddWarning("REDIS_HOST is not set; kill switch and approvals are local to this host")
		}
	}
}

func (c *Config) validateStorage(result *ValidationResult, mode DeploymentMode) {
	switch c.Storage.Type {
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			result.AddError("DATABASE_URL is required when storage.type is postgres")
			return
		}
		if !strings.HasPrefix(c.Storage.PostgresDSN, "postgres://") && !strings.HasPrefix(c.Storage.PostgresDSN, "postgresql://") {
			result.AddError("DATABASE_URL must start with postgres:// or postgresql://")
		}
		if strings.Contains(c.Storage.PostgresDSN, "sslmode=disable") {
			if mode.RequiresSharedState() {
				result.AddError("DATABASE_URL has sslmode=disable. This is not allowed in %s mode.", mode)
			} else {
				result.AddWarning("DATABASE_URL has sslmode=disable")
			}
		}
	case "sqlite":
		if c.Storage.LocalPath == "" {
			result.AddError("storage.local_path is required when storage.type is sqlite")
		}
	case "memory":
		if mode.RequiresSharedState() {
			result.AddWarning("storage.type is memory; audit records are lost on restart")
		}
	default:
		result.AddError("storage.type must be one of postgres, sqlite, memory (got %q)", c.Storage.Type)
	}
}

func (c *Config) validateVerification(result *ValidationResult) {
	if c.Verification.Delay < 0 || c.Verification.CommunicationDelay < 0 {
		result.AddError("verification delays must not be negative")
	}
	if c.Verification.MaxAttempts < 1 {
		result.AddError("verification.max_attempts must be at least 1 (got %d)", c.Verification.MaxAttempts)
	}
}

func (c *Config) validateSMS(result *ValidationResult) {
	if c.SMS.RatePerSecond <= 0 {
		result.AddError("sms.rate_per_second must be positive")
	}
	if c.SMS.BatchSize <= 0 {
		result.AddError("sms.batch_size must be positive")
	}
	if c.SMS.AuthToken == "" {
		result.AddWarning("SMS_AUTH_TOKEN is not set; advisories will use the logging sender")
	}
}

func (c *Config) validateLLM(result *ValidationResult) {
	switch c.LLM.Provider {
	case "":
		// templates only
	case "gemini":
		if c.LLM.GeminiKey == "" {
			result.AddWarning("GEMINI_API_KEY is not set; advisories fall back to templates")
		}
	case "openai":
		if c.LLM.OpenAIKey == "" {
			result.AddWarning("OPENAI_API_KEY is not set; advisories fall back to templates")
		}
	default:
		result.AddError("llm.provider must be gemini, openai or empty (got %q)", c.LLM.Provider)
	}
}
