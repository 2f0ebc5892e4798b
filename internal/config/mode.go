package config

import (
	"os"
	"strings"
)

// DeploymentMode decides how strict validation is about shared state
type DeploymentMode string

const (
	// ModeDevelopment: .env file, optional Redis, mock SMS and patients
	ModeDevelopment DeploymentMode = "development"
	// ModePackaged: a hospital install. Redis is required so every operator
	// console sees the same kill switch.
	ModePackaged DeploymentMode = "packaged"
	// ModeCI: environment variables only, no prompts
	ModeCI DeploymentMode = "ci"
)

var ciEnvVars = []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "BUILDKITE", "JENKINS_URL"}

// ParseMode accepts the long and short spellings. ok is false for anything else.
func ParseMode(s string) (DeploymentMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "development", "dev":
		return ModeDevelopment, true
	case "packaged", "production", "prod":
		return ModePackaged, true
	case "ci":
		return ModeCI, true
	}
	return "", false
}

// DetectMode honours CAREOPS_MODE, then CI markers, then treats a working
// directory with .env or go.mod as development
func DetectMode() DeploymentMode {
	if m, ok := ParseMode(os.Getenv("CAREOPS_MODE")); ok {
		return m
	}
	for _, v := range ciEnvVars {
		if os.Getenv(v) != "" {
			return ModeCI
		}
	}
	for _, marker := range []string{".env", "go.mod"} {
		if _, err := os.Stat(marker); err == nil {
			return ModeDevelopment
		}
	}
	return ModePackaged
}

// DeploymentMode returns the configured mode, detecting it when unset
func (c *Config) DeploymentMode() DeploymentMode {
	if m, ok := ParseMode(c.Mode); ok {
		return m
	}
	return DetectMode()
}

func (m DeploymentMode) String() string {
	return string(m)
}

// RequiresSharedState is true where several hosts act on the same hospital
func (m DeploymentMode) RequiresSharedState() bool {
	return m == ModePackaged || m == ModeCI
}

// AllowsPrompts reports whether secrets may be read from a terminal
func (m DeploymentMode) AllowsPrompts() bool {
	return m != ModeCI
}

func (m DeploymentMode) Description() string {
	switch m {
	case ModeDevelopment:
		return "local development"
	case ModePackaged:
		return "hospital deployment"
	case ModeCI:
		return "CI pipeline"
	default:
		return "unknown mode"
	}
}
