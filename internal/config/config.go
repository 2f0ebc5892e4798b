package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration settings
type Config struct {
	// Deployment mode
	Mode string `yaml:"mode" mapstructure:"mode"` // "development", "packaged", "ci"

	// Audit record persistence
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Shared KV store (kill switch, approvals, monitoring history)
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`

	Approval     ApprovalConfig     `yaml:"approval" mapstructure:"approval"`
	KillSwitch   KillSwitchConfig   `yaml:"kill_switch" mapstructure:"kill_switch"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
	Verification VerificationConfig `yaml:"verification" mapstructure:"verification"`
	Policy       PolicyConfig       `yaml:"policy" mapstructure:"policy"`
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm"`
	SMS          SMSConfig          `yaml:"sms" mapstructure:"sms"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

type StorageConfig struct {
	Type        string `yaml:"type" mapstructure:"type"` // "postgres", "sqlite", "memory"
	PostgresDSN string `yaml:"postgres_dsn" mapstructure:"postgres_dsn"`
	LocalPath   string `yaml:"local_path" mapstructure:"local_path"`
}

type RedisConfig struct {
	Host     string `yaml:"host" mapstructure:"host"` // empty disables Redis
	Port     int    `yaml:"port" mapstructure:"port"`
	Password string `yaml:"password" mapstructure:"password"`
}

// Enabled reports whether a Redis host is configured
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

type ApprovalConfig struct {
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
}

type KillSwitchConfig struct {
	Key        string        `yaml:"key" mapstructure:"key"`
	TTL        time.Duration `yaml:"ttl" mapstructure:"ttl"`
	FailClosed bool          `yaml:"fail_closed" mapstructure:"fail_closed"`
	LocalPath  string        `yaml:"local_path" mapstructure:"local_path"` // bbolt file used when Redis is absent
}

type MonitoringConfig struct {
	HistorySize int `yaml:"history_size" mapstructure:"history_size"`
}

type VerificationConfig struct {
	Delay              time.Duration `yaml:"delay" mapstructure:"delay"`
	CommunicationDelay time.Duration `yaml:"communication_delay" mapstructure:"communication_delay"`
	MaxAttempts        int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	Backoff            time.Duration `yaml:"backoff" mapstructure:"backoff"`
}

type PolicyConfig struct {
	Path  string `yaml:"path" mapstructure:"path"`
	Watch bool   `yaml:"watch" mapstructure:"watch"`
}

type LLMConfig struct {
	Provider    string `yaml:"provider" mapstructure:"provider"` // "gemini", "openai", "" (templates only)
	GeminiKey   string `yaml:"gemini_key" mapstructure:"gemini_key"`
	GeminiModel string `yaml:"gemini_model" mapstructure:"gemini_model"`
	OpenAIKey   string `yaml:"openai_key" mapstructure:"openai_key"`
	OpenAIModel string `yaml:"openai_model" mapstructure:"openai_model"`
	UseKeychain bool   `yaml:"use_keychain" mapstructure:"use_keychain"`
}

type SMSConfig struct {
	SenderID      string  `yaml:"sender_id" mapstructure:"sender_id"`
	AuthToken     string  `yaml:"auth_token" mapstructure:"auth_token"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	BatchSize     int     `yaml:"batch_size" mapstructure:"batch_size"`
}

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"`
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Mode: string(ModeDevelopment),
		Storage: StorageConfig{
			Type:      "sqlite",
			LocalPath: filepath.Join(homeDir, ".careops", "audit.db"),
		},
		Redis: RedisConfig{
			Port: 6379,
		},
		Approval: ApprovalConfig{
			Timeout:      300 * time.Second,
			PollInterval: 2 * time.Second,
		},
		KillSwitch: KillSwitchConfig{
			Key:       "system:kill_switch",
			TTL:       24 * time.Hour,
			LocalPath: filepath.Join(homeDir, ".careops", "state.db"),
		},
		Monitoring: MonitoringConfig{
			HistorySize: 1000,
		},
		Verification: VerificationConfig{
			Delay:              5 * time.Minute,
			CommunicationDelay: 24 * time.Hour,
			MaxAttempts:        3,
			Backoff:            30 * time.Second,
		},
		Policy: PolicyConfig{
			Path: "config/trust_boundaries.yaml",
		},
		LLM: LLMConfig{
			GeminiModel: "gemini-2.0-flash",
			OpenAIModel: "gpt-4o-mini",
		},
		SMS: SMSConfig{
			SenderID:      "HOSPITAL",
			RatePerSecond: 10,
			BatchSize:     100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	// Load .env files first (in order of precedence)
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	setDefaults(v, cfg)

	v.SetEnvPrefix("CAREOPS")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("careops")
		v.AddConfigPath(".careops")
		v.AddConfigPath("config")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".careops"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("storage.type", cfg.Storage.Type)
	v.SetDefault("storage.local_path", cfg.Storage.LocalPath)
	v.SetDefault("redis.port", cfg.Redis.Port)
	v.SetDefault("approval.timeout", cfg.Approval.Timeout)
	v.SetDefault("approval.poll_interval", cfg.Approval.PollInterval)
	v.SetDefault("kill_switch.key", cfg.KillSwitch.Key)
	v.SetDefault("kill_switch.ttl", cfg.KillSwitch.TTL)
	v.SetDefault("kill_switch.local_path", cfg.KillSwitch.LocalPath)
	v.SetDefault("monitoring.history_size", cfg.Monitoring.HistorySize)
	v.SetDefault("verification.delay", cfg.Verification.Delay)
	v.SetDefault("verification.communication_delay", cfg.Verification.CommunicationDelay)
	v.SetDefault("verification.max_attempts", cfg.Verification.MaxAttempts)
	v.SetDefault("verification.backoff", cfg.Verification.Backoff)
	v.SetDefault("policy.path", cfg.Policy.Path)
	v.SetDefault("llm.gemini_model", cfg.LLM.GeminiModel)
	v.SetDefault("llm.openai_model", cfg.LLM.OpenAIModel)
	v.SetDefault("sms.sender_id", cfg.SMS.SenderID)
	v.SetDefault("sms.rate_per_second", cfg.SMS.RatePerSecond)
	v.SetDefault("sms.batch_size", cfg.SMS.BatchSize)
	v.SetDefault("log.level", cfg.Log.Level)
}

// loadEnvFiles loads .env files in order of precedence
func loadEnvFiles() {
	envFiles := []string{
		".env.local", // Local overrides (highest precedence)
		".env",       // Main environment file
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".careops", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		_ = godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) {
	if mode := os.Getenv("CAREOPS_MODE"); mode != "" {
		cfg.Mode = mode
	}

	// Storage configuration
	if storageType := os.Getenv("STORAGE_TYPE"); storageType != "" {
		cfg.Storage.Type = storageType
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Storage.PostgresDSN = dsn
		if os.Getenv("STORAGE_TYPE") == "" {
			cfg.Storage.Type = "postgres"
		}
	}
	if path := os.Getenv("LOCAL_DB_PATH"); path != "" {
		cfg.Storage.LocalPath = expandPath(path)
	}

	// Redis configuration
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.Redis.Host = host
	}
	cfg.Redis.Port = GetInt("REDIS_PORT", cfg.Redis.Port)
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	// Approval configuration (bare seconds, as the ops runbooks specify them)
	cfg.Approval.Timeout = GetDuration("APPROVAL_TIMEOUT", cfg.Approval.Timeout)
	cfg.Approval.PollInterval = GetDuration("APPROVAL_POLL_INTERVAL", cfg.Approval.PollInterval)

	// Kill switch configuration
	if key := os.Getenv("KILL_SWITCH_REDIS_KEY"); key != "" {
		cfg.KillSwitch.Key = key
	}
	cfg.KillSwitch.FailClosed = GetBool("KILL_SWITCH_FAIL_CLOSED", cfg.KillSwitch.FailClosed)
	if path := os.Getenv("KILL_SWITCH_LOCAL_PATH"); path != "" {
		cfg.KillSwitch.LocalPath = expandPath(path)
	}

	// Policy configuration
	if path := os.Getenv("TRUST_BOUNDARIES_CONFIG_PATH"); path != "" {
		cfg.Policy.Path = expandPath(path)
	}

	// LLM configuration
	// Precedence: 1. Env var (highest) 2. Keychain 3. Config file (lowest)
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		cfg.LLM.Provider = provider
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.LLM.GeminiKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.LLM.OpenAIKey = key
	}
	if cfg.LLM.UseKeychain {
		km := NewKeyringManager()
		if km.IsAvailable() {
			km.Fill(&cfg.LLM.GeminiKey, KeyringGeminiKeyItem)
			km.Fill(&cfg.LLM.OpenAIKey, KeyringOpenAIKeyItem)
			km.Fill(&cfg.SMS.AuthToken, KeyringSMSTokenItem)
		}
	}

	// SMS configuration
	if token := os.Getenv("SMS_AUTH_TOKEN"); token != "" {
		cfg.SMS.AuthToken = token
	}
	if sender := os.Getenv("SMS_SENDER_ID"); sender != "" {
		cfg.SMS.SenderID = sender
	}

	cfg.Log.Level = GetString("LOG_LEVEL", cfg.Log.Level)
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Save saves configuration to file. Secrets are never written.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("mode", c.Mode)
	v.Set("storage.type", c.Storage.Type)
	v.Set("storage.local_path", c.Storage.LocalPath)
	v.Set("redis.host", c.Redis.Host)
	v.Set("redis.port", c.Redis.Port)
	v.Set("approval.timeout", c.Approval.Timeout.String())
	v.Set("approval.poll_interval", c.Approval.PollInterval.String())
	v.Set("kill_switch.key", c.KillSwitch.Key)
	v.Set("kill_switch.ttl", c.KillSwitch.TTL.String())
	v.Set("kill_switch.fail_closed", c.KillSwitch.FailClosed)
	v.Set("kill_switch.local_path", c.KillSwitch.LocalPath)
	v.Set("monitoring.history_size", c.Monitoring.HistorySize)
	v.Set("verification.delay", c.Verification.Delay.String())
	v.Set("verification.communication_delay", c.Verification.CommunicationDelay.String())
	v.Set("verification.max_attempts", c.Verification.MaxAttempts)
	v.Set("verification.backoff", c.Verification.Backoff.String())
	v.Set("policy.path", c.Policy.Path)
	v.Set("policy.watch", c.Policy.Watch)
	v.Set("llm.provider", c.LLM.Provider)
	v.Set("llm.gemini_model", c.LLM.GeminiModel)
	v.Set("llm.openai_model", c.LLM.OpenAIModel)
	v.Set("sms.sender_id", c.SMS.SenderID)
	v.Set("sms.rate_per_second", c.SMS.RatePerSecond)
	v.Set("sms.batch_size", c.SMS.BatchSize)
	v.Set("log.level", c.Log.Level)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
