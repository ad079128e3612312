// Package config is the daemon's environment+flag configuration surface,
// mirroring the teacher's internal/profile layout: a flat struct populated
// from viper-bound flags, enriched with secrets from the environment, and
// validated once at startup.
package config

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// Config is the configuration to start the buhbot-sla daemon.
type Config struct {
	Mode    string // dev, demo, prod
	Addr    string
	Port    int
	Driver  string // postgres, sqlite
	DSN     string
	Version string

	// TelegramToken authenticates the chat adapter. Secret, env-only.
	TelegramToken string

	// AI classifier — OpenAI-compatible protocol (§4.1 step 5, unified
	// across providers, mirroring internal/profile's ALLMProvider shape).
	AIProvider string
	AIAPIKey   string
	AIBaseURL  string
	AIModel    string
	AITimeoutSeconds int

	// Reconciliation and worker concurrency (spec.md §5, §6 configuration
	// surface); these have safe defaults and are overridable via BUHBOT_*
	// environment variables. ReconcileIntervalSeconds, ReconcileLockTTLSeconds
	// and SurveyConcurrency are loaded but not passed to any component: the
	// reconciler sweeps every minute with a fixed 300s lock TTL.
	ReconcileIntervalSeconds int
	ReconcileLockTTLSeconds  int
	TimerPollIntervalMillis  int
	SLATimerConcurrency      int
	AlertDeliveryConcurrency int
	SurveyConcurrency        int
	AlertDeliveryRateLimit   float64 // messages/second ceiling, spec.md §6

	MetricsAddr string
}

var aiProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"deepseek": {BaseURL: "https://api.deepseek.com", Model: "deepseek-chat"},
	"openai":   {BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini"},
	"siliconflow": {BaseURL: "https://api.siliconflow.cn/v1", Model: "Qwen/Qwen2.5-7B-Instruct"},
	"dashscope":   {BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1", Model: "qwen-max-latest"},
	"openrouter":  {BaseURL: "https://openrouter.ai/api/v1", Model: "deepseek/deepseek-chat"},
	"ollama":      {BaseURL: "http://localhost:11434", Model: "llama3.1"},
}

func (c *Config) IsDev() bool {
	return c.Mode != "prod"
}

// IsAIEnabled reports whether the AI classifier layer should be wired in.
// Without an API key the classifier falls straight through to the keyword
// layer, per spec.md §4.1 step 5's fallback semantics.
func (c *Config) IsAIEnabled() bool {
	return c.AIAPIKey != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// FromEnv loads secrets and AI/worker tuning from the environment. Flags
// (mode, addr, port, driver, dsn) are bound via viper in cmd/buhbot-sla and
// already set on c before FromEnv runs.
func (c *Config) FromEnv() {
	c.TelegramToken = getEnvOrDefault("BUHBOT_TELEGRAM_TOKEN", "")

	c.AIProvider = getEnvOrDefault("BUHBOT_AI_PROVIDER", "deepseek")
	c.AIAPIKey = getEnvOrDefault("BUHBOT_AI_API_KEY", "")
	c.AIBaseURL = getEnvOrDefault("BUHBOT_AI_BASE_URL", "")
	c.AIModel = getEnvOrDefault("BUHBOT_AI_MODEL", "")
	c.AITimeoutSeconds = getEnvOrDefaultInt("BUHBOT_AI_TIMEOUT_SECONDS", 30) // spec.md §5 classifier timeout

	if defaults, ok := aiProviderDefaults[c.AIProvider]; ok {
		if c.AIBaseURL == "" {
			c.AIBaseURL = defaults.BaseURL
		}
		if c.AIModel == "" {
			c.AIModel = defaults.Model
		}
	}

	c.ReconcileIntervalSeconds = getEnvOrDefaultInt("BUHBOT_RECONCILE_INTERVAL_SECONDS", 300) // ~5 minutes, spec.md §4.5
	c.ReconcileLockTTLSeconds = getEnvOrDefaultInt("BUHBOT_RECONCILE_LOCK_TTL_SECONDS", 300)  // spec.md §5
	c.TimerPollIntervalMillis = getEnvOrDefaultInt("BUHBOT_TIMER_POLL_INTERVAL_MILLIS", 1000) // spec.md §9
	c.SLATimerConcurrency = getEnvOrDefaultInt("BUHBOT_SLA_TIMER_CONCURRENCY", 5)
	c.AlertDeliveryConcurrency = getEnvOrDefaultInt("BUHBOT_ALERT_DELIVERY_CONCURRENCY", 5)
	c.SurveyConcurrency = getEnvOrDefaultInt("BUHBOT_SURVEY_CONCURRENCY", 5)
	c.AlertDeliveryRateLimit = getEnvOrDefaultFloat("BUHBOT_ALERT_DELIVERY_RATE_LIMIT", 30) // spec.md §6

	c.MetricsAddr = getEnvOrDefault("BUHBOT_METRICS_ADDR", ":9090")
}

// Validate checks invariants that must hold before the daemon starts
// accepting work.
func (c *Config) Validate() error {
	if c.Mode != "demo" && c.Mode != "dev" && c.Mode != "prod" {
		c.Mode = "demo"
	}

	if c.Driver != "postgres" && c.Driver != "sqlite" {
		return errors.Errorf("unsupported driver: %s", c.Driver)
	}

	if c.Mode == "prod" && c.TelegramToken == "" {
		return errors.New("BUHBOT_TELEGRAM_TOKEN is required in prod mode")
	}

	if c.Driver == "postgres" && c.DSN == "" {
		return errors.New("dsn is required for the postgres driver")
	}

	return nil
}
