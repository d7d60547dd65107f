package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds application-level settings. Every field is a flag that can
// also be supplied through the environment by cfg.FillFromEnv.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	DatabaseURL     string
	DBMaxConns      int
	SlowQueryMillis int
	RedisURL        string

	QueueCapacity int
	DedupIntake   bool

	ClaudeAPIKey string
	ClaudeModel  string

	SlackWebhookURL string
	SlackMaxLevel   int

	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string

	APITokens         string
	CORSOrigins       string
	IntakeRatePerMin  int
	SessionIdleMinute int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.IntVar(&c.DBMaxConns, "db-max-conns", 10, "maximum PostgreSQL pool connections (1..100)")
	fs.IntVar(&c.SlowQueryMillis, "db-slow-query-ms", 250, "log successful queries slower than this many milliseconds (0 = never)")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis URL for the AI summary cache (empty = in-process cache)")

	fs.IntVar(&c.QueueCapacity, "queue-capacity", 20, "nominal number of waiting patients the department is staffed for")
	fs.BoolVar(&c.DedupIntake, "dedup-intake", false, "skip an intake while an identical patient is still being saved")

	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "Anthropic API key for AI summaries (empty = summaries disabled)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-5", "Claude model used for AI summaries")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for intake notices")
	fs.IntVar(&c.SlackMaxLevel, "slack-max-level", 2, "least severe triage level announced on Slack (1..5); failures are always sent")

	fs.StringVar(&c.ElevenLabsAPIKey, "elevenlabs-api-key", "", "ElevenLabs API key for spoken assistant prompts (empty = speech disabled)")
	fs.StringVar(&c.ElevenLabsVoiceID, "elevenlabs-voice-id", "21m00Tcm4TlvDq8ikWAM", "ElevenLabs voice used for spoken prompts")

	fs.StringVar(&c.APITokens, "api-tokens", "", "comma separated bearer tokens for the API (empty = no auth)")
	fs.StringVar(&c.CORSOrigins, "cors-origins", "http://localhost:3000", "comma separated origins allowed to call the API from a browser")
	fs.IntVar(&c.IntakeRatePerMin, "intake-rate-per-minute", 60, "per client IP limit on patient submissions (0 = unlimited)")
	fs.IntVar(&c.SessionIdleMinute, "session-idle-minutes", 30, "minutes before an idle triage assistant session is discarded")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.DatabaseURL != "" {
		if err := checkURL("DATABASE_URL", c.DatabaseURL, "postgres", "postgresql"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.DBMaxConns <= 0 || c.DBMaxConns > 100 {
		errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNS %d (must be 1..100)", c.DBMaxConns))
	}
	if c.SlowQueryMillis < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_SLOW_QUERY_MS %d (must be >= 0)", c.SlowQueryMillis))
	}
	if c.RedisURL != "" {
		if err := checkURL("REDIS_URL", c.RedisURL, "redis", "rediss"); err != nil {
			errs = append(errs, err)
		}
	}

	if c.QueueCapacity <= 0 || c.QueueCapacity > 10000 {
		errs = append(errs, fmt.Errorf("invalid QUEUE_CAPACITY %d (must be 1..10000)", c.QueueCapacity))
	}

	// an API key without a model is a misconfiguration; no key just disables summaries
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if c.SlackWebhookURL != "" {
		if err := checkURL("SLACK_WEBHOOK_URL", c.SlackWebhookURL, "https"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.SlackMaxLevel < 1 || c.SlackMaxLevel > 5 {
		errs = append(errs, fmt.Errorf("invalid SLACK_MAX_LEVEL %d (must be 1..5)", c.SlackMaxLevel))
	}

	// the voice ID is a URL path segment
	if c.ElevenLabsAPIKey != "" && !isVoiceID(c.ElevenLabsVoiceID) {
		errs = append(errs, fmt.Errorf("invalid ELEVENLABS_VOICE_ID %q (must be 1..64 letters or digits)", c.ElevenLabsVoiceID))
	}

	for _, o := range c.AllowedOrigins() {
		if o == "*" {
			continue
		}
		if err := checkURL("CORS_ORIGINS", o, "http", "https"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.IntakeRatePerMin < 0 {
		errs = append(errs, fmt.Errorf("invalid INTAKE_RATE_PER_MINUTE %d (must be >= 0)", c.IntakeRatePerMin))
	}
	if c.SessionIdleMinute <= 0 || c.SessionIdleMinute > 24*60 {
		errs = append(errs, fmt.Errorf("invalid SESSION_IDLE_MINUTES %d (must be 1..1440)", c.SessionIdleMinute))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// AllowedOrigins returns the CORS origins as a list.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// SlowQuery returns the slow query threshold as a duration.
func (c *Config) SlowQuery() time.Duration {
	return time.Duration(c.SlowQueryMillis) * time.Millisecond
}

// SessionIdle returns the assistant session idle TTL.
func (c *Config) SessionIdle() time.Duration {
	return time.Duration(c.SessionIdleMinute) * time.Minute
}

func checkURL(name, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			if u.Host == "" {
				return fmt.Errorf("invalid %s: missing host", name)
			}
			return nil
		}
	}
	return fmt.Errorf("invalid %s: scheme %q (want %s)", name, u.Scheme, strings.Join(schemes, " or "))
}

func isVoiceID(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
