// Package config parses and validates all application configuration from
// environment variables using caarlos0/env/v11.
//
// Call [Load] once at startup; pass the resulting [Config] to subcommands.
package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration sourced from environment
// variables.
type Config struct {
	// ── Database ─────────────────────────────────────────────────────────────────
	DatabaseURL          string        `env:"DATABASE_URL,required"`
	DBMaxConns           int32         `env:"DB_MAX_CONNS"            envDefault:"10"`
	DBMaxConnIdleTime    time.Duration `env:"DB_MAX_CONN_IDLE_TIME"   envDefault:"5m"`
	DBStatementTimeoutMS int           `env:"DB_STATEMENT_TIMEOUT_MS" envDefault:"14000"`
	// DBQueryExecMode: "simple_protocol" (PgBouncer-compatible) or "extended_protocol".
	DBQueryExecMode string `env:"DB_QUERY_EXEC_MODE" envDefault:"extended_protocol"`

	// ── Server ───────────────────────────────────────────────────────────────────
	ListenAddr             string `env:"LISTEN_ADDR"              envDefault:":8080"`
	AppEnv                 string `env:"APP_ENV"                  envDefault:"development"`
	ShutdownTimeoutSeconds int    `env:"SHUTDOWN_TIMEOUT_SECONDS" envDefault:"30"`

	// ── Worker ───────────────────────────────────────────────────────────────────
	PollInterval             time.Duration `env:"WORKER_POLL_INTERVAL"      envDefault:"2s"`
	AlertsConcurrency        int           `env:"ALERTS_CONCURRENCY"        envDefault:"5"`
	NotificationsConcurrency int           `env:"NOTIFICATIONS_CONCURRENCY" envDefault:"3"`
	ReportsConcurrency       int           `env:"REPORTS_CONCURRENCY"       envDefault:"2"`
	BackoffBase              time.Duration `env:"RETRY_BACKOFF_BASE"        envDefault:"1s"`
	BackoffMax               time.Duration `env:"RETRY_BACKOFF_MAX"         envDefault:"5m"`

	// ── Alert routing ────────────────────────────────────────────────────────────
	// Comma-separated internal email recipients for alert emails.
	AlertRecipients string `env:"ALERT_RECIPIENTS" envDefault:"admin@nexa.local,logistics@nexa.local"`
	LogisticsPhone  string `env:"LOGISTICS_PHONE"  envDefault:"+5491134567890"`

	// ── Email — SMTP ─────────────────────────────────────────────────────────────
	// Empty SMTP_HOST selects the simulated email channel (dev mode).
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPFrom     string `env:"SMTP_FROM" envDefault:"nexa@localhost"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPTLS      bool   `env:"SMTP_TLS"  envDefault:"false"`

	// ── Simulated channels ───────────────────────────────────────────────────────
	// Latency of the stand-in whatsapp/sms/email providers.
	SimulatedSendLatency time.Duration `env:"SIMULATED_SEND_LATENCY" envDefault:"1s"`

	// ── Logging ──────────────────────────────────────────────────────────────────
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load parses and returns Config from environment variables.
// Returns an error if any required field is missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the application runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// AlertRecipientList splits the comma-separated recipients, dropping empties.
func (c *Config) AlertRecipientList() []string {
	var out []string
	for _, r := range strings.Split(c.AlertRecipients, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
