// Package config provides configuration types and loading for skytext.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration struct.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Twilio    TwilioConfig    `json:"twilio"`
	Agent     AgentConfig     `json:"agent"`
	Store     StoreConfig     `json:"store"`
	Weather   WeatherConfig   `json:"weather"`
	Mirror    MirrorConfig    `json:"mirror"`
	Alerts    AlertsConfig    `json:"alerts"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Log       LogConfig       `json:"log"`
}

// ---------------------------------------------------------------------------
// Gateway – inbound HTTP
// ---------------------------------------------------------------------------

// GatewayConfig configures the HTTP listener.
type GatewayConfig struct {
	Host string `json:"host" envconfig:"HOST"`
	Port int    `json:"port" envconfig:"PORT"`
	// PublicBaseURL is the externally visible origin used to verify webhook
	// signatures behind a proxy.
	PublicBaseURL string `json:"publicBaseUrl" envconfig:"PUBLIC_BASE_URL"`
}

// Addr returns host:port.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// TwilioConfig holds the webhook credentials. An empty token disables
// signature checks.
type TwilioConfig struct {
	AuthToken string `json:"authToken" envconfig:"AUTH_TOKEN"`
}

// ---------------------------------------------------------------------------
// Agent – request pipeline
// ---------------------------------------------------------------------------

// AgentConfig tunes the executor.
type AgentConfig struct {
	DefaultLocation string        `json:"defaultLocation" envconfig:"DEFAULT_LOCATION"`
	MaxInputChars   int           `json:"maxInputChars" envconfig:"MAX_INPUT_CHARS"`
	MaxMessageChars int           `json:"maxMessageChars" envconfig:"MAX_MESSAGE_CHARS"`
	IncludeRefID    bool          `json:"includeRefId" envconfig:"INCLUDE_REF_ID"`
	MemoryTTL       time.Duration `json:"memoryTtl" envconfig:"MEMORY_TTL"`
}

// ---------------------------------------------------------------------------
// Store – trace persistence
// ---------------------------------------------------------------------------

// StoreConfig selects the trace store backend.
type StoreConfig struct {
	Mode string `json:"mode" envconfig:"MODE"`
	// Path is the NDJSON log or bolt file. Not tagged PATH: envconfig would
	// fall back to the process search path.
	Path        string        `json:"path" envconfig:"FILE"`
	Driver      string        `json:"driver" envconfig:"DRIVER"`
	DSN         string        `json:"dsn" envconfig:"DSN"`
	AutoMigrate bool          `json:"autoMigrate" envconfig:"AUTO_MIGRATE"`
	RedisURL    string        `json:"redisUrl" envconfig:"REDIS_URL"`
	KeyPrefix   string        `json:"keyPrefix" envconfig:"KEY_PREFIX"`
	TTL         time.Duration `json:"ttl" envconfig:"TTL"`
}

// ---------------------------------------------------------------------------
// Weather – forecast sources
// ---------------------------------------------------------------------------

// Weather modes.
const (
	WeatherModeLive    = "live"
	WeatherModeFixture = "fixture"
)

// WeatherConfig configures geocoding and forecasts.
type WeatherConfig struct {
	Mode              string        `json:"mode" envconfig:"MODE"`
	ForecastURL       string        `json:"forecastUrl" envconfig:"FORECAST_URL"`
	GeocodeURL        string        `json:"geocodeUrl" envconfig:"GEOCODE_URL"`
	Timeout           time.Duration `json:"timeout" envconfig:"TIMEOUT"`
	Retries           int           `json:"retries" envconfig:"RETRIES"`
	RetryDelay        time.Duration `json:"retryDelay" envconfig:"RETRY_DELAY"`
	GeocodeRatePerSec float64       `json:"geocodeRatePerSec" envconfig:"GEOCODE_RATE"`
	FixturesDir       string        `json:"fixturesDir" envconfig:"FIXTURES_DIR"`
}

// ---------------------------------------------------------------------------
// Side channels
// ---------------------------------------------------------------------------

// MirrorConfig publishes saved traces to Kafka when Brokers is set.
type MirrorConfig struct {
	Brokers []string `json:"brokers" envconfig:"BROKERS"`
	Topic   string   `json:"topic" envconfig:"TOPIC"`
}

// Enabled reports whether a broker list is configured.
func (m MirrorConfig) Enabled() bool { return len(m.Brokers) > 0 }

// AlertsConfig posts failed runs to Slack.
type AlertsConfig struct {
	SlackWebhookURL string `json:"slackWebhookUrl" envconfig:"SLACK_WEBHOOK_URL"`
}

// TelemetryConfig selects the span exporter: none or stdout.
type TelemetryConfig struct {
	Exporter string `json:"exporter" envconfig:"EXPORTER"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `json:"level" envconfig:"LEVEL"`
	Format string `json:"format" envconfig:"FORMAT"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Agent: AgentConfig{
			DefaultLocation: "New York, NY",
			MaxInputChars:   400,
			MaxMessageChars: 480,
		},
		Store: StoreConfig{
			Mode:        "file",
			Path:        "./data/traces.jsonl",
			Driver:      "sqlite",
			AutoMigrate: true,
			KeyPrefix:   "skytext:",
		},
		Weather: WeatherConfig{
			Mode:              WeatherModeLive,
			ForecastURL:       "https://api.open-meteo.com/v1/forecast",
			GeocodeURL:        "https://geocoding-api.open-meteo.com/v1/search",
			Timeout:           8 * time.Second,
			Retries:           1,
			RetryDelay:        300 * time.Millisecond,
			GeocodeRatePerSec: 5,
			FixturesDir:       "./fixtures",
		},
		Mirror: MirrorConfig{
			Topic: "skytext.traces",
		},
		Telemetry: TelemetryConfig{
			Exporter: "none",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

var storeModes = map[string]bool{
	"memory": true, "file": true, "sql": true, "postgres": true, "redis": true, "bolt": true,
}

// Validate rejects settings the runtime cannot start with.
func (c *Config) Validate() error {
	mode := strings.ToLower(strings.TrimSpace(c.Store.Mode))
	if !storeModes[mode] {
		return fmt.Errorf("store.mode: unknown mode %q", c.Store.Mode)
	}
	switch mode {
	case "sql", "postgres":
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("store.dsn is required for %s mode", mode)
		}
	case "redis":
		if strings.TrimSpace(c.Store.RedisURL) == "" {
			return fmt.Errorf("store.redisUrl is required for redis mode")
		}
	}
	switch strings.ToLower(c.Weather.Mode) {
	case WeatherModeLive, WeatherModeFixture:
	default:
		return fmt.Errorf("weather.mode: unknown mode %q", c.Weather.Mode)
	}
	if c.Agent.MaxInputChars <= 0 {
		return fmt.Errorf("agent.maxInputChars must be positive, got %d", c.Agent.MaxInputChars)
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port out of range: %d", c.Gateway.Port)
	}
	return nil
}
