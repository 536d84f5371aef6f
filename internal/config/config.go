package config

import (
	"time"
)

// Config is the root configuration for the Tono gateway.
type Config struct {
	Provider  ProviderConfig  `json:"provider"`
	Gateway   GatewayConfig   `json:"gateway"`
	Debounce  DebounceConfig  `json:"debounce"`
	Handoff   HandoffConfig   `json:"handoff"`
	Caches    CachesConfig    `json:"caches,omitempty"`
	Sessions  SessionsConfig  `json:"sessions"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Catalog   CatalogConfig   `json:"catalog,omitempty"`
	Funnel    FunnelConfig    `json:"funnel,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// ProviderConfig configures the Evolution API connection.
// APIKey is NEVER read from the config file (secret) — only from env TONO_EVOLUTION_API_KEY.
type ProviderConfig struct {
	BaseURL            string `json:"base_url"`
	APIKey             string `json:"-"` // from env TONO_EVOLUTION_API_KEY only
	Instance           string `json:"instance"`
	OwnerPhone         string `json:"owner_phone,omitempty"`
	TimeoutSeconds     int    `json:"timeout_seconds,omitempty"`       // per-call timeout (default 30)
	SendRatePerSecond  float64 `json:"send_rate_per_second,omitempty"` // outbound pacing (default 2)
	STTProxyURL        string `json:"stt_proxy_url,omitempty"`         // audio transcription proxy (empty = audio unsupported)
	STTTimeoutSeconds  int    `json:"stt_timeout_seconds,omitempty"`
	LogPayloads        bool   `json:"log_payloads,omitempty"`
	LogPayloadMaxChars int    `json:"log_payload_max_chars,omitempty"` // truncation for webhook payload logs (default 6000)
}

// GatewayConfig configures the inbound HTTP listener.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // /ws origin whitelist (empty = allow all)

	// Humanized typing delay before each automated reply.
	TypingDelayMinSeconds float64 `json:"typing_delay_min_seconds,omitempty"` // default 5
	TypingDelayMaxSeconds float64 `json:"typing_delay_max_seconds,omitempty"` // default 8
	DisableTypingDelay    bool    `json:"disable_typing_delay,omitempty"`
}

// DebounceConfig controls per-conversation message accumulation.
type DebounceConfig struct {
	WindowSeconds float64 `json:"window_seconds,omitempty"` // quiet period before a turn fires (default 4)
}

// Window returns the debounce window as a duration.
func (d DebounceConfig) Window() time.Duration {
	if d.WindowSeconds <= 0 {
		return 4 * time.Second
	}
	return time.Duration(d.WindowSeconds * float64(time.Second))
}

// HandoffConfig controls human-takeover detection and silencing.
type HandoffConfig struct {
	AutoReactivateMinutes       int      `json:"auto_reactivate_minutes,omitempty"`        // silence duration after takeover (default 60)
	HumanDetectionWindowSeconds int      `json:"human_detection_window_seconds,omitempty"` // echo recognition window (default 3)
	TeamNumbers                 []string `json:"team_numbers,omitempty"`                   // advisor numbers, informational
}

// SilenceDuration returns how long a conversation stays silenced after a takeover.
func (h HandoffConfig) SilenceDuration() time.Duration {
	if h.AutoReactivateMinutes <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(h.AutoReactivateMinutes) * time.Minute
}

// RecognitionWindow returns the window within which an outbound message is
// attributed to the gateway's own last send.
func (h HandoffConfig) RecognitionWindow() time.Duration {
	if h.HumanDetectionWindowSeconds <= 0 {
		return 3 * time.Second
	}
	return time.Duration(h.HumanDetectionWindowSeconds) * time.Second
}

// CachesConfig sets the capacities of the in-memory dedupe caches.
type CachesConfig struct {
	MessageIDs int `json:"message_ids,omitempty"` // inbound dedupe (default 4000)
	FunnelKeys int `json:"funnel_keys,omitempty"` // lead/stage dedupe (default 8000)
	EchoIDs    int `json:"echo_ids,omitempty"`    // bot-sent id tracking (default 2000)
}

// SessionsConfig configures the standalone (SQLite) session store.
type SessionsConfig struct {
	SQLitePath string `json:"sqlite_path,omitempty"` // default ~/.tono/sessions.db
}

// DatabaseConfig configures Postgres for managed deployments.
// PostgresDSN is NEVER read from the config file (secret) — only from env TONO_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
}

// CatalogConfig configures the read-only vehicle catalog loader.
type CatalogConfig struct {
	LocalPath       string `json:"local_path,omitempty"`       // CSV on disk, watched for changes
	SheetCSVURL     string `json:"sheet_csv_url,omitempty"`    // remote CSV export, refreshed on schedule
	RefreshSchedule string `json:"refresh_schedule,omitempty"` // cron expression (default "*/5 * * * *")
	Watch           bool   `json:"watch,omitempty"`            // fsnotify reload for local_path
}

// FunnelConfig configures the CRM lead sync (Monday-style GraphQL board).
// APIToken is NEVER read from the config file — only from env TONO_FUNNEL_API_TOKEN.
type FunnelConfig struct {
	Enabled       bool   `json:"enabled,omitempty"`
	APIURL        string `json:"api_url,omitempty"`
	APIToken      string `json:"-"` // from env TONO_FUNNEL_API_TOKEN only
	BoardID       string `json:"board_id,omitempty"`
	PhoneColumnID string `json:"phone_column_id,omitempty"` // text column used for dedupe lookups
	StageColumnID string `json:"stage_column_id,omitempty"` // status column holding the funnel stage
	GroupByMonth  bool   `json:"group_by_month,omitempty"`  // file new leads into a per-month group
}

// TelemetryConfig configures OpenTelemetry span export for turn processing.
// When disabled, tracing is a no-op.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // skip TLS (local dev)
	ServiceName string            `json:"service_name,omitempty"` // default "tono-gateway"
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (auth tokens)
}

// ProviderTimeout returns the per-call provider timeout.
func (p ProviderConfig) ProviderTimeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}
