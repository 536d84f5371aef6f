package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Instance:           "main",
			TimeoutSeconds:     30,
			SendRatePerSecond:  2,
			STTTimeoutSeconds:  30,
			LogPayloads:        true,
			LogPayloadMaxChars: 6000,
		},
		Gateway: GatewayConfig{
			Host:                  "0.0.0.0",
			Port:                  8080,
			TypingDelayMinSeconds: 5,
			TypingDelayMaxSeconds: 8,
		},
		Debounce: DebounceConfig{
			WindowSeconds: 4,
		},
		Handoff: HandoffConfig{
			AutoReactivateMinutes:       60,
			HumanDetectionWindowSeconds: 3,
		},
		Caches: CachesConfig{
			MessageIDs: 4000,
			FunnelKeys: 8000,
			EchoIDs:    2000,
		},
		Sessions: SessionsConfig{
			SQLitePath: "~/.tono/sessions.db",
		},
		Catalog: CatalogConfig{
			RefreshSchedule: "*/5 * * * *",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error — defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Secrets come from env only.
	envStr("TONO_EVOLUTION_API_KEY", &c.Provider.APIKey)
	envStr("TONO_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("TONO_FUNNEL_API_TOKEN", &c.Funnel.APIToken)

	envStr("TONO_EVOLUTION_API_URL", &c.Provider.BaseURL)
	envStr("TONO_EVO_INSTANCE", &c.Provider.Instance)
	envStr("TONO_OWNER_PHONE", &c.Provider.OwnerPhone)
	envStr("TONO_STT_PROXY_URL", &c.Provider.STTProxyURL)

	envStr("TONO_HOST", &c.Gateway.Host)
	if v := os.Getenv("TONO_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("TONO_SHEET_CSV_URL", &c.Catalog.SheetCSVURL)
	envStr("TONO_CATALOG_PATH", &c.Catalog.LocalPath)

	if v := os.Getenv("TONO_TEAM_NUMBERS"); v != "" {
		var nums []string
		for _, n := range strings.Split(v, ",") {
			if n = strings.TrimSpace(n); n != "" {
				nums = append(nums, n)
			}
		}
		c.Handoff.TeamNumbers = nums
	}
	if v := os.Getenv("TONO_AUTO_REACTIVATE_MINUTES"); v != "" {
		if m, err := strconv.Atoi(v); err == nil && m > 0 {
			c.Handoff.AutoReactivateMinutes = m
		}
	}
	if v := os.Getenv("TONO_ACCUMULATION_SECONDS"); v != "" {
		if s, err := strconv.ParseFloat(v, 64); err == nil && s > 0 {
			c.Debounce.WindowSeconds = s
		}
	}

	envStr("TONO_SQLITE_PATH", &c.Sessions.SQLitePath)

	// Telemetry
	envStr("TONO_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("TONO_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("TONO_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("TONO_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TONO_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// Validate rejects configs the gateway cannot start with.
// Called before the gateway runs; lighter commands (migrate, doctor) skip it.
func (c *Config) Validate() error {
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required (or TONO_EVOLUTION_API_URL)")
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("TONO_EVOLUTION_API_KEY environment variable is not set")
	}
	if c.Funnel.Enabled && c.Funnel.BoardID == "" {
		return fmt.Errorf("funnel.board_id is required when funnel sync is enabled")
	}
	return nil
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with all secret fields masked.
// Secrets carry `json:"-"` so the marshal round trip drops them; they are
// re-filled with the mask from the original.
func (c *Config) MaskedCopy() *Config {
	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	cp.Provider.APIKey = maskIfSet(c.Provider.APIKey)
	cp.Database.PostgresDSN = maskIfSet(c.Database.PostgresDSN)
	cp.Funnel.APIToken = maskIfSet(c.Funnel.APIToken)
	return cp
}

func maskIfSet(s string) string {
	if s == "" {
		return ""
	}
	return secretMask
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
