package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExpandString(t *testing.T) {
	t.Setenv("GR_SCHEME", "https")
	t.Setenv("GR_HOST", "llm.internal")
	t.Setenv("GR_EMPTY", "")
	unsetForTest(t, "GR_MISSING")

	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"plain", "plain"},
		{"${GR_HOST}", "llm.internal"},
		{"${GR_SCHEME}://${GR_HOST}/v1", "https://llm.internal/v1"},
		{"${GR_HOST:-fallback}", "llm.internal"},
		{"${GR_MISSING:-http://localhost:11434/v1}", "http://localhost:11434/v1"},
		{"${GR_EMPTY:-used}", "used"},
		{"${GR_MISSING:-}", ""},
		{"${GR_MISSING}", "${GR_MISSING}"},
		{"${GR_EMPTY}", "${GR_EMPTY}"},
		{"${GR_HOST}-${GR_MISSING}-${GR_MISSING:-x}", "llm.internal-${GR_MISSING}-x"},
		{"$GR_HOST", "$GR_HOST"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := expandString(tt.in); got != tt.want {
				t.Errorf("expandString(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:    "PORT override",
			envVars: map[string]string{"PORT": "3000"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Server.Port != "3000" {
					t.Errorf("Server.Port = %q, want %q", cfg.Server.Port, "3000")
				}
			},
		},
		{
			name:    "GENROUTER_MASTER_KEY override",
			envVars: map[string]string{"GENROUTER_MASTER_KEY": "my-secret"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Server.MasterKey != "my-secret" {
					t.Errorf("Server.MasterKey = %q, want %q", cfg.Server.MasterKey, "my-secret")
				}
			},
		},
		{
			name:    "storage overrides",
			envVars: map[string]string{"STORAGE_TYPE": "postgresql", "POSTGRES_URL": "postgres://localhost/test", "POSTGRES_MAX_CONNS": "20"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Storage.Type != "postgresql" {
					t.Errorf("Storage.Type = %q, want %q", cfg.Storage.Type, "postgresql")
				}
				if cfg.Storage.PostgreSQL.URL != "postgres://localhost/test" {
					t.Errorf("Storage.PostgreSQL.URL = %q, want %q", cfg.Storage.PostgreSQL.URL, "postgres://localhost/test")
				}
				if cfg.Storage.PostgreSQL.MaxConns != 20 {
					t.Errorf("Storage.PostgreSQL.MaxConns = %d, want %d", cfg.Storage.PostgreSQL.MaxConns, 20)
				}
			},
		},
		{
			name:    "bool overrides",
			envVars: map[string]string{"METRICS_ENABLED": "true", "USAGE_ENABLED": "1"},
			check: func(t *testing.T, cfg *Config) {
				if !cfg.Metrics.Enabled {
					t.Error("Metrics.Enabled should be true")
				}
				if !cfg.Usage.Enabled {
					t.Error("Usage.Enabled should be true")
				}
			},
		},
		{
			name:    "router durations accept seconds and Go durations",
			envVars: map[string]string{"ROUTER_DEADLINE": "10", "ROUTER_CANDIDATE_BACKOFF": "250ms"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Router.Deadline != 10*time.Second {
					t.Errorf("Router.Deadline = %s, want 10s", cfg.Router.Deadline)
				}
				if cfg.Router.CandidateBackoff != 250*time.Millisecond {
					t.Errorf("Router.CandidateBackoff = %s, want 250ms", cfg.Router.CandidateBackoff)
				}
			},
		},
		{
			name:    "cache overrides",
			envVars: map[string]string{"CACHE_TYPE": "redis", "CACHE_TTL": "1m", "CACHE_MAX_ENTRIES": "50", "REDIS_URL": "redis://localhost:6379"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Cache.Type != "redis" {
					t.Errorf("Cache.Type = %q, want redis", cfg.Cache.Type)
				}
				if cfg.Cache.TTL != time.Minute {
					t.Errorf("Cache.TTL = %s, want 1m", cfg.Cache.TTL)
				}
				if cfg.Cache.MaxEntries != 50 {
					t.Errorf("Cache.MaxEntries = %d, want 50", cfg.Cache.MaxEntries)
				}
				if cfg.Cache.Redis.URL != "redis://localhost:6379" {
					t.Errorf("Cache.Redis.URL = %q", cfg.Cache.Redis.URL)
				}
			},
		},
		{
			name:    "HTTP timeout overrides",
			envVars: map[string]string{"HTTP_TIMEOUT": "30", "HTTP_RESPONSE_HEADER_TIMEOUT": "60"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.HTTP.Timeout != 30 {
					t.Errorf("HTTP.Timeout = %d, want 30", cfg.HTTP.Timeout)
				}
				if cfg.HTTP.ResponseHeaderTimeout != 60 {
					t.Errorf("HTTP.ResponseHeaderTimeout = %d, want 60", cfg.HTTP.ResponseHeaderTimeout)
				}
			},
		},
		{
			name:    "monthly budget",
			envVars: map[string]string{"MONTHLY_BUDGET_USD": "12.5"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Usage.MonthlyBudgetUSD != 12.5 {
					t.Errorf("Usage.MonthlyBudgetUSD = %v, want 12.5", cfg.Usage.MonthlyBudgetUSD)
				}
			},
		},
		{
			name:    "no env vars set preserves defaults",
			envVars: map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Server.Port != "8080" {
					t.Errorf("Server.Port = %q, want %q", cfg.Server.Port, "8080")
				}
				if cfg.HTTP.Timeout != 600 {
					t.Errorf("HTTP.Timeout = %d, want 600", cfg.HTTP.Timeout)
				}
				if cfg.Router.Deadline != 25*time.Second {
					t.Errorf("Router.Deadline = %s, want 25s", cfg.Router.Deadline)
				}
				if cfg.Cache.TTL != 5*time.Minute {
					t.Errorf("Cache.TTL = %s, want 5m", cfg.Cache.TTL)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := buildDefaultConfig()
			require.NoError(t, applyEnvOverrides(cfg))
			tt.check(t, cfg)
		})
	}
}

func TestApplyEnvOverrides_InvalidValues(t *testing.T) {
	for _, key := range []string{"CACHE_MAX_ENTRIES", "METRICS_ENABLED", "ROUTER_DEADLINE", "MONTHLY_BUDGET_USD"} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, "not-a-value")
			err := applyEnvOverrides(buildDefaultConfig())
			require.Error(t, err)
			require.Contains(t, err.Error(), key)
		})
	}
}
