// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Body size limits accepted by ValidateBodySizeLimit.
const (
	MinBodySizeLimit = 1 << 10
	MaxBodySizeLimit = 100 << 20
	// DefaultBodySizeLimit applies when server.body_size_limit is empty.
	DefaultBodySizeLimit = 1 << 20
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Router    RouterConfig              `yaml:"router"`
	Cache     CacheConfig               `yaml:"cache"`
	Storage   StorageConfig             `yaml:"storage"`
	Usage     UsageConfig               `yaml:"usage"`
	Metrics   MetricsConfig             `yaml:"metrics"`
	Tracing   TracingConfig             `yaml:"tracing"`
	Logging   LogConfig                 `yaml:"logging"`
	HTTP      HTTPConfig                `yaml:"http"`
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	// MasterKey enables bearer authentication on /generate when set.
	MasterKey     string `yaml:"master_key"`
	BodySizeLimit string `yaml:"body_size_limit"`
}

// RouterConfig controls dispatch timing.
type RouterConfig struct {
	// Deadline bounds a whole dispatch across all candidates.
	Deadline time.Duration `yaml:"deadline"`
	// CandidateBackoff is the pause before trying the next candidate. Zero disables it.
	CandidateBackoff    time.Duration `yaml:"candidate_backoff"`
	MaxCandidateBackoff time.Duration `yaml:"max_candidate_backoff"`
}

// CacheConfig selects and tunes the response cache.
type CacheConfig struct {
	// Type is "memory" (default), "redis" or "none".
	Type       string        `yaml:"type"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for the response cache.
type RedisConfig struct {
	URL string `yaml:"url"`
	Key string `yaml:"key"`
}

// StorageConfig selects the backend used to persist usage entries.
type StorageConfig struct {
	// Type is "sqlite" (default), "postgresql" or "mongodb".
	Type       string           `yaml:"type"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
}

// SQLiteConfig holds SQLite settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLConfig holds PostgreSQL settings.
type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBConfig holds MongoDB settings.
type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// UsageConfig controls usage persistence and spend tracking.
type UsageConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	RetentionDays int           `yaml:"retention_days"`
	// MonthlyBudgetUSD triggers a warning once the month's spend passes it. Zero disables it.
	MonthlyBudgetUSD float64 `yaml:"monthly_budget_usd"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
	Environment string  `yaml:"environment"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Format is "text", "json" or empty for auto-detection.
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// HTTPConfig holds timeouts, in seconds, for the outbound provider client.
type HTTPConfig struct {
	Timeout               int `yaml:"timeout"`
	ResponseHeaderTimeout int `yaml:"response_header_timeout"`
}

// ProviderConfig describes one registry entry.
type ProviderConfig struct {
	Type    string   `yaml:"type"`
	APIKey  string   `yaml:"api_key"`
	BaseURL string   `yaml:"base_url"`
	Models  []string `yaml:"models"`
	// TaskTypes restricts the adapter to these task types. Empty means the
	// provider type's defaults.
	TaskTypes []string `yaml:"task_types"`
	// Priority overrides the per-task priority. Lower is preferred.
	Priority        map[string]int   `yaml:"priority"`
	DefaultPriority int              `yaml:"default_priority"`
	Pricing         PricingConfig    `yaml:"pricing"`
	Timeout         time.Duration    `yaml:"timeout"`
	RateLimit       RateLimitConfig  `yaml:"rate_limit"`
	Resilience      ResilienceConfig `yaml:"resilience"`
}

// PricingConfig holds USD prices per token. Models overrides the default per model id.
type PricingConfig struct {
	InputPerToken  float64                 `yaml:"input_per_token"`
	OutputPerToken float64                 `yaml:"output_per_token"`
	Models         map[string]ModelPricing `yaml:"models"`
}

// ModelPricing is the price of a single model.
type ModelPricing struct {
	InputPerToken  float64 `yaml:"input_per_token"`
	OutputPerToken float64 `yaml:"output_per_token"`
}

// RateLimitConfig bounds local call volume for one provider. Zero values disable a limit.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxConcurrent     int     `yaml:"max_concurrent"`
}

// ResilienceConfig tunes the per-provider HTTP client.
type ResilienceConfig struct {
	MaxRetries     int                  `yaml:"max_retries"`
	InitialBackoff time.Duration        `yaml:"initial_backoff"`
	MaxBackoff     time.Duration        `yaml:"max_backoff"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig tunes the per-provider circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// LoadResult is what Load returns.
type LoadResult struct {
	Config *Config
	// Path is the YAML file that was read, empty when none was found.
	Path string
}

// configPaths are searched in order when CONFIG_PATH is unset.
var configPaths = []string{"config/config.yaml", "config.yaml"}

// knownProviderEnvs maps well-known provider names to their environment variables.
var knownProviderEnvs = []struct {
	name       string
	apiKeyEnv  string
	baseURLEnv string
}{
	{"openai", "OPENAI_API_KEY", "OPENAI_BASE_URL"},
	{"anthropic", "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL"},
	{"gemini", "GEMINI_API_KEY", "GEMINI_BASE_URL"},
	{"groq", "GROQ_API_KEY", "GROQ_BASE_URL"},
	{"xai", "XAI_API_KEY", "XAI_BASE_URL"},
	{"ollama", "OLLAMA_API_KEY", "OLLAMA_BASE_URL"},
}

// keylessProviderTypes run without an API key once a base URL is set.
var keylessProviderTypes = map[string]bool{"ollama": true}

// Load builds the configuration. .env is read into the environment first so
// that YAML placeholders can see it; then defaults, an optional YAML file,
// environment overrides and provider discovery from API keys are applied.
func Load() (*LoadResult, error) {
	// .env is optional; variables already in the environment win.
	_ = godotenv.Load()

	cfg := buildDefaultConfig()

	path, err := readConfigFile(cfg)
	if err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	applyProviderEnvVars(cfg)
	filterEmptyProviders(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &LoadResult{Config: cfg, Path: path}, nil
}

func buildDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			BodySizeLimit: "1M",
		},
		Router: RouterConfig{
			Deadline:            25 * time.Second,
			MaxCandidateBackoff: 2 * time.Second,
		},
		Cache: CacheConfig{
			Type:       "memory",
			TTL:        5 * time.Minute,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Key: "genrouter:completion:",
			},
		},
		Storage: StorageConfig{
			Type:       "sqlite",
			SQLite:     SQLiteConfig{Path: "data/genrouter.db"},
			PostgreSQL: PostgreSQLConfig{MaxConns: 10},
			MongoDB:    MongoDBConfig{Database: "genrouter"},
		},
		Usage: UsageConfig{
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			RetentionDays: 90,
		},
		Metrics: MetricsConfig{
			Endpoint: "/metrics",
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4317",
			SampleRatio: 1,
			Environment: "development",
		},
		Logging: LogConfig{
			Level: "info",
		},
		HTTP: HTTPConfig{
			Timeout:               600,
			ResponseHeaderTimeout: 600,
		},
		Providers: map[string]ProviderConfig{},
	}
}

func readConfigFile(cfg *Config) (string, error) {
	candidates := configPaths
	explicit := os.Getenv("CONFIG_PATH")
	if explicit != "" {
		candidates = []string{explicit}
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && explicit == "" {
				continue
			}
			return "", fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(expandString(string(data))), cfg); err != nil {
			return "", fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		if cfg.Providers == nil {
			cfg.Providers = map[string]ProviderConfig{}
		}
		return path, nil
	}
	return "", nil
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default} placeholders.
// Unset variables without a default are left untouched.
func expandString(s string) string {
	if s == "" {
		return s
	}
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		name := groups[1]
		hasDefault := strings.Contains(match, ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasDefault {
			return groups[2]
		}
		return match
	})
}

func applyEnvOverrides(cfg *Config) error {
	envString("PORT", &cfg.Server.Port)
	envString("GENROUTER_MASTER_KEY", &cfg.Server.MasterKey)
	envString("BODY_SIZE_LIMIT", &cfg.Server.BodySizeLimit)

	if err := envDuration("ROUTER_DEADLINE", &cfg.Router.Deadline); err != nil {
		return err
	}
	if err := envDuration("ROUTER_CANDIDATE_BACKOFF", &cfg.Router.CandidateBackoff); err != nil {
		return err
	}

	envString("CACHE_TYPE", &cfg.Cache.Type)
	if err := envDuration("CACHE_TTL", &cfg.Cache.TTL); err != nil {
		return err
	}
	if err := envInt("CACHE_MAX_ENTRIES", &cfg.Cache.MaxEntries); err != nil {
		return err
	}
	envString("REDIS_URL", &cfg.Cache.Redis.URL)
	envString("REDIS_KEY", &cfg.Cache.Redis.Key)

	envString("STORAGE_TYPE", &cfg.Storage.Type)
	envString("SQLITE_PATH", &cfg.Storage.SQLite.Path)
	envString("POSTGRES_URL", &cfg.Storage.PostgreSQL.URL)
	if err := envInt("POSTGRES_MAX_CONNS", &cfg.Storage.PostgreSQL.MaxConns); err != nil {
		return err
	}
	envString("MONGODB_URL", &cfg.Storage.MongoDB.URL)
	envString("MONGODB_DATABASE", &cfg.Storage.MongoDB.Database)

	if err := envBool("USAGE_ENABLED", &cfg.Usage.Enabled); err != nil {
		return err
	}
	if err := envInt("USAGE_BUFFER_SIZE", &cfg.Usage.BufferSize); err != nil {
		return err
	}
	if err := envDuration("USAGE_FLUSH_INTERVAL", &cfg.Usage.FlushInterval); err != nil {
		return err
	}
	if err := envInt("USAGE_RETENTION_DAYS", &cfg.Usage.RetentionDays); err != nil {
		return err
	}
	if err := envFloat("MONTHLY_BUDGET_USD", &cfg.Usage.MonthlyBudgetUSD); err != nil {
		return err
	}

	if err := envBool("METRICS_ENABLED", &cfg.Metrics.Enabled); err != nil {
		return err
	}
	envString("METRICS_ENDPOINT", &cfg.Metrics.Endpoint)

	if err := envBool("TRACING_ENABLED", &cfg.Tracing.Enabled); err != nil {
		return err
	}
	envString("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)
	if err := envFloat("TRACING_SAMPLE_RATIO", &cfg.Tracing.SampleRatio); err != nil {
		return err
	}
	envString("GENROUTER_ENV", &cfg.Tracing.Environment)

	envString("LOG_FORMAT", &cfg.Logging.Format)
	envString("LOG_LEVEL", &cfg.Logging.Level)

	if err := envInt("HTTP_TIMEOUT", &cfg.HTTP.Timeout); err != nil {
		return err
	}
	return envInt("HTTP_RESPONSE_HEADER_TIMEOUT", &cfg.HTTP.ResponseHeaderTimeout)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = f
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = b
	return nil
}

// envDuration accepts a Go duration ("30s") or a bare number of seconds.
func envDuration(key string, dst *time.Duration) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}

// applyProviderEnvVars overlays well-known provider env vars onto the YAML map.
// Env var values win over YAML values for the same provider name.
func applyProviderEnvVars(cfg *Config) {
	for _, kp := range knownProviderEnvs {
		apiKey := os.Getenv(kp.apiKeyEnv)
		baseURL := os.Getenv(kp.baseURLEnv)
		if apiKey == "" && baseURL == "" {
			continue
		}

		existing, exists := cfg.Providers[kp.name]
		if !exists {
			existing = ProviderConfig{Type: kp.name}
		}
		if apiKey != "" {
			existing.APIKey = apiKey
		}
		if baseURL != "" {
			existing.BaseURL = baseURL
		}
		cfg.Providers[kp.name] = existing
	}
}

// filterEmptyProviders drops providers without a usable API key.
func filterEmptyProviders(cfg *Config) {
	for name, p := range cfg.Providers {
		if keylessProviderTypes[p.Type] && p.BaseURL != "" && !strings.Contains(p.BaseURL, "${") {
			continue
		}
		if p.APIKey == "" || strings.Contains(p.APIKey, "${") {
			delete(cfg.Providers, name)
		}
	}
}

// ProviderNames returns configured provider names in sorted order.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks values that cannot be fixed up with a default.
func (c *Config) Validate() error {
	if err := ValidateBodySizeLimit(c.Server.BodySizeLimit); err != nil {
		return err
	}
	if c.Router.Deadline <= 0 {
		return fmt.Errorf("router.deadline must be positive, got %s", c.Router.Deadline)
	}
	if c.Router.CandidateBackoff < 0 {
		return fmt.Errorf("router.candidate_backoff must not be negative, got %s", c.Router.CandidateBackoff)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1], got %v", c.Tracing.SampleRatio)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative, got %s", c.Cache.TTL)
	}
	for name, p := range c.Providers {
		if p.Type == "" {
			return fmt.Errorf("provider %q: type is required", name)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("provider %q: timeout must not be negative", name)
		}
		if p.RateLimit.RequestsPerSecond < 0 || p.RateLimit.Burst < 0 || p.RateLimit.MaxConcurrent < 0 {
			return fmt.Errorf("provider %q: rate_limit values must not be negative", name)
		}
	}
	return nil
}

var bodySizePattern = regexp.MustCompile(`^(\d+)([kKmM][bB]?)?$`)

// ValidateBodySizeLimit checks a size such as "512K" or "10MB" against the
// accepted range. An empty value means the default.
func ValidateBodySizeLimit(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	_, err := ParseBodySizeLimit(s)
	return err
}

// ParseBodySizeLimit converts a size string to bytes.
func ParseBodySizeLimit(s string) (int64, error) {
	s = strings.TrimSpace(s)
	m := bodySizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid body size limit %q: expected a number with optional K or M unit", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid body size limit %q: %w", s, err)
	}
	switch strings.ToUpper(m[2]) {
	case "K", "KB":
		n <<= 10
	case "M", "MB":
		n <<= 20
	}
	if n < MinBodySizeLimit || n > MaxBodySizeLimit {
		return 0, fmt.Errorf("body size limit %q out of range: must be between 1K and 100M", s)
	}
	return n, nil
}
