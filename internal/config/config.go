// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes the gateway settings
// such as chat platform credentials, provider options, database selection,
// usage quotas, the ops HTTP server, logging, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "ask-gateway")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DiscordConfig holds chat platform credentials and trigger behaviour.
type DiscordConfig struct {
	Token          string        // DISCORD_TOKEN
	GuildID        string        // DISCORD_GUILD_ID (command registration scope, "" = global)
	TypingInterval time.Duration // TYPING_INTERVAL
	HistoryLimit   int           // HISTORY_LIMIT, capped at 100
}

// ProviderConfig holds the generative provider settings.
type ProviderConfig struct {
	APIKey          string        // OPENAI_API_KEY
	BaseURL         string        // OPENAI_BASE_URL
	Model           string        // OPENAI_MODEL
	ImageModel      string        // OPENAI_IMAGE_MODEL
	MaxOutputTokens int           // MAX_OUTPUT_TOKENS
	Timeout         time.Duration // PROVIDER_TIMEOUT, 0 = no client timeout
}

// DBConfig selects the gorm dialector and its DSN.
type DBConfig struct {
	Driver string // sqlite|mysql|postgres
	DSN    string // path for sqlite, DSN otherwise
}

// QuotaLimits are the sliding-window thresholds applied independently to
// every scope (user, channel, guild).
type QuotaLimits struct {
	Hourly int // QUOTA_HOURLY
	Daily  int // QUOTA_DAILY
}

// BurstConfig configures the optional per-user token bucket.
type BurstConfig struct {
	RPS  float64 // BURST_RPS, 0 disables the guard
	Size int     // BURST_SIZE
}

// Config holds all configuration values for the application.
type Config struct {
	// Ops server
	OpsEnabled        bool          // serve /health, /metrics and the usage API
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test
	APIBasePath       string        // base path for API routes
	APIToken          string        // bearer token for API routes ("" = open)

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// App
	Discord     DiscordConfig
	Provider    ProviderConfig
	DB          DBConfig
	Quota       QuotaLimits
	Burst       BurstConfig
	LocalesPath string // optional YAML catalog override

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Ops server
		OpsEnabled:        getbool("OPS_ENABLED", true),
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		APIBasePath:       normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),
		APIToken:          getenv("OPS_API_TOKEN", ""),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// App
		Discord: DiscordConfig{
			Token:          getenv("DISCORD_TOKEN", ""),
			GuildID:        getenv("DISCORD_GUILD_ID", ""),
			TypingInterval: getdur("TYPING_INTERVAL", 8*time.Second),
			HistoryLimit:   getint("HISTORY_LIMIT", 100),
		},
		Provider: ProviderConfig{
			APIKey:          getenv("OPENAI_API_KEY", ""),
			BaseURL:         strings.TrimRight(getenv("OPENAI_BASE_URL", "https://api.openai.com"), "/"),
			Model:           getenv("OPENAI_MODEL", "gpt-4.1-mini"),
			ImageModel:      getenv("OPENAI_IMAGE_MODEL", "gpt-image-1"),
			MaxOutputTokens: getint("MAX_OUTPUT_TOKENS", 2048),
			Timeout:         getdur("PROVIDER_TIMEOUT", 0),
		},
		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			DSN:    getenv("DB_DSN", "ask.db"),
		},
		Quota: QuotaLimits{
			Hourly: getint("QUOTA_HOURLY", 50),
			Daily:  getint("QUOTA_DAILY", 100),
		},
		Burst: BurstConfig{
			RPS:  getfloat("BURST_RPS", 0),
			Size: getint("BURST_SIZE", 3),
		},
		LocalesPath: getenv("LOCALES_PATH", ""),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "ask-gateway"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	switch cfg.DB.Driver {
	case "sqlite3":
		cfg.DB.Driver = "sqlite"
	case "postgresql", "pg":
		cfg.DB.Driver = "postgres"
	}
	if cfg.Discord.HistoryLimit > 100 {
		cfg.Discord.HistoryLimit = 100
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Discord.Token) == "" {
		return cfg, errors.New("DISCORD_TOKEN must not be empty")
	}
	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		return cfg, errors.New("OPENAI_API_KEY must not be empty")
	}
	if strings.TrimSpace(cfg.Provider.Model) == "" {
		return cfg, errors.New("OPENAI_MODEL must not be empty")
	}
	if cfg.Provider.MaxOutputTokens <= 0 {
		return cfg, errors.New("MAX_OUTPUT_TOKENS must be > 0")
	}
	if cfg.Provider.Timeout < 0 {
		return cfg, errors.New("PROVIDER_TIMEOUT must be >= 0")
	}
	switch cfg.DB.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, mysql, postgres")
	}
	if strings.TrimSpace(cfg.DB.DSN) == "" {
		return cfg, errors.New("DB_DSN must not be empty")
	}
	if cfg.Quota.Hourly < 1 || cfg.Quota.Daily < 1 {
		return cfg, errors.New("QUOTA_HOURLY and QUOTA_DAILY must be >= 1")
	}
	if cfg.Burst.RPS < 0 {
		return cfg, errors.New("BURST_RPS must be >= 0")
	}
	if cfg.Burst.Size < 1 {
		return cfg, errors.New("BURST_SIZE must be >= 1")
	}
	if cfg.Discord.TypingInterval <= 0 {
		return cfg, errors.New("TYPING_INTERVAL must be > 0")
	}
	if cfg.Discord.HistoryLimit < 0 {
		return cfg, errors.New("HISTORY_LIMIT must be >= 0")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
