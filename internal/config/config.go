package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	ListenAddr         string   `yaml:"listen_addr"`
	GatePaths          []string `yaml:"gate_paths"`
	GateExcludePaths   []string `yaml:"gate_exclude_paths"`
	GatePolicies       []string `yaml:"gate_policies"`
	DelayMaxMS         int      `yaml:"delay_max_ms"`
	DenyMessage        string   `yaml:"deny_message"`
	RateLimitRPS       float64  `yaml:"rate_limit_rps"`
	RateLimitBurst     int      `yaml:"rate_limit_burst"`
	APIKeyHashes       []string `yaml:"api_key_hashes"`
	AdminKeyHashes     []string `yaml:"admin_key_hashes"`
	KeyCacheTTLSeconds int      `yaml:"key_cache_ttl_seconds"`
	CORSOrigins        []string `yaml:"cors_origins"`
	DatabaseURL        string   `yaml:"database_url"`
	MaxDBConns         int32    `yaml:"max_db_conns"`
	MinDBConns         int32    `yaml:"min_db_conns"`
	LogBufferSize      int      `yaml:"log_buffer_size"`
	LogRetentionDays   int      `yaml:"log_retention_days"`
	RetryMaxAttempts   int      `yaml:"retry_max_attempts"`
	RetryBaseDelayMS   int      `yaml:"retry_base_delay_ms"`
	BreakerThreshold   int      `yaml:"breaker_threshold"`
	BreakerCoolDownSec int      `yaml:"breaker_cool_down_seconds"`
	MetricsEnabled     bool     `yaml:"metrics_enabled"`
	LogFormat          string   `yaml:"log_format"`
}

// Defaults returns the configuration used when neither a file nor the
// environment says otherwise: the reference gate on /app/bar and /app/foo,
// denying everything after up to 500ms of simulated latency.
func Defaults() *Config {
	return &Config{
		ListenAddr:         ":8080",
		GatePaths:          []string{"/app/bar", "/app/foo"},
		GatePolicies:       []string{"deny"},
		DelayMaxMS:         500,
		KeyCacheTTLSeconds: 60,
		MaxDBConns:         10,
		MinDBConns:         2,
		LogBufferSize:      10000,
		LogRetentionDays:   7,
		RetryMaxAttempts:   3,
		RetryBaseDelayMS:   100,
		BreakerThreshold:   5,
		BreakerCoolDownSec: 30,
		LogFormat:          "json",
	}
}

// Load reads configuration from config.yaml and overrides with environment variables.
func Load() (*Config, error) {
	cfg := Defaults()

	configPath := os.Getenv("REQGATE_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	overrideFromEnv(cfg)
	return cfg, nil
}

func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("REQGATE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("REQGATE_GATE_PATHS"); v != "" {
		cfg.GatePaths = splitList(v)
	}
	if v := os.Getenv("REQGATE_GATE_EXCLUDE_PATHS"); v != "" {
		cfg.GateExcludePaths = splitList(v)
	}
	if v := os.Getenv("REQGATE_GATE_POLICIES"); v != "" {
		cfg.GatePolicies = splitList(v)
	}
	if v := os.Getenv("REQGATE_DELAY_MAX_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DelayMaxMS = n
		}
	}
	if v := os.Getenv("REQGATE_DENY_MESSAGE"); v != "" {
		cfg.DenyMessage = v
	}
	if v := os.Getenv("REQGATE_RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("REQGATE_RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}
	if v := os.Getenv("REQGATE_API_KEY_HASHES"); v != "" {
		cfg.APIKeyHashes = splitList(v)
	}
	if v := os.Getenv("REQGATE_ADMIN_KEY_HASHES"); v != "" {
		cfg.AdminKeyHashes = splitList(v)
	}
	if v := os.Getenv("REQGATE_KEY_CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.KeyCacheTTLSeconds = n
		}
	}
	if v := os.Getenv("REQGATE_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("REQGATE_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REQGATE_MAX_DB_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxDBConns = int32(n)
		}
	}
	if v := os.Getenv("REQGATE_MIN_DB_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinDBConns = int32(n)
		}
	}
	if v := os.Getenv("REQGATE_LOG_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LogBufferSize = n
		}
	}
	if v := os.Getenv("REQGATE_LOG_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LogRetentionDays = n
		}
	}
	if v := os.Getenv("REQGATE_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryMaxAttempts = n
		}
	}
	if v := os.Getenv("REQGATE_RETRY_BASE_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryBaseDelayMS = n
		}
	}
	if v := os.Getenv("REQGATE_BREAKER_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BreakerThreshold = n
		}
	}
	if v := os.Getenv("REQGATE_BREAKER_COOL_DOWN_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BreakerCoolDownSec = n
		}
	}
	if v := os.Getenv("REQGATE_METRICS_ENABLED"); v != "" {
		cfg.MetricsEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("REQGATE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
