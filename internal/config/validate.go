package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sertdev/reqgate/internal/gate"
)

// Known admission policy names for gate_policies.
const (
	PolicyDeny      = "deny"
	PolicyAllow     = "allow"
	PolicyRateLimit = "ratelimit"
	PolicyAPIKey    = "apikey"
)

// Validate checks the config for invalid or missing values. Returns a
// multi-error with all problems found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.ListenAddr == "" {
		errs = append(errs, "listen_addr is required")
	}
	if len(cfg.GatePaths) == 0 {
		errs = append(errs, "gate_paths must list at least one path pattern")
	}
	for _, p := range cfg.GatePaths {
		if !gate.ValidPattern(p) {
			errs = append(errs, fmt.Sprintf("gate_paths entry %q is not a valid absolute path pattern", p))
		}
	}
	for _, p := range cfg.GateExcludePaths {
		if !gate.ValidPattern(p) {
			errs = append(errs, fmt.Sprintf("gate_exclude_paths entry %q is not a valid absolute path pattern", p))
		}
	}
	if len(cfg.GatePolicies) == 0 {
		errs = append(errs, "gate_policies must name at least one policy")
	}
	for _, p := range cfg.GatePolicies {
		switch p {
		case PolicyDeny, PolicyAllow:
		case PolicyRateLimit:
			if cfg.RateLimitRPS <= 0 {
				errs = append(errs, "ratelimit policy requires rate_limit_rps > 0")
			}
		case PolicyAPIKey:
			if len(cfg.APIKeyHashes) == 0 {
				errs = append(errs, "apikey policy requires api_key_hashes")
			}
		default:
			errs = append(errs, fmt.Sprintf("unknown gate policy %q", p))
		}
	}
	if cfg.DelayMaxMS < 0 {
		errs = append(errs, "delay_max_ms must be >= 0")
	}
	if cfg.RateLimitRPS < 0 {
		errs = append(errs, "rate_limit_rps must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		errs = append(errs, "rate_limit_burst must be >= 0")
	}
	if cfg.KeyCacheTTLSeconds < 0 {
		errs = append(errs, "key_cache_ttl_seconds must be >= 0")
	}
	if cfg.MaxDBConns > 0 && cfg.MinDBConns > 0 && cfg.MaxDBConns <= cfg.MinDBConns {
		errs = append(errs, fmt.Sprintf("max_db_conns (%d) must be greater than min_db_conns (%d)", cfg.MaxDBConns, cfg.MinDBConns))
	}
	if cfg.RetryMaxAttempts < 0 {
		errs = append(errs, "retry_max_attempts must be >= 0")
	}
	if cfg.BreakerThreshold < 0 || cfg.BreakerCoolDownSec < 0 {
		errs = append(errs, "breaker_threshold and breaker_cool_down_seconds must be >= 0")
	}
	if cfg.LogFormat != "" && cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		errs = append(errs, "log_format must be json or text")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed: " + strings.Join(errs, "; "))
	}
	return nil
}
