// Package config provides configuration loading and validation for the
// tracker service and CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/stance-tracker/internal/abuse"
	"github.com/jonathan/stance-tracker/internal/credibility"
	"github.com/jonathan/stance-tracker/internal/dedup"
)

// DefaultPort is the HTTP port used when none is configured.
const DefaultPort = 8080

// Config represents the configuration that can be loaded from a JSON file.
// All fields are optional; missing values use environment values or defaults.
type Config struct {
	// Connections
	DatabaseURL string `json:"database_url,omitempty"` // PostgreSQL connection URL
	RedisURL    string `json:"redis_url,omitempty"`    // Redis URL, required for the redis abuse backend

	// HTTP
	Port       int  `json:"port,omitempty"`        // Listen port
	TrustProxy bool `json:"trust_proxy,omitempty"` // Take the client address from X-Forwarded-For

	Abuse       AbuseSettings  `json:"abuse,omitempty"`
	Dedup       DedupSettings  `json:"dedup,omitempty"`
	Credibility map[string]int `json:"credibility,omitempty"` // Channel -> score overrides
}

// AbuseSettings overrides the dual-axis limiter configuration.
type AbuseSettings struct {
	OriginLimit   int      `json:"origin_limit,omitempty"`
	IdentityLimit int      `json:"identity_limit,omitempty"`
	Window        string   `json:"window,omitempty"`         // Go duration, e.g. "1h"
	SweepInterval string   `json:"sweep_interval,omitempty"` // Go duration, e.g. "5m"
	Backend       string   `json:"backend,omitempty"`        // "memory" or "redis"
	ExemptOrigins []string `json:"exempt_origins,omitempty"`
}

// DedupSettings overrides the duplicate resolver configuration.
type DedupSettings struct {
	Threshold     float64 `json:"threshold,omitempty"`
	LookbackDays  int     `json:"lookback_days,omitempty"`
	MaxCandidates int     `json:"max_candidates,omitempty"`
	MaxTextRunes  int     `json:"max_text_runes,omitempty"`
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// FromEnv reads the connection and HTTP settings from the environment.
func FromEnv() Config {
	cfg := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		Port:        DefaultPort,
	}
	if port, err := strconv.Atoi(os.Getenv("PORT")); err == nil {
		cfg.Port = port
	}
	if trust, err := strconv.ParseBool(os.Getenv("TRUST_PROXY")); err == nil {
		cfg.TrustProxy = trust
	}
	return cfg
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 0 and 65535")
	}

	if c.Abuse.OriginLimit < 0 || c.Abuse.IdentityLimit < 0 {
		return fmt.Errorf("config error: abuse limits must be non-negative")
	}
	for name, value := range map[string]string{"window": c.Abuse.Window, "sweep_interval": c.Abuse.SweepInterval} {
		if value == "" {
			continue
		}
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			return fmt.Errorf("config error: abuse '%s' must be a positive duration, got %q", name, value)
		}
	}
	switch strings.ToLower(c.Abuse.Backend) {
	case "", abuse.BackendMemory:
	case abuse.BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("config error: 'redis_url' is required for the redis abuse backend")
		}
	default:
		return fmt.Errorf("config error: unknown abuse backend %q", c.Abuse.Backend)
	}

	if c.Dedup.Threshold < 0 || c.Dedup.Threshold > 1 {
		return fmt.Errorf("config error: dedup 'threshold' must be between 0 and 1")
	}
	if c.Dedup.LookbackDays < 0 || c.Dedup.MaxCandidates < 0 || c.Dedup.MaxTextRunes < 0 {
		return fmt.Errorf("config error: dedup limits must be non-negative")
	}

	for channel, score := range c.Credibility {
		if !credibility.Channel(channel).Valid() {
			return fmt.Errorf("config error: unknown credibility channel %q", channel)
		}
		if score < 1 || score > 10 {
			return fmt.Errorf("config error: credibility score for %s must be between 1 and 10", channel)
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
// This is used to apply environment values under config file values.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.RedisURL == "" {
		result.RedisURL = defaults.RedisURL
	}
	if result.Port == 0 {
		result.Port = defaults.Port
	}
	if result.Port == 0 {
		result.Port = DefaultPort
	}

	// Bool fields: cannot distinguish unset from false, so either side enables
	result.TrustProxy = result.TrustProxy || defaults.TrustProxy

	return result
}

// ApplyAbuse overlays the file settings on base, which normally comes from
// abuse.LoadConfig.
func (c *Config) ApplyAbuse(base *abuse.Config) *abuse.Config {
	out := *base
	s := c.Abuse

	if s.OriginLimit > 0 {
		out.OriginLimit = s.OriginLimit
	}
	if s.IdentityLimit > 0 {
		out.IdentityLimit = s.IdentityLimit
	}
	if d, err := time.ParseDuration(s.Window); err == nil && d > 0 {
		out.Window = d
	}
	if d, err := time.ParseDuration(s.SweepInterval); err == nil && d > 0 {
		out.SweepInterval = d
	}
	if s.Backend != "" {
		out.Backend = strings.ToLower(s.Backend)
	}
	if len(s.ExemptOrigins) > 0 {
		exempt := make(map[string]bool, len(base.ExemptOrigins)+len(s.ExemptOrigins))
		for origin := range base.ExemptOrigins {
			exempt[origin] = true
		}
		for _, origin := range s.ExemptOrigins {
			exempt[strings.TrimSpace(origin)] = true
		}
		out.ExemptOrigins = exempt
	}
	return &out
}

// ApplyDedup overlays the file settings on base, which normally comes from
// dedup.ConfigFromEnv.
func (c *Config) ApplyDedup(base dedup.Config) dedup.Config {
	s := c.Dedup
	if s.Threshold > 0 {
		base.Threshold = s.Threshold
	}
	if s.LookbackDays > 0 {
		base.LookbackWindow = time.Duration(s.LookbackDays) * 24 * time.Hour
	}
	if s.MaxCandidates > 0 {
		base.MaxCandidates = s.MaxCandidates
	}
	if s.MaxTextRunes > 0 {
		base.MaxTextRunes = s.MaxTextRunes
	}
	return base
}

// CredibilityTable returns the default table with the file overrides applied.
func (c *Config) CredibilityTable() credibility.Table {
	table := credibility.DefaultTable()
	for channel, score := range c.Credibility {
		table[credibility.Channel(channel)] = score
	}
	return table
}
