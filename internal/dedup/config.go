package dedup

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for duplicate resolution.
type Config struct {
	// Threshold is the minimum similarity ratio (0.0-1.0) for a fuzzy
	// duplicate. The comparison is inclusive.
	// Default: 0.85
	Threshold float64

	// LookbackWindow bounds the candidate pool to statements ingested within
	// this trailing window. Applied by the pool supplier, not the resolver.
	// Default: 90 days
	LookbackWindow time.Duration

	// MaxCandidates caps the candidate pool size requested from the store.
	// Default: 200
	MaxCandidates int

	// MaxTextRunes is the longest statement accepted for scoring. Edit
	// distance is quadratic in length.
	// Default: 5000
	MaxTextRunes int
}

// DefaultConfig returns the default resolution configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:      0.85,
		LookbackWindow: 90 * 24 * time.Hour,
		MaxCandidates:  200,
		MaxTextRunes:   5000,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.Threshold <= 0.0 || c.Threshold > 1.0 {
		return fmt.Errorf("threshold must be in (0.0, 1.0] (got %.2f)", c.Threshold)
	}
	if c.LookbackWindow <= 0 {
		return fmt.Errorf("lookback_window must be positive (got %v)", c.LookbackWindow)
	}
	if c.MaxCandidates <= 0 {
		return fmt.Errorf("max_candidates must be positive (got %d)", c.MaxCandidates)
	}
	if c.MaxCandidates > 5000 {
		return fmt.Errorf("max_candidates too large (got %d, max 5000)", c.MaxCandidates)
	}
	if c.MaxTextRunes <= 0 {
		return fmt.Errorf("max_text_runes must be positive (got %d)", c.MaxTextRunes)
	}
	return nil
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf("Config{Threshold: %.2f, Lookback: %v, MaxCandidates: %d, MaxTextRunes: %d}",
		c.Threshold, c.LookbackWindow, c.MaxCandidates, c.MaxTextRunes)
}

// ConfigFromEnv creates a Config from environment variables, falling back to defaults
//
// Environment variables:
//   - DEDUP_THRESHOLD: Minimum similarity for a fuzzy duplicate (default: 0.85)
//   - DEDUP_LOOKBACK_DAYS: Candidate pool window in days (default: 90)
//   - DEDUP_MAX_CANDIDATES: Candidate pool cap (default: 200)
//   - DEDUP_MAX_TEXT_RUNES: Longest accepted statement (default: 5000)
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if err := parseEnvFloat("DEDUP_THRESHOLD", &cfg.Threshold); err != nil {
		return cfg, err
	}
	if err := parseEnvDays("DEDUP_LOOKBACK_DAYS", &cfg.LookbackWindow); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("DEDUP_MAX_CANDIDATES", &cfg.MaxCandidates); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("DEDUP_MAX_TEXT_RUNES", &cfg.MaxTextRunes); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return cfg, nil
}

func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

func parseEnvDays(key string, dest *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = time.Duration(parsed) * 24 * time.Hour
	return nil
}
