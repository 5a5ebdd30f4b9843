package abuse

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds dual-axis limiter configuration.
type Config struct {
	Enabled       bool
	OriginLimit   int           // Attempts per window for one origin address
	IdentityLimit int           // Attempts per window for one identity
	Window        time.Duration // Fixed window length, shared by both axes
	SweepInterval time.Duration // How often expired entries are dropped
	Backend       string        // "memory" or "redis"
	ExemptOrigins map[string]bool
}

// DefaultConfig returns the default policy: 5 attempts per origin and 10
// per identity per hour, swept every 5 minutes.
func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		OriginLimit:   5,
		IdentityLimit: 10,
		Window:        time.Hour,
		SweepInterval: 5 * time.Minute,
		Backend:       BackendMemory,
		ExemptOrigins: make(map[string]bool),
	}
}

// Backend names accepted in Config.Backend.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// LoadConfig loads limiter configuration from environment variables.
func LoadConfig() *Config {
	defaults := DefaultConfig()

	return &Config{
		Enabled:       getEnvBool("ABUSE_LIMIT_ENABLED", defaults.Enabled),
		OriginLimit:   getEnvInt("ABUSE_ORIGIN_LIMIT", defaults.OriginLimit),
		IdentityLimit: getEnvInt("ABUSE_IDENTITY_LIMIT", defaults.IdentityLimit),
		Window:        getEnvDuration("ABUSE_WINDOW", defaults.Window),
		SweepInterval: getEnvDuration("ABUSE_SWEEP_INTERVAL", defaults.SweepInterval),
		Backend:       strings.ToLower(getEnvString("ABUSE_BACKEND", defaults.Backend)),
		ExemptOrigins: parseList(getEnvString("ABUSE_EXEMPT_ORIGINS", "")),
	}
}

// Validate rejects settings the limiters cannot enforce. Limits of zero mean
// unlimited; the window must be at least a millisecond because the redis
// backend expires counters in whole milliseconds.
func (c *Config) Validate() error {
	if c.OriginLimit < 0 || c.IdentityLimit < 0 {
		return fmt.Errorf("abuse limits must be non-negative, got origin=%d identity=%d", c.OriginLimit, c.IdentityLimit)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("abuse sweep interval must be non-negative, got %s", c.SweepInterval)
	}
	if c.Enabled && c.Window < time.Millisecond {
		return fmt.Errorf("abuse window must be at least 1ms, got %s", c.Window)
	}
	return nil
}

// getEnvString gets an environment variable as a string with a default value.
func getEnvString(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer with a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as a boolean with a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as a duration with a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// parseList parses a comma-separated list into a set.
func parseList(list string) map[string]bool {
	result := make(map[string]bool)
	if list == "" {
		return result
	}

	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			result[item] = true
		}
	}
	return result
}
