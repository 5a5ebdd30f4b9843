package main

import (
	"context"
	"fmt"

	"github.com/jonathan/stance-tracker/internal/config"
	"github.com/jonathan/stance-tracker/internal/db"
	"github.com/jonathan/stance-tracker/internal/dedup"
)

// loadConfig layers the optional config file over the environment.
func loadConfig(path string) (config.Config, error) {
	cfg := config.FromEnv()
	if path != "" {
		fileCfg, err := config.LoadConfig(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = fileCfg.MergeWithDefaults(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// dedupConfig resolves the resolver settings from the environment and the
// config file.
func dedupConfig(cfg config.Config) (dedup.Config, error) {
	base, err := dedup.ConfigFromEnv()
	if err != nil {
		return dedup.Config{}, err
	}
	out := cfg.ApplyDedup(base)
	if err := out.Validate(); err != nil {
		return dedup.Config{}, fmt.Errorf("invalid dedup config: %w", err)
	}
	return out, nil
}

// connect opens the database named by the flag value or, failing that, the
// configuration.
func connect(ctx context.Context, flagURL string, cfg config.Config) (*db.DB, error) {
	url := flagURL
	if url == "" {
		url = cfg.DatabaseURL
	}
	if url == "" {
		return nil, fmt.Errorf("database URL is required (set DATABASE_URL or use --db-url)")
	}
	return db.Connect(ctx, url)
}
