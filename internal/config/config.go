// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads daemon configuration with precedence ENV > file > defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all daemon settings.
type Config struct {
	// DataDir is the root for assets, the job store and temp encoder output.
	DataDir string `yaml:"dataDir"`

	ListenAddr string `yaml:"listenAddr"`
	LogLevel   string `yaml:"logLevel"`

	// StoreBackend selects the job store implementation: "badger" or "memory".
	StoreBackend string `yaml:"storeBackend"`

	FFmpegBin  string `yaml:"ffmpegBin"`
	FFprobeBin string `yaml:"ffprobeBin"`

	// Workers bounds the number of simultaneous encoder processes.
	Workers     int `yaml:"workers"`
	MaxAttempts int `yaml:"maxAttempts"`

	EncodeTimeout    time.Duration `yaml:"encodeTimeout"`
	ClaimInterval    time.Duration `yaml:"claimInterval"`
	HeartbeatEvery   time.Duration `yaml:"heartbeatEvery"`
	HeartbeatTTL     time.Duration `yaml:"heartbeatTTL"`
	SweepInterval    time.Duration `yaml:"sweepInterval"`
	RetryBackoffBase time.Duration `yaml:"retryBackoffBase"`
	RetryBackoffMax  time.Duration `yaml:"retryBackoffMax"`

	// RateLimitRPM caps submission requests per client IP per minute (0 disables).
	RateLimitRPM int `yaml:"rateLimitRPM"`
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	return Config{
		DataDir:          "/var/lib/clipforge",
		ListenAddr:       ":8080",
		LogLevel:         "info",
		StoreBackend:     "badger",
		FFmpegBin:        "ffmpeg",
		FFprobeBin:       "ffprobe",
		Workers:          2,
		MaxAttempts:      3,
		EncodeTimeout:    15 * time.Minute,
		ClaimInterval:    500 * time.Millisecond,
		HeartbeatEvery:   5 * time.Second,
		HeartbeatTTL:     30 * time.Second,
		SweepInterval:    15 * time.Second,
		RetryBackoffBase: 2 * time.Second,
		RetryBackoffMax:  2 * time.Minute,
		RateLimitRPM:     60,
	}
}

// Load builds the effective configuration. If path is non-empty the YAML file
// is merged over the defaults; environment variables win over both.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DataDir = ParseString("CLIPFORGE_DATA", cfg.DataDir)
	cfg.ListenAddr = ParseString("CLIPFORGE_LISTEN", cfg.ListenAddr)
	cfg.LogLevel = ParseString("CLIPFORGE_LOG_LEVEL", cfg.LogLevel)
	cfg.StoreBackend = ParseString("CLIPFORGE_STORE", cfg.StoreBackend)
	cfg.FFmpegBin = ParseString("CLIPFORGE_FFMPEG", cfg.FFmpegBin)
	cfg.FFprobeBin = ParseString("CLIPFORGE_FFPROBE", cfg.FFprobeBin)
	cfg.Workers = ParseInt("CLIPFORGE_WORKERS", cfg.Workers)
	cfg.MaxAttempts = ParseInt("CLIPFORGE_MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.EncodeTimeout = ParseDuration("CLIPFORGE_ENCODE_TIMEOUT", cfg.EncodeTimeout)
	cfg.ClaimInterval = ParseDuration("CLIPFORGE_CLAIM_INTERVAL", cfg.ClaimInterval)
	cfg.HeartbeatEvery = ParseDuration("CLIPFORGE_HEARTBEAT_EVERY", cfg.HeartbeatEvery)
	cfg.HeartbeatTTL = ParseDuration("CLIPFORGE_HEARTBEAT_TTL", cfg.HeartbeatTTL)
	cfg.SweepInterval = ParseDuration("CLIPFORGE_SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.RetryBackoffBase = ParseDuration("CLIPFORGE_RETRY_BACKOFF_BASE", cfg.RetryBackoffBase)
	cfg.RetryBackoffMax = ParseDuration("CLIPFORGE_RETRY_BACKOFF_MAX", cfg.RetryBackoffMax)
	cfg.RateLimitRPM = ParseInt("CLIPFORGE_RATE_LIMIT_RPM", cfg.RateLimitRPM)
}

// Validate rejects configurations that cannot run safely.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("dataDir must not be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("maxAttempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.StoreBackend != "badger" && c.StoreBackend != "memory" {
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.EncodeTimeout <= 0 {
		return fmt.Errorf("encodeTimeout must be positive")
	}
	if c.HeartbeatTTL <= c.HeartbeatEvery {
		return fmt.Errorf("heartbeatTTL (%s) must exceed heartbeatEvery (%s)", c.HeartbeatTTL, c.HeartbeatEvery)
	}
	return nil
}
