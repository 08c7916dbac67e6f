// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/ManuGH/clipforge/internal/log"
)

// ParseString reads a string from an environment variable or returns the
// default value. It logs the source (environment or default) for observability.
func ParseString(key, defaultValue string) string {
	logger := log.WithComponent("config")
	if value, exists := os.LookupEnv(key); exists && value != "" {
		logger.Debug().
			Str("key", key).
			Str("value", value).
			Str("source", "environment").
			Msg("using environment variable")
		return value
	}
	logger.Debug().
		Str("key", key).
		Str("default", defaultValue).
		Str("source", "default").
		Msg("using default value")
	return defaultValue
}

// ParseInt reads an integer from an environment variable or returns the
// default value. It validates the input and falls back to default on parse
// errors.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			logger.Warn().
				Str("key", key).
				Str("value", v).
				Int("default", defaultValue).
				Msg("invalid integer value, using default")
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

// ParseDuration reads a time.Duration (Go duration syntax) from an environment
// variable or returns the default value.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			logger.Warn().
				Str("key", key).
				Str("value", v).
				Dur("default", defaultValue).
				Msg("invalid duration value, using default")
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}
