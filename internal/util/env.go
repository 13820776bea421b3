package util

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ParseBoolEnv parses a boolean environment variable with a default value.
// Accepts: true/1/yes/on and false/0/no/off (case-insensitive). Invalid values return default.
func ParseBoolEnv(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		slog.Warn("ParseBoolEnv: invalid boolean value, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
}

// ParseIntEnv parses an integer environment variable. Invalid values return default.
func ParseIntEnv(key string, defaultValue int) int {
	return parseEnv(key, defaultValue, strconv.Atoi)
}

// ParseUint64Env parses an unsigned integer environment variable. Invalid values return default.
func ParseUint64Env(key string, defaultValue uint64) uint64 {
	return parseEnv(key, defaultValue, func(s string) (uint64, error) {
		return strconv.ParseUint(s, 10, 64)
	})
}

// ParseFloatEnv parses a float environment variable. Invalid values return default.
func ParseFloatEnv(key string, defaultValue float64) float64 {
	return parseEnv(key, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// ParseDurationEnv parses a time.ParseDuration value such as "24h". Invalid values return default.
func ParseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	return parseEnv(key, defaultValue, time.ParseDuration)
}

func parseEnv[T any](key string, defaultValue T, parse func(string) (T, error)) T {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	v, err := parse(val)
	if err != nil {
		slog.Warn("util: invalid environment value, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
	return v
}
