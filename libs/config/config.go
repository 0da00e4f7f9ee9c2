// Package config reads service settings from the environment. Services load
// tagged structs with Load; the scalar helpers serve command line tools whose
// flags default to an environment variable.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func String(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// Int returns fallback when the variable is unset, non-numeric or not positive.
func Int(key string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func Duration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func Bool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch v {
	case "":
		return fallback
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}
