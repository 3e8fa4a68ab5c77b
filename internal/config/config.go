package config

import (
	"os"
	"runtime"
	"strconv"
)

// Config holds the defaults for the xpub CLI and server. Command-line flags
// override every value.
type Config struct {
	// Conversion
	Output        string
	Language      string
	Backend       string
	Workers       int
	SkipMalformed bool
	MaxEntryBytes int64

	// Logging
	LogLevel  string
	LogFormat string

	// Server
	Addr           string
	MaxUploadBytes int64
}

// Load reads the configuration from XPUB_* environment variables.
func Load() Config {
	cfg := Config{
		Output:        envOr("XPUB_OUTPUT", "modified.epub"),
		Language:      os.Getenv("XPUB_LANG"),
		Backend:       envOr("XPUB_BACKEND_URL", "http://localhost:3000"),
		Workers:       envInt("XPUB_WORKERS", runtime.NumCPU()),
		SkipMalformed: envBool("XPUB_SKIP_MALFORMED", false),
		MaxEntryBytes: envInt64("XPUB_MAX_ENTRY_BYTES", 268435456), // 256MB

		LogLevel:  envOr("XPUB_LOG_LEVEL", "info"),
		LogFormat: envOr("XPUB_LOG_FORMAT", "text"),

		Addr:           envOr("XPUB_ADDR", ":8090"),
		MaxUploadBytes: envInt64("XPUB_MAX_UPLOAD_BYTES", 268435456), // 256MB
	}

	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.MaxEntryBytes <= 0 {
		cfg.MaxEntryBytes = 268435456
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 268435456
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
