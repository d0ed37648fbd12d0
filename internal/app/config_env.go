package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables understood by the application.
const (
	EnvUserAgent         = "GOEDGAR_USER_AGENT"
	EnvWorkers           = "GOEDGAR_WORKERS"
	EnvRequestsPerSecond = "GOEDGAR_RPS"
	EnvCacheDir          = "GOEDGAR_CACHE_DIR"
	EnvCacheMaxAge       = "GOEDGAR_CACHE_MAX_AGE"
	EnvCacheClear        = "GOEDGAR_CACHE_CLEAR"
	EnvTimeout           = "GOEDGAR_TIMEOUT"
	EnvKeepTables        = "GOEDGAR_KEEP_TABLES"
	EnvVerbose           = "GOEDGAR_VERBOSE"
)

// ApplyEnvToConfig populates unset fields of cfg from environment variables.
// Explicit cfg values take precedence over env.
func ApplyEnvToConfig(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = strings.TrimSpace(os.Getenv(EnvUserAgent))
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = os.Getenv(EnvCacheDir)
	}
	if cfg.MaxWorkers == 0 {
		if n, ok := envInt(EnvWorkers); ok {
			cfg.MaxWorkers = n
		}
	}
	if cfg.RequestsPerSecond == 0 {
		if f, ok := envFloat(EnvRequestsPerSecond); ok {
			cfg.RequestsPerSecond = f
		}
	}
	if cfg.CacheMaxAge == 0 {
		if d, ok := envDuration(EnvCacheMaxAge); ok {
			cfg.CacheMaxAge = d
		}
	}
	if cfg.Timeout == 0 {
		if d, ok := envDuration(EnvTimeout); ok {
			cfg.Timeout = d
		}
	}

	setBool := func(dst *bool, envKey string) {
		if *dst {
			return
		}
		if v, ok := envBool(envKey); ok && v {
			*dst = true
		}
	}
	setBool(&cfg.CacheClear, EnvCacheClear)
	setBool(&cfg.KeepTables, EnvKeepTables)
	setBool(&cfg.Verbose, EnvVerbose)
}

func envInt(key string) (int, bool) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return f, true
}

func envDuration(key string) (time.Duration, bool) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false
	}
	return d, true
}

func envBool(key string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}
