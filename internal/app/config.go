package app

import "time"

// Config holds runtime configuration for the application.
type Config struct {
	// Extraction input: CSV catalog of archive locators and form types.
	CatalogPath string
	// Normalization input: corpus JSON written by an extraction run.
	CorpusPath string
	// Output corpus path. Derived from the input name when empty.
	OutputPath string

	// Catalog row slice [SliceStart, SliceEnd). SliceEnd <= 0 means to the end.
	SliceStart int
	SliceEnd   int

	// Pipeline
	MaxWorkers int
	KeepTables bool
	Extensions []string

	// Retrieval
	UserAgent         string
	RequestsPerSecond float64
	Jitter            time.Duration
	MaxAttempts       int
	PerRequestTimeout time.Duration

	// Cache
	CacheDir         string
	CacheMaxAge      time.Duration
	CacheClear       bool
	CacheStrictPerms bool
	BypassCache      bool

	// Behavior
	Timeout time.Duration
	Verbose bool
}

// Defaults applied by ApplyDefaults. ApplyFileConfig treats a field still at
// its default as unset so a config file may override it.
const (
	DefaultMaxWorkers        = 4
	DefaultRequestsPerSecond = 5.0
	DefaultMaxAttempts       = 3
	DefaultPerRequestTimeout = 30 * time.Second
	DefaultCacheDir          = ".goedgar-cache"
)

// ApplyDefaults fills every field still unset after flags, env and file
// config have been applied.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.PerRequestTimeout == 0 {
		cfg.PerRequestTimeout = DefaultPerRequestTimeout
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = DefaultCacheDir
	}
}
