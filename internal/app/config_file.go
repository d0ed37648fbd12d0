package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	yaml "gopkg.in/yaml.v3"
)

// FileConfig represents the single-file configuration schema.
// Nested sections map naturally to flags/env.
type FileConfig struct {
	Catalog string `yaml:"catalog" json:"catalog" toml:"catalog"`
	Corpus  string `yaml:"corpus" json:"corpus" toml:"corpus"`
	Output  string `yaml:"output" json:"output" toml:"output"`

	Slice struct {
		Start int `yaml:"start" json:"start" toml:"start"`
		End   int `yaml:"end" json:"end" toml:"end"`
	} `yaml:"slice" json:"slice" toml:"slice"`

	Workers    int      `yaml:"workers" json:"workers" toml:"workers"`
	KeepTables bool     `yaml:"keepTables" json:"keepTables" toml:"keepTables"`
	Extensions []string `yaml:"extensions" json:"extensions" toml:"extensions"`

	Fetch struct {
		UserAgent         string   `yaml:"userAgent" json:"userAgent" toml:"userAgent"`
		RequestsPerSecond float64  `yaml:"requestsPerSecond" json:"requestsPerSecond" toml:"requestsPerSecond"`
		Jitter            Duration `yaml:"jitter" json:"jitter" toml:"jitter"`
		MaxAttempts       int      `yaml:"maxAttempts" json:"maxAttempts" toml:"maxAttempts"`
		Timeout           Duration `yaml:"timeout" json:"timeout" toml:"timeout"`
	} `yaml:"fetch" json:"fetch" toml:"fetch"`

	Cache struct {
		Dir         string   `yaml:"dir" json:"dir" toml:"dir"`
		MaxAge      Duration `yaml:"maxAge" json:"maxAge" toml:"maxAge"`
		Clear       bool     `yaml:"clear" json:"clear" toml:"clear"`
		StrictPerms bool     `yaml:"strictPerms" json:"strictPerms" toml:"strictPerms"`
		Bypass      bool     `yaml:"bypass" json:"bypass" toml:"bypass"`
	} `yaml:"cache" json:"cache" toml:"cache"`

	Timeout Duration `yaml:"timeout" json:"timeout" toml:"timeout"`
	Verbose bool     `yaml:"verbose" json:"verbose" toml:"verbose"`
}

// Duration accepts "90s"-style strings in every config format.
type Duration time.Duration

func (d *Duration) set(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// UnmarshalText implements encoding.TextUnmarshaler (JSON strings and TOML).
func (d *Duration) UnmarshalText(b []byte) error { return d.set(string(b)) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error { return d.set(n.Value) }

// LoadConfigFile reads YAML, JSON or TOML into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse toml: %w", err)
		}
	default:
		// Try YAML then JSON
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays values from FileConfig into cfg for any fields that
// are currently unset or still at their flag default. Flags should already
// have been parsed; this lets the file supply values while explicit flags win.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	if cfg.CatalogPath == "" && fc.Catalog != "" {
		cfg.CatalogPath = fc.Catalog
	}
	if cfg.CorpusPath == "" && fc.Corpus != "" {
		cfg.CorpusPath = fc.Corpus
	}
	if cfg.OutputPath == "" && fc.Output != "" {
		cfg.OutputPath = fc.Output
	}
	if cfg.SliceStart == 0 && fc.Slice.Start > 0 {
		cfg.SliceStart = fc.Slice.Start
	}
	if cfg.SliceEnd == 0 && fc.Slice.End > 0 {
		cfg.SliceEnd = fc.Slice.End
	}

	if (cfg.MaxWorkers == 0 || cfg.MaxWorkers == DefaultMaxWorkers) && fc.Workers > 0 {
		cfg.MaxWorkers = fc.Workers
	}
	if !cfg.KeepTables && fc.KeepTables {
		cfg.KeepTables = true
	}
	if len(cfg.Extensions) == 0 && len(fc.Extensions) > 0 {
		cfg.Extensions = append([]string{}, fc.Extensions...)
	}

	if cfg.UserAgent == "" && fc.Fetch.UserAgent != "" {
		cfg.UserAgent = fc.Fetch.UserAgent
	}
	if (cfg.RequestsPerSecond == 0 || cfg.RequestsPerSecond == DefaultRequestsPerSecond) && fc.Fetch.RequestsPerSecond > 0 {
		cfg.RequestsPerSecond = fc.Fetch.RequestsPerSecond
	}
	if cfg.Jitter == 0 && fc.Fetch.Jitter > 0 {
		cfg.Jitter = time.Duration(fc.Fetch.Jitter)
	}
	if (cfg.MaxAttempts == 0 || cfg.MaxAttempts == DefaultMaxAttempts) && fc.Fetch.MaxAttempts > 0 {
		cfg.MaxAttempts = fc.Fetch.MaxAttempts
	}
	if (cfg.PerRequestTimeout == 0 || cfg.PerRequestTimeout == DefaultPerRequestTimeout) && fc.Fetch.Timeout > 0 {
		cfg.PerRequestTimeout = time.Duration(fc.Fetch.Timeout)
	}

	if (cfg.CacheDir == "" || cfg.CacheDir == DefaultCacheDir) && fc.Cache.Dir != "" {
		cfg.CacheDir = fc.Cache.Dir
	}
	if cfg.CacheMaxAge == 0 && fc.Cache.MaxAge > 0 {
		cfg.CacheMaxAge = time.Duration(fc.Cache.MaxAge)
	}
	if !cfg.CacheClear && fc.Cache.Clear {
		cfg.CacheClear = true
	}
	if !cfg.CacheStrictPerms && fc.Cache.StrictPerms {
		cfg.CacheStrictPerms = true
	}
	if !cfg.BypassCache && fc.Cache.Bypass {
		cfg.BypassCache = true
	}

	if cfg.Timeout == 0 && fc.Timeout > 0 {
		cfg.Timeout = time.Duration(fc.Timeout)
	}
	if !cfg.Verbose && fc.Verbose {
		cfg.Verbose = true
	}
}

// Stage selects which inputs ValidateConfig requires.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageNormalize Stage = "normalize"
)

// ValidateConfig performs minimal schema validation for required settings.
func ValidateConfig(cfg Config, stage Stage) error {
	switch stage {
	case StageExtract:
		if strings.TrimSpace(cfg.CatalogPath) == "" {
			return errors.New("config: catalog path is required")
		}
		if strings.TrimSpace(cfg.UserAgent) == "" {
			return errors.New("config: fetch.userAgent is required (or set GOEDGAR_USER_AGENT)")
		}
		if cfg.RequestsPerSecond < 0 || cfg.MaxAttempts < 0 || cfg.PerRequestTimeout < 0 || cfg.Jitter < 0 {
			return errors.New("config: negative fetch limits are not allowed")
		}
	case StageNormalize:
		if strings.TrimSpace(cfg.CorpusPath) == "" {
			return errors.New("config: corpus path is required")
		}
	default:
		return fmt.Errorf("config: unknown stage %q", stage)
	}
	if cfg.MaxWorkers <= 0 {
		return fmt.Errorf("config: workers must be positive, got %d", cfg.MaxWorkers)
	}
	if cfg.SliceStart < 0 || cfg.SliceEnd < 0 {
		return errors.New("config: negative slice bounds are not allowed")
	}
	if cfg.SliceEnd > 0 && cfg.SliceEnd <= cfg.SliceStart {
		return fmt.Errorf("config: slice end %d must be greater than start %d", cfg.SliceEnd, cfg.SliceStart)
	}
	if cfg.Timeout < 0 || cfg.CacheMaxAge < 0 {
		return errors.New("config: negative durations are not allowed")
	}
	return nil
}
