package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlConfig = `
catalog: catalogs/10-K_2019.csv
output: sources/10-K_2019.json
slice:
  start: 10
  end: 20
workers: 8
keepTables: true
extensions: [".htm", ".txt"]
fetch:
  userAgent: Research Lab admin@example.com
  requestsPerSecond: 2
  jitter: 250ms
  maxAttempts: 5
  timeout: 45s
cache:
  dir: /var/cache/goedgar
  maxAge: 72h
  strictPerms: true
timeout: 30m
`

const jsonConfig = `{
  "corpus": "sources/10-K_2019.json",
  "workers": 2,
  "fetch": {"userAgent": "json agent", "jitter": "1s"},
  "cache": {"maxAge": "1h", "bypass": true},
  "verbose": true
}`

const tomlConfig = `
catalog = "catalogs/10-Q.csv"
workers = 6

[fetch]
userAgent = "toml agent"
requestsPerSecond = 1.5
timeout = "2m"

[cache]
dir = "toml-cache"
clear = true
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadConfigFile_YAML(t *testing.T) {
	fc, err := LoadConfigFile(writeConfig(t, "goedgar.yaml", yamlConfig))
	require.NoError(t, err)
	assert.Equal(t, "catalogs/10-K_2019.csv", fc.Catalog)
	assert.Equal(t, 10, fc.Slice.Start)
	assert.Equal(t, 20, fc.Slice.End)
	assert.Equal(t, 8, fc.Workers)
	assert.True(t, fc.KeepTables)
	assert.Equal(t, []string{".htm", ".txt"}, fc.Extensions)
	assert.Equal(t, "Research Lab admin@example.com", fc.Fetch.UserAgent)
	assert.Equal(t, Duration(250*time.Millisecond), fc.Fetch.Jitter)
	assert.Equal(t, Duration(45*time.Second), fc.Fetch.Timeout)
	assert.Equal(t, Duration(72*time.Hour), fc.Cache.MaxAge)
	assert.Equal(t, Duration(30*time.Minute), fc.Timeout)
}

func TestLoadConfigFile_JSON(t *testing.T) {
	fc, err := LoadConfigFile(writeConfig(t, "goedgar.json", jsonConfig))
	require.NoError(t, err)
	assert.Equal(t, "sources/10-K_2019.json", fc.Corpus)
	assert.Equal(t, "json agent", fc.Fetch.UserAgent)
	assert.Equal(t, Duration(time.Second), fc.Fetch.Jitter)
	assert.Equal(t, Duration(time.Hour), fc.Cache.MaxAge)
	assert.True(t, fc.Cache.Bypass)
	assert.True(t, fc.Verbose)
}

func TestLoadConfigFile_TOML(t *testing.T) {
	fc, err := LoadConfigFile(writeConfig(t, "goedgar.toml", tomlConfig))
	require.NoError(t, err)
	assert.Equal(t, "catalogs/10-Q.csv", fc.Catalog)
	assert.Equal(t, 6, fc.Workers)
	assert.Equal(t, "toml agent", fc.Fetch.UserAgent)
	assert.InDelta(t, 1.5, fc.Fetch.RequestsPerSecond, 1e-9)
	assert.Equal(t, Duration(2*time.Minute), fc.Fetch.Timeout)
	assert.True(t, fc.Cache.Clear)
}

func TestLoadConfigFile_UnknownExtensionFallsBack(t *testing.T) {
	fc, err := LoadConfigFile(writeConfig(t, "goedgar.conf", jsonConfig))
	require.NoError(t, err)
	assert.Equal(t, "json agent", fc.Fetch.UserAgent)
}

func TestLoadConfigFile_Errors(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)

	_, err = LoadConfigFile(writeConfig(t, "bad.toml", "workers = [unterminated"))
	require.ErrorContains(t, err, "parse toml")

	_, err = LoadConfigFile(writeConfig(t, "bad.yaml", "fetch:\n  jitter: soon\n"))
	require.Error(t, err)
}

func TestApplyFileConfig_FlagsWin(t *testing.T) {
	fc, err := LoadConfigFile(writeConfig(t, "goedgar.yaml", yamlConfig))
	require.NoError(t, err)

	cfg := Config{
		MaxWorkers:        DefaultMaxWorkers,
		RequestsPerSecond: DefaultRequestsPerSecond,
		MaxAttempts:       DefaultMaxAttempts,
		PerRequestTimeout: DefaultPerRequestTimeout,
		CacheDir:          DefaultCacheDir,
		UserAgent:         "flag agent",
		OutputPath:        "explicit.json",
	}
	ApplyFileConfig(&cfg, fc)

	assert.Equal(t, "catalogs/10-K_2019.csv", cfg.CatalogPath)
	assert.Equal(t, "explicit.json", cfg.OutputPath, "explicit flag must win")
	assert.Equal(t, "flag agent", cfg.UserAgent, "explicit flag must win")
	assert.Equal(t, 8, cfg.MaxWorkers, "flag default is overridable")
	assert.InDelta(t, 2.0, cfg.RequestsPerSecond, 1e-9)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 45*time.Second, cfg.PerRequestTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Jitter)
	assert.Equal(t, "/var/cache/goedgar", cfg.CacheDir)
	assert.Equal(t, 72*time.Hour, cfg.CacheMaxAge)
	assert.True(t, cfg.CacheStrictPerms)
	assert.True(t, cfg.KeepTables)
	assert.Equal(t, 10, cfg.SliceStart)
	assert.Equal(t, 20, cfg.SliceEnd)
	assert.Equal(t, 30*time.Minute, cfg.Timeout)

	ApplyFileConfig(nil, fc)
}

func TestValidateConfig(t *testing.T) {
	valid := Config{CatalogPath: "c.csv", CorpusPath: "c.json", UserAgent: "agent a@b.c", MaxWorkers: 4}
	require.NoError(t, ValidateConfig(valid, StageExtract))
	require.NoError(t, ValidateConfig(valid, StageNormalize))

	tests := []struct {
		name   string
		stage  Stage
		mutate func(*Config)
		want   string
	}{
		{"missing catalog", StageExtract, func(c *Config) { c.CatalogPath = " " }, "catalog path"},
		{"missing agent", StageExtract, func(c *Config) { c.UserAgent = "" }, "userAgent"},
		{"negative rps", StageExtract, func(c *Config) { c.RequestsPerSecond = -1 }, "negative fetch"},
		{"missing corpus", StageNormalize, func(c *Config) { c.CorpusPath = "" }, "corpus path"},
		{"zero workers", StageNormalize, func(c *Config) { c.MaxWorkers = 0 }, "workers must be positive"},
		{"inverted slice", StageExtract, func(c *Config) { c.SliceStart, c.SliceEnd = 5, 5 }, "slice end"},
		{"negative slice", StageExtract, func(c *Config) { c.SliceStart = -1 }, "negative slice"},
		{"negative timeout", StageNormalize, func(c *Config) { c.Timeout = -time.Second }, "negative durations"},
		{"unknown stage", Stage("publish"), func(*Config) {}, "unknown stage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := ValidateConfig(cfg, tt.stage)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
