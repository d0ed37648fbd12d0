package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/goedgar/internal/app"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitCancelled = 2
)

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := realMain(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: goedgar <command> [flags]

commands:
  extract    retrieve catalog filings and extract one document per filing
  normalize  convert an extraction corpus to canonical plain text
  version    print build information

run "goedgar <command> -h" for command flags`)
}

func realMain(ctx context.Context, args []string, stdout io.Writer) int {
	if len(args) == 0 {
		usage(os.Stderr)
		return exitFailure
	}
	var stage app.Stage
	switch args[0] {
	case "extract":
		stage = app.StageExtract
	case "normalize":
		stage = app.StageNormalize
	case "version", "-version", "--version":
		fmt.Fprintln(stdout, app.VersionString())
		return exitOK
	case "-h", "-help", "--help", "help":
		usage(stdout)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "goedgar: unknown command %q\n", args[0])
		usage(os.Stderr)
		return exitFailure
	}

	cfg, err := loadConfig(stage, args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return exitFailure
	}

	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if err := run(ctx, stage, cfg); err != nil {
		// Per-item failures never surface here; they are recorded as null
		// entries in the corpus.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Err(err).Msg("run interrupted, partial corpus written")
			return exitCancelled
		}
		log.Error().Err(err).Msg("run failed")
		return exitFailure
	}
	return exitOK
}

// loadConfig layers configuration: flags, then env, then the config file,
// then defaults. Each layer only fills what the previous ones left unset.
func loadConfig(stage app.Stage, args []string) (app.Config, error) {
	var (
		cfg        app.Config
		configPath string
		envFiles   string
		extensions string
	)
	fs := flag.NewFlagSet(string(stage), flag.ContinueOnError)
	fs.StringVar(&configPath, "config", os.Getenv("GOEDGAR_CONFIG"), "Path to YAML, JSON or TOML config file")
	fs.StringVar(&envFiles, "env", ".env", "Comma-separated dotenv files to load (missing files are ignored)")
	fs.StringVar(&cfg.OutputPath, "out", "", "Output corpus path (derived from the input name when empty)")
	fs.IntVar(&cfg.MaxWorkers, "workers", 0, fmt.Sprintf("Maximum concurrent items (default %d)", app.DefaultMaxWorkers))
	fs.DurationVar(&cfg.Timeout, "timeout", 0, "Deadline for the whole run, e.g. 2h; 0 disables")
	fs.BoolVar(&cfg.Verbose, "v", false, "Verbose logging")

	switch stage {
	case app.StageExtract:
		fs.StringVar(&cfg.CatalogPath, "catalog", "", "CSV catalog with fname and form columns")
		fs.IntVar(&cfg.SliceStart, "start", 0, "First catalog row to process (0-based)")
		fs.IntVar(&cfg.SliceEnd, "end", 0, "Catalog row to stop before; 0 means the last row")
		fs.StringVar(&cfg.UserAgent, "user-agent", "", "User-Agent sent to EDGAR, e.g. \"Company Name admin@example.com\" (required)")
		fs.Float64Var(&cfg.RequestsPerSecond, "rps", 0, fmt.Sprintf("Request rate limit (default %g)", app.DefaultRequestsPerSecond))
		fs.DurationVar(&cfg.Jitter, "jitter", 0, "Random extra delay before each request, up to this value")
		fs.IntVar(&cfg.MaxAttempts, "attempts", 0, fmt.Sprintf("Attempts per request including the first (default %d)", app.DefaultMaxAttempts))
		fs.DurationVar(&cfg.PerRequestTimeout, "request-timeout", 0, fmt.Sprintf("Timeout per request (default %s)", app.DefaultPerRequestTimeout))
		fs.StringVar(&cfg.CacheDir, "cache.dir", "", fmt.Sprintf("Archive cache directory (default %s)", app.DefaultCacheDir))
		fs.DurationVar(&cfg.CacheMaxAge, "cache.maxAge", 0, "Serve cached archives younger than this and purge older ones; 0 always revalidates")
		fs.BoolVar(&cfg.CacheClear, "cache.clear", false, "Clear cache directory before run")
		fs.BoolVar(&cfg.CacheStrictPerms, "cache.strictPerms", false, "Restrict cache permissions (0700 dirs, 0600 files)")
		fs.BoolVar(&cfg.BypassCache, "cache.bypass", false, "Always fetch fresh archives but still refresh the cache")
		fs.StringVar(&extensions, "ext", "", "Comma-separated allowed document filename extensions (default .htm,.html,.xhtml,.txt)")
	case app.StageNormalize:
		fs.StringVar(&cfg.CorpusPath, "corpus", "", "Extraction corpus JSON to normalize")
		fs.BoolVar(&cfg.KeepTables, "keep-tables", false, "Keep table text instead of removing tables")
	}
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 1 {
		return cfg, fmt.Errorf("unexpected arguments: %q", fs.Args()[1:])
	}
	if in := fs.Arg(0); in != "" {
		switch stage {
		case app.StageExtract:
			cfg.CatalogPath = in
		case app.StageNormalize:
			cfg.CorpusPath = in
		}
	}
	if s := strings.TrimSpace(extensions); s != "" {
		for _, p := range strings.Split(s, ",") {
			if v := strings.ToLower(strings.TrimSpace(p)); v != "" {
				if !strings.HasPrefix(v, ".") {
					v = "." + v
				}
				cfg.Extensions = append(cfg.Extensions, v)
			}
		}
	}

	if err := app.LoadEnvFiles(strings.Split(envFiles, ",")...); err != nil {
		return cfg, fmt.Errorf("load env files: %w", err)
	}
	app.ApplyEnvToConfig(&cfg)
	if strings.TrimSpace(configPath) != "" {
		fc, err := app.LoadConfigFile(configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		app.ApplyFileConfig(&cfg, fc)
	}
	app.ApplyDefaults(&cfg)
	return cfg, app.ValidateConfig(cfg, stage)
}

func run(ctx context.Context, stage app.Stage, cfg app.Config) error {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer a.Close()

	var sum app.Summary
	switch stage {
	case app.StageExtract:
		sum, err = a.RunExtract(ctx)
	case app.StageNormalize:
		sum, err = a.RunNormalize(ctx)
	}
	if sum.Output != "" {
		log.Info().
			Str("stage", string(stage)).
			Str("out", sum.Output).
			Int("items", sum.Items).
			Int("found", sum.Found).
			Int("failed", sum.Failed).
			Int("skipped", sum.Skipped).
			Msg("done")
	}
	return err
}
