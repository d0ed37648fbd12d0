package app

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/hyperifyio/goedgar/internal/archive"
	"github.com/hyperifyio/goedgar/internal/batch"
	"github.com/hyperifyio/goedgar/internal/cache"
	"github.com/hyperifyio/goedgar/internal/fetch"
	"github.com/hyperifyio/goedgar/internal/normalize"
)

// archiveGetter is the retrieval collaborator used by extraction runs.
type archiveGetter interface {
	Get(ctx context.Context, locator string) ([]byte, string, error)
}

type App struct {
	cfg     Config
	fetcher archiveGetter
	cache   *cache.ArchiveCache
}

// Summary reports what a run produced.
type Summary struct {
	Output  string
	Items   int
	Found   int
	Failed  int
	Skipped int
}

// ErrNoInput is returned when the catalog or corpus holds nothing to process.
var ErrNoInput = errors.New("no input items")

func New(ctx context.Context, cfg Config) (*App, error) {
	a := &App{cfg: cfg}
	if cfg.CacheDir != "" {
		if cfg.CacheClear {
			if err := cache.ClearDir(cfg.CacheDir); err != nil {
				return nil, fmt.Errorf("clear cache: %w", err)
			}
		}
		if cfg.CacheMaxAge > 0 {
			// Purge is best-effort; a broken entry must not block the run.
			n, err := cache.PurgeByAge(cfg.CacheDir, cfg.CacheMaxAge)
			if err != nil {
				log.Warn().Err(err).Str("dir", cfg.CacheDir).Msg("cache purge failed")
			} else if n > 0 {
				log.Debug().Int("removed", n).Msg("purged expired cache entries")
			}
		}
		a.cache = &cache.ArchiveCache{Dir: cfg.CacheDir, MaxAge: cfg.CacheMaxAge, StrictPerms: cfg.CacheStrictPerms}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	a.fetcher = &fetch.Client{
		HTTPClient:        newArchiveHTTPClient(cfg.MaxWorkers),
		UserAgent:         cfg.UserAgent,
		MaxAttempts:       cfg.MaxAttempts,
		PerRequestTimeout: cfg.PerRequestTimeout,
		Cache:             a.cache,
		BypassCache:       cfg.BypassCache,
		Limiter:           limiter,
		Jitter:            cfg.Jitter,
		RedirectMaxHops:   5,
		MaxConcurrent:     cfg.MaxWorkers,
	}
	return a, nil
}

// Close releases idle connections held by the archive HTTP client.
func (a *App) Close() {
	if c, ok := a.fetcher.(*fetch.Client); ok && c.HTTPClient != nil {
		c.HTTPClient.CloseIdleConnections()
	}
}

// RunExtract retrieves every catalog filing, extracts the document of the
// catalog's form type and writes the extraction corpus. Filings that were not
// found, failed or were skipped by cancellation are written as null. When ctx
// is done the partial corpus is still written and ctx.Err() is returned.
func (a *App) RunExtract(ctx context.Context) (Summary, error) {
	entries, err := LoadCatalog(a.cfg.CatalogPath, a.cfg.SliceStart, a.cfg.SliceEnd)
	if err != nil {
		return Summary{}, fmt.Errorf("read catalog: %w", err)
	}
	if len(entries) == 0 {
		return Summary{}, fmt.Errorf("%w: %s", ErrNoInput, a.cfg.CatalogPath)
	}
	items := make([]batch.Item[string], 0, len(entries))
	for _, e := range entries {
		items = append(items, batch.Item[string]{Key: e.Locator, Input: e.FormType})
	}
	log.Info().Int("filings", len(items)).Str("catalog", a.cfg.CatalogPath).Msg("extracting filings")

	res, runErr := batch.Run(ctx, items, a.extractOne, batch.Options{MaxWorkers: a.cfg.MaxWorkers, Stage: string(StageExtract)})
	if runErr != nil && !isCancellation(runErr) {
		return Summary{}, runErr
	}
	out := deriveExtractOutputPath(a.cfg)
	if err := WriteCorpus(out, res.Values); err != nil {
		return Summary{}, err
	}
	sum := summarize(out, res)
	a.recordManifest(StageExtract, a.cfg.CatalogPath, out, buildManifestEntries(res, func(r *archive.Result) string { return r.Body }))
	log.Info().Str("out", out).Int("found", sum.Found).Int("failed", sum.Failed).Int("skipped", sum.Skipped).Msg("wrote extraction corpus")
	return sum, runErr
}

func (a *App) extractOne(ctx context.Context, locator string, formType string) (*archive.Result, error) {
	start := time.Now()
	l := log.With().Str("locator", locator).Str("form", formType).Logger()
	blob, _, err := a.fetcher.Get(ctx, locator)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	ex := archive.Extractor{Extensions: a.cfg.Extensions, Logger: &l}
	r, ok, err := ex.Extract(string(blob), formType)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	elapsed := time.Since(start)
	l.Info().Dur("elapsed", elapsed).Msgf("%s filing finished processing in %.2f seconds", formType, elapsed.Seconds())
	return &r, nil
}

// RunNormalize reads an extraction corpus, normalizes every non-null body and
// writes the normalized corpus. Failed items are written as null.
func (a *App) RunNormalize(ctx context.Context) (Summary, error) {
	corpus, err := ReadCorpus[archive.Result](a.cfg.CorpusPath)
	if err != nil {
		return Summary{}, fmt.Errorf("read corpus: %w", err)
	}
	items := make([]batch.Item[string], 0, len(corpus))
	for _, k := range slices.Sorted(maps.Keys(corpus)) {
		if r := corpus[k]; r != nil {
			items = append(items, batch.Item[string]{Key: k, Input: r.Body})
		}
	}
	if len(items) == 0 {
		return Summary{}, fmt.Errorf("%w: %s", ErrNoInput, a.cfg.CorpusPath)
	}
	log.Info().Int("documents", len(items)).Int("null", len(corpus)-len(items)).Str("corpus", a.cfg.CorpusPath).Msg("normalizing documents")

	opts := normalize.Options{KeepTables: a.cfg.KeepTables}
	fn := func(_ context.Context, key string, markup string) (*string, error) {
		start := time.Now()
		text, err := normalize.Normalize(markup, opts)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("locator", key).Dur("elapsed", time.Since(start)).Int("chars", len(text)).Msg("normalized")
		return &text, nil
	}
	res, runErr := batch.Run(ctx, items, fn, batch.Options{MaxWorkers: a.cfg.MaxWorkers, Stage: string(StageNormalize)})
	if runErr != nil && !isCancellation(runErr) {
		return Summary{}, runErr
	}
	out := deriveNormalizeOutputPath(a.cfg)
	if err := WriteCorpus(out, res.Values); err != nil {
		return Summary{}, err
	}
	sum := summarize(out, res)
	a.recordManifest(StageNormalize, a.cfg.CorpusPath, out, buildManifestEntries(res, func(s *string) string { return *s }))
	log.Info().Str("out", out).Int("normalized", sum.Found).Int("failed", sum.Failed).Int("skipped", sum.Skipped).Msg("wrote normalized corpus")
	return sum, runErr
}

// recordManifest writes the sidecar manifest. It is advisory, so a failure
// is logged and the run continues.
func (a *App) recordManifest(stage Stage, input, out string, entries []manifestEntry) {
	meta := manifestMeta{
		Stage:       string(stage),
		Input:       input,
		Output:      out,
		Version:     BuildVersion,
		Workers:     a.cfg.MaxWorkers,
		KeepTables:  stage == StageNormalize && a.cfg.KeepTables,
		Cache:       a.cache != nil,
		Items:       len(entries),
		GeneratedAt: time.Now().UTC(),
	}
	if stage == StageNormalize {
		meta.RestoreTableVersion = normalize.Windows1252TableVersion
	}
	if err := writeManifest(out, meta, entries); err != nil {
		log.Warn().Err(err).Str("out", out).Msg("manifest not written")
	}
}

func summarize[Out any](out string, res batch.Results[Out]) Summary {
	s := Summary{Output: out, Items: len(res.Values), Failed: len(res.Failures), Skipped: len(res.Skipped)}
	for _, v := range res.Values {
		if v != nil {
			s.Found++
		}
	}
	return s
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
