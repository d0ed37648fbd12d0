package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
	"golang.org/x/time/rate"

	"github.com/hyperifyio/goedgar/internal/cache"
)

// ErrMissingUserAgent is returned by Get when no User-Agent is configured.
// EDGAR rejects anonymous clients, so the identity must be injected.
var ErrMissingUserAgent = errors.New("fetch: user agent not configured")

// Client wraps http.Client and provides timeouts, politeness and limited
// retry on transient errors. A Client is safe for concurrent use.
type Client struct {
	HTTPClient *http.Client
	UserAgent  string
	// MaxAttempts includes the initial attempt. Minimum 1.
	MaxAttempts int
	// PerRequestTimeout bounds each request.
	PerRequestTimeout time.Duration
	// Optional on-disk cache for archive bodies and validators.
	Cache *cache.ArchiveCache
	// If true, bypass cache entirely and fetch fresh (no conditional headers),
	// but still save the latest response to cache.
	BypassCache bool

	// Limiter, when set, is waited on before every attempt.
	Limiter *rate.Limiter
	// Jitter adds a uniformly random delay in [0, Jitter) before every attempt.
	Jitter time.Duration

	// RedirectMaxHops caps redirect following to avoid loops. Zero means default (5).
	RedirectMaxHops int
	// MaxConcurrent limits concurrent in-flight requests per client instance.
	// Zero means unlimited.
	MaxConcurrent int

	// internal limiter initialized on first use when MaxConcurrent > 0
	limiter     chan struct{}
	limiterOnce sync.Once
}

// statusError reports a non-success HTTP status.
type statusError struct {
	Code       int
	RetryAfter time.Duration
}

func (e *statusError) Error() string {
	if e.Code >= 500 {
		return fmt.Sprintf("server error: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status: %d", e.Code)
}

type response struct {
	body         []byte
	contentType  string
	etag         string
	lastModified string
	status       int
}

func (c *Client) getHTTPClient() *http.Client {
	if c.HTTPClient != nil {
		// Clone to attach our redirect policy without mutating caller's client
		base := *c.HTTPClient
		base.CheckRedirect = c.checkRedirectFunc()
		return &base
	}
	return &http.Client{Timeout: c.PerRequestTimeout, CheckRedirect: c.checkRedirectFunc()}
}

// Get retrieves an archive. The returned body is UTF-8: a declared charset
// is honored, and undeclared bodies that are not valid UTF-8 are read as
// ISO-8859-1.
func (c *Client) Get(ctx context.Context, locator string) ([]byte, string, error) {
	if strings.TrimSpace(c.UserAgent) == "" {
		return nil, "", ErrMissingUserAgent
	}
	if c.Cache != nil && !c.BypassCache {
		if body, meta, ok := c.Cache.Fresh(ctx, locator); ok {
			log.Debug().Str("locator", locator).Msg("served from cache")
			return decodeBody(body, meta.ContentType), meta.ContentType, nil
		}
	}

	// If cache exists, attempt conditional request
	var (
		etag, lastMod string
		prev          *cache.Entry
	)
	if c.Cache != nil && !c.BypassCache {
		if meta, err := c.Cache.LoadMeta(ctx, locator); err == nil && meta != nil {
			prev = meta
			etag = meta.ETag
			lastMod = meta.LastModified
		}
	}
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		resp, err := c.tryOnce(ctx, locator, etag, lastMod)
		if err == nil {
			if resp.status == http.StatusNotModified && c.Cache != nil {
				cached, cerr := c.Cache.LoadBody(ctx, locator)
				if cerr == nil {
					ct, et, lm := revalidated(prev, resp)
					// Refresh SavedAt so the entry counts as fresh again.
					_ = c.Cache.Save(ctx, locator, ct, et, lm, cached)
					return decodeBody(cached, ct), ct, nil
				}
				// Validators without a body: drop them and refetch.
				etag, lastMod = "", ""
				lastErr = fmt.Errorf("cached body missing: %w", cerr)
				continue
			}
			if c.Cache != nil && resp.status == http.StatusOK {
				if serr := c.Cache.Save(ctx, locator, resp.contentType, resp.etag, resp.lastModified, resp.body); serr != nil {
					log.Warn().Err(serr).Str("locator", locator).Msg("cache save failed")
				}
			}
			return decodeBody(resp.body, resp.contentType), resp.contentType, nil
		}
		lastErr = err
		if !c.isTransient(ctx, err) || i == attempts-1 {
			return nil, "", err
		}
		wait := time.Duration(i+1) * 200 * time.Millisecond
		var se *statusError
		if errors.As(err, &se) && se.RetryAfter > wait {
			if limit := c.maxBackoff(); se.RetryAfter > limit {
				return nil, "", fmt.Errorf("%w: server asked to retry after %s, limit is %s", err, se.RetryAfter, limit)
			}
			wait = se.RetryAfter
		}
		log.Debug().Err(err).Str("locator", locator).Int("attempt", i+1).Dur("backoff", wait).Msg("retrying fetch")
		if err := sleep(ctx, wait); err != nil {
			return nil, "", err
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return nil, "", lastErr
}

// DefaultMaxBackoff bounds a server-requested Retry-After when no
// PerRequestTimeout is configured.
const DefaultMaxBackoff = 30 * time.Second

// maxBackoff is the longest Retry-After the client is willing to sleep.
func (c *Client) maxBackoff() time.Duration {
	if c.PerRequestTimeout > 0 {
		return c.PerRequestTimeout
	}
	return DefaultMaxBackoff
}

// revalidated merges a 304 response with the cached entry. A 304 usually
// omits Content-Type and may omit validators; the cached values stand in.
func revalidated(prev *cache.Entry, resp *response) (contentType, etag, lastModified string) {
	contentType, etag, lastModified = resp.contentType, resp.etag, resp.lastModified
	if prev == nil {
		return
	}
	if contentType == "" {
		contentType = prev.ContentType
	}
	if etag == "" {
		etag = prev.ETag
	}
	if lastModified == "" {
		lastModified = prev.LastModified
	}
	return
}

func (c *Client) tryOnce(ctx context.Context, locator string, etag string, lastMod string) (*response, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	// Concurrency gate per client instance
	c.acquire()
	defer c.release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	// Reject non-HTTP(S) schemes early
	if !isHTTPScheme(req.URL) {
		return nil, fmt.Errorf("unsupported URL scheme: %q", req.URL.String())
	}
	req.Header.Set("User-Agent", c.UserAgent)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastMod != "" {
		req.Header.Set("If-Modified-Since", lastMod)
	}

	httpClient := c.getHTTPClient()
	if c.PerRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(req.Context(), c.PerRequestTimeout)
		defer cancel()
		req = req.WithContext(ctx)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out := &response{
		contentType:  resp.Header.Get("Content-Type"),
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
		status:       resp.StatusCode,
	}
	switch {
	case resp.StatusCode == http.StatusNotModified:
		return out, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &statusError{Code: resp.StatusCode, RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &statusError{Code: resp.StatusCode}
	}

	if !isAllowedContentType(out.contentType) {
		return nil, fmt.Errorf("unsupported content type: %s", out.contentType)
	}
	out.body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return out, nil
}

// isTransient treats 5xx, 429 and per-request deadlines as retryable. A done
// caller context is never retried.
func (c *Client) isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return false
}

func (c *Client) wait(ctx context.Context) error {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if c.Jitter > 0 {
		return sleep(ctx, rand.N(c.Jitter))
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

// decodeBody converts body to UTF-8.
func decodeBody(body []byte, contentType string) []byte {
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		if label := params["charset"]; label != "" {
			if enc, name := charset.Lookup(label); enc != nil && name != "utf-8" {
				if out, _, err := transform.Bytes(enc.NewDecoder(), body); err == nil {
					return out
				}
			}
		}
	}
	if utf8.Valid(body) {
		return body
	}
	out, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), body)
	if err != nil {
		return body
	}
	return out
}

func (c *Client) checkRedirectFunc() func(req *http.Request, via []*http.Request) error {
	max := c.RedirectMaxHops
	if max <= 0 {
		max = 5
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return errors.New("too many redirects")
		}
		// Only allow http/https during redirects
		if !isHTTPScheme(req.URL) {
			return errors.New("redirect to unsupported scheme")
		}
		return nil
	}
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

// isAllowedContentType accepts the textual types EDGAR serves archives as.
// A missing header is tolerated since older archives are served without one.
func isAllowedContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "" {
		return true
	}
	for _, p := range []string{"text/plain", "text/html", "application/xhtml+xml"} {
		if strings.HasPrefix(ct, p) {
			return true
		}
	}
	return false
}

func (c *Client) acquire() {
	if c.MaxConcurrent <= 0 {
		return
	}
	c.limiterOnce.Do(func() {
		c.limiter = make(chan struct{}, c.MaxConcurrent)
	})
	c.limiter <- struct{}{}
}

func (c *Client) release() {
	if c.MaxConcurrent <= 0 || c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}
