package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Entry captures enough metadata to revalidate a cached archive with the
// origin and to serve it without hitting the network while fresh.
type Entry struct {
	Locator      string    `json:"locator"`
	ContentType  string    `json:"content_type"`
	ETag         string    `json:"etag"`
	LastModified string    `json:"last_modified"`
	Size         int       `json:"size"`
	SavedAt      time.Time `json:"saved_at"`
}

// ArchiveCache stores fetched filing archives on disk as <key>.meta.json and a
// gzip-compressed <key>.body.gz, where key is sha256(locator).
type ArchiveCache struct {
	Dir string
	// MaxAge, when positive, makes entries older than it invisible to Fresh.
	MaxAge time.Duration
	// StrictPerms enforces 0700 on the directory and 0600 on files.
	StrictPerms bool
}

func (c *ArchiveCache) ensureDir() error {
	if c == nil || c.Dir == "" {
		return errors.New("cache dir not configured")
	}
	perm := os.FileMode(0o755)
	if c.StrictPerms {
		perm = 0o700
	}
	if err := os.MkdirAll(c.Dir, perm); err != nil {
		return err
	}
	if c.StrictPerms {
		if info, err := os.Stat(c.Dir); err == nil && info.Mode()&0o777 != 0o700 {
			_ = os.Chmod(c.Dir, 0o700)
		}
	}
	return nil
}

func (c *ArchiveCache) fileMode() os.FileMode {
	if c.StrictPerms {
		return 0o600
	}
	return 0o644
}

// Key returns the content address used for a locator.
func Key(locator string) string {
	h := sha256.Sum256([]byte(locator))
	return hex.EncodeToString(h[:])
}

func (c *ArchiveCache) metaPath(key string) string { return filepath.Join(c.Dir, key+metaSuffix) }
func (c *ArchiveCache) bodyPath(key string) string { return filepath.Join(c.Dir, key+bodySuffix) }

const (
	metaSuffix = ".meta.json"
	bodySuffix = ".body.gz"
)

// LoadMeta returns entry metadata if present.
func (c *ArchiveCache) LoadMeta(_ context.Context, locator string) (*Entry, error) {
	if err := c.ensureDir(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(c.metaPath(Key(locator)))
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}
	return &e, nil
}

// LoadBody returns the decompressed archive if present.
func (c *ArchiveCache) LoadBody(_ context.Context, locator string) ([]byte, error) {
	if err := c.ensureDir(); err != nil {
		return nil, err
	}
	f, err := os.Open(c.bodyPath(Key(locator)))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open body: %w", err)
	}
	defer zr.Close()
	b, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}

// Fresh returns the cached archive when it exists and is younger than
// MaxAge. A zero MaxAge never serves without revalidation.
func (c *ArchiveCache) Fresh(ctx context.Context, locator string) ([]byte, *Entry, bool) {
	if c.MaxAge <= 0 {
		return nil, nil, false
	}
	meta, err := c.LoadMeta(ctx, locator)
	if err != nil || time.Since(meta.SavedAt) > c.MaxAge {
		return nil, nil, false
	}
	body, err := c.LoadBody(ctx, locator)
	if err != nil {
		return nil, nil, false
	}
	return body, meta, true
}

// Save stores a new cache entry. The body is written before the metadata so
// a reader never sees metadata without its body.
func (c *ArchiveCache) Save(_ context.Context, locator, contentType, etag, lastModified string, body []byte) error {
	if err := c.ensureDir(); err != nil {
		return err
	}
	key := Key(locator)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return fmt.Errorf("compress body: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress body: %w", err)
	}
	if err := writeAtomic(c.bodyPath(key), buf.Bytes(), c.fileMode()); err != nil {
		return fmt.Errorf("write body: %w", err)
	}

	meta, err := json.Marshal(Entry{
		Locator:      locator,
		ContentType:  contentType,
		ETag:         etag,
		LastModified: lastModified,
		Size:         len(body),
		SavedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	if err := writeAtomic(c.metaPath(key), meta, c.fileMode()); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return nil
}

func writeAtomic(path string, data []byte, mode os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
