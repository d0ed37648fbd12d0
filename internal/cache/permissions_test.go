package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestArchiveCache_StrictPerms(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "archives")
	c := &ArchiveCache{Dir: dir, StrictPerms: true}
	if err := c.Save(context.Background(), sampleLocator, "text/plain", "etag", "", []byte("hello")); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat dir: %v", err)
	}
	if got := info.Mode() & 0o777; got != 0o700 {
		t.Fatalf("dir mode = %o, want 0700", got)
	}
	key := Key(sampleLocator)
	for _, f := range []string{filepath.Join(dir, key+bodySuffix), filepath.Join(dir, key+metaSuffix)} {
		finfo, err := os.Stat(f)
		if err != nil {
			t.Fatalf("stat %s: %v", f, err)
		}
		if got := finfo.Mode() & 0o777; got != 0o600 {
			t.Fatalf("%s mode = %o, want 0600", f, got)
		}
	}
}
