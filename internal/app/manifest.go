package app

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/hyperifyio/goedgar/internal/batch"
)

// Item outcomes recorded in the manifest.
const (
	statusOK       = "ok"
	statusNotFound = "not_found"
	statusFailed   = "failed"
	statusSkipped  = "skipped"
)

// manifestEntry is a compact record of one corpus key.
type manifestEntry struct {
	Locator string `json:"locator"`
	Status  string `json:"status"`
	SHA256  string `json:"sha256,omitempty"`
	Chars   int    `json:"chars,omitempty"`
	Error   string `json:"error,omitempty"`
}

// manifestMeta captures high-level run details that aid reproducibility.
type manifestMeta struct {
	Stage      string `json:"stage"`
	Input      string `json:"input"`
	Output     string `json:"output"`
	Version    string `json:"version"`
	Workers    int    `json:"workers"`
	KeepTables bool   `json:"keep_tables,omitempty"`
	// RestoreTableVersion is normalize.Windows1252TableVersion for normalize runs.
	RestoreTableVersion int       `json:"restore_table_version,omitempty"`
	Cache               bool      `json:"cache"`
	Items               int       `json:"items"`
	GeneratedAt         time.Time `json:"generated_at"`
}

// computeSHA256Hex returns a lowercase hex-encoded SHA-256 of the given text.
func computeSHA256Hex(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// buildManifestEntries lists every key of a batch result in sorted order.
// content extracts the text whose digest is recorded for found values.
func buildManifestEntries[Out any](res batch.Results[Out], content func(*Out) string) []manifestEntry {
	skipped := make(map[string]bool, len(res.Skipped))
	for _, k := range res.Skipped {
		skipped[k] = true
	}
	keys := make([]string, 0, len(res.Values))
	for k := range res.Values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]manifestEntry, 0, len(keys))
	for _, k := range keys {
		e := manifestEntry{Locator: k}
		switch v := res.Values[k]; {
		case v != nil:
			text := content(v)
			e.Status = statusOK
			e.SHA256 = computeSHA256Hex(text)
			e.Chars = len(text)
		case res.Failures[k] != nil:
			e.Status = statusFailed
			e.Error = res.Failures[k].Error()
		case skipped[k]:
			e.Status = statusSkipped
		default:
			e.Status = statusNotFound
		}
		out = append(out, e)
	}
	return out
}

// marshalManifestJSON encodes a machine-readable sidecar manifest.
func marshalManifestJSON(meta manifestMeta, entries []manifestEntry) ([]byte, error) {
	payload := struct {
		Meta    manifestMeta    `json:"meta"`
		Entries []manifestEntry `json:"entries"`
	}{Meta: meta, Entries: entries}
	return json.MarshalIndent(payload, "", "  ")
}

// deriveManifestSidecarPath returns a sidecar JSON path next to the corpus.
func deriveManifestSidecarPath(outputPath string) string {
	return outputPath + ".manifest.json"
}

func writeManifest(outputPath string, meta manifestMeta, entries []manifestEntry) error {
	b, err := marshalManifestJSON(meta, entries)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(deriveManifestSidecarPath(outputPath), append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
