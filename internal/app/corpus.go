package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteCorpus persists a batch mapping as a JSON object. Nil values are
// written as null, which keeps "not found or failed" distinct from an empty
// result. The file is replaced atomically.
func WriteCorpus[V any](path string, corpus map[string]*V) error {
	if corpus == nil {
		corpus = map[string]*V{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(corpus); err != nil {
		return fmt.Errorf("encode corpus: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write corpus: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write corpus: %w", err)
	}
	return nil
}

// ReadCorpus loads a mapping written by WriteCorpus. null entries come back
// as nil values.
func ReadCorpus[V any](path string) (map[string]*V, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var corpus map[string]*V
	if err := json.Unmarshal(b, &corpus); err != nil {
		return nil, fmt.Errorf("decode corpus %s: %w", path, err)
	}
	if corpus == nil {
		corpus = map[string]*V{}
	}
	return corpus, nil
}
