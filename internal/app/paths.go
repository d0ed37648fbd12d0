package app

import (
	"fmt"
	"path/filepath"
	"strings"
)

// deriveExtractOutputPath names the extraction corpus after its catalog:
// "<catalog>.json", or "<catalog>_<start>_<end>.json" for a row slice.
func deriveExtractOutputPath(cfg Config) string {
	if p := strings.TrimSpace(cfg.OutputPath); p != "" {
		return p
	}
	base := strings.TrimSuffix(cfg.CatalogPath, filepath.Ext(cfg.CatalogPath))
	if cfg.SliceStart > 0 || cfg.SliceEnd > 0 {
		base = fmt.Sprintf("%s_%d_%d", base, cfg.SliceStart, cfg.SliceEnd)
	}
	return base + ".json"
}

// deriveNormalizeOutputPath places the normalized corpus next to its input as
// "<corpus>.normalized.json".
func deriveNormalizeOutputPath(cfg Config) string {
	if p := strings.TrimSpace(cfg.OutputPath); p != "" {
		return p
	}
	return strings.TrimSuffix(cfg.CorpusPath, filepath.Ext(cfg.CorpusPath)) + ".normalized.json"
}
