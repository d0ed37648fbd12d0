package app

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// ArchivesBase resolves catalog locators given as archive-relative paths,
// e.g. "edgar/data/320193/0000320193-20-000096.txt".
const ArchivesBase = "https://www.sec.gov/Archives/"

// CatalogEntry is one filing to retrieve.
type CatalogEntry struct {
	Locator  string
	FormType string
}

// LoadCatalog reads a CSV catalog with a header row naming at least the
// "fname" (locator) and "form" (form type) columns. Rows [start, end) are kept;
// end <= 0 means through the last row. Locators are canonicalized and
// repeated locators keep their first row.
func LoadCatalog(path string, start, end int) ([]CatalogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCatalog(f, start, end)
}

// ReadCatalog is LoadCatalog over an arbitrary reader.
func ReadCatalog(r io.Reader, start, end int) ([]CatalogEntry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("catalog: missing header row")
		}
		return nil, fmt.Errorf("catalog: %w", err)
	}
	locCol, formCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "fname":
			locCol = i
		case "form":
			formCol = i
		}
	}
	if locCol < 0 || formCol < 0 {
		return nil, fmt.Errorf("catalog: header must name fname and form columns, got %q", header)
	}

	seen := map[string]struct{}{}
	var out []CatalogEntry
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		if row < start || (end > 0 && row >= end) {
			continue
		}
		if locCol >= len(rec) || formCol >= len(rec) {
			log.Warn().Int("row", row).Msg("catalog row is missing columns, skipped")
			continue
		}
		loc, err := canonicalLocator(rec[locCol])
		if err != nil {
			log.Warn().Err(err).Int("row", row).Msg("catalog row has an unusable locator, skipped")
			continue
		}
		if _, dup := seen[loc]; dup {
			continue
		}
		seen[loc] = struct{}{}
		out = append(out, CatalogEntry{Locator: loc, FormType: strings.TrimSpace(rec[formCol])})
	}
	return out, nil
}

// canonicalLocator lowercases the host, drops any fragment and resolves
// archive-relative paths.
func canonicalLocator(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty locator")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if !u.IsAbs() {
		base, _ := url.Parse(ArchivesBase)
		u = base.ResolveReference(u)
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	return u.String(), nil
}
