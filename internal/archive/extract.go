package archive

import (
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultExtensions lists the filename extensions of markup and plain-text
// documents. Anything else (pdf, jpg, gif, xml, zip, ...) is rejected.
var DefaultExtensions = []string{".htm", ".html", ".xhtml", ".txt"}

// Result is the outcome of a successful extraction.
type Result struct {
	Header string `json:"header"`
	Body   string `json:"body"`
}

// Extractor selects a single sub-document of a given form type.
// The zero value uses DefaultExtensions and the global zerolog logger.
type Extractor struct {
	// Extensions overrides DefaultExtensions. Compared case-insensitively.
	Extensions []string
	// Logger receives diagnostics. Callers typically attach the locator.
	Logger *zerolog.Logger
}

// Extract runs the zero-value Extractor.
func Extract(blob, formType string) (Result, bool, error) {
	var e Extractor
	return e.Extract(blob, formType)
}

// Extract returns the header region and the content of the document whose
// <TYPE> equals formType. ok is false when no document matches; that is not
// an error. When several documents match, the longest wins and ties go to
// the first in document order.
func (e *Extractor) Extract(blob, formType string) (Result, bool, error) {
	records, err := Scan(blob)
	if err != nil {
		return Result{}, false, err
	}
	logger := e.logger()

	var (
		candidates []Record
		unnamed    int
	)
	for _, r := range records {
		if r.Type != formType {
			continue
		}
		if r.Filename == "" {
			unnamed++
			logger.Warn().Str("form", formType).Int("offset", r.Start).Msg("document has no filename declaration")
			continue
		}
		if !e.allowed(r.Filename) {
			logger.Debug().Str("form", formType).Str("filename", r.Filename).Msg("skipping non-text document")
			continue
		}
		candidates = append(candidates, r)
	}

	var chosen Record
	switch len(candidates) {
	case 0:
		if unnamed > 0 {
			return Result{}, false, fmt.Errorf("%w: %d %s document(s) without a filename declaration", ErrMalformedArchive, unnamed, formType)
		}
		logger.Info().Str("form", formType).Msg("no record found for form")
		return Result{}, false, nil
	case 1:
		chosen = candidates[0]
	default:
		chosen = Longest(candidates)
		logger.Warn().
			Err(ErrAmbiguousMatch).
			Str("form", formType).
			Int("candidates", len(candidates)).
			Str("filename", chosen.Filename).
			Msg("multiple records found for form, kept the longest one")
	}
	return Result{Header: Header(blob), Body: chosen.Content}, true, nil
}

// Longest returns the record with the most content. Ties keep the earliest.
// It panics on an empty slice.
func Longest(records []Record) Record {
	best := records[0]
	for _, r := range records[1:] {
		if r.Len() > best.Len() {
			best = r
		}
	}
	return best
}

func (e *Extractor) allowed(name string) bool {
	exts := e.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	ext := strings.ToLower(path.Ext(name))
	for _, x := range exts {
		if ext == strings.ToLower(x) {
			return true
		}
	}
	return false
}

func (e *Extractor) logger() *zerolog.Logger {
	if e != nil && e.Logger != nil {
		return e.Logger
	}
	return &log.Logger
}
