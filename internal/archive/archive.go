// Package archive locates typed sub-documents inside an EDGAR full submission
// text file and selects the one matching a requested form type.
package archive

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Markers used by EDGAR full submission archives.
const (
	headerEnd       = "</SEC-HEADER>"
	legacyHeaderEnd = "</IMS-HEADER>"
	docStart        = "<DOCUMENT>"
	docEnd          = "</DOCUMENT>"
	typeTag         = "<TYPE>"
)

var (
	// ErrMalformedArchive reports inconsistent document/type markers or
	// type-matched documents that cannot be format-checked.
	ErrMalformedArchive = errors.New("malformed archive")
	// ErrAmbiguousMatch tags the diagnostic emitted when several documents
	// match one form type. Extraction resolves it by keeping the longest.
	ErrAmbiguousMatch = errors.New("ambiguous match")
)

var (
	markerPattern   = regexp.MustCompile(`</?DOCUMENT>|<TYPE>[^\n]*`)
	filenamePattern = regexp.MustCompile(`<FILENAME>([^\n<]*)`)
)

// Record is one <DOCUMENT> unit of an archive. Start and End are byte
// offsets into the scanned blob and Content is blob[Start:End].
type Record struct {
	Type     string
	Start    int
	End      int
	Filename string
	Content  string
}

// Len returns the length of the record content in bytes.
func (r Record) Len() int { return r.End - r.Start }

// Header returns the archive preamble: everything before </SEC-HEADER>.
// Pre-2001 archives close the header with </IMS-HEADER>; without either
// marker the text before the first <DOCUMENT> is used.
func Header(blob string) string {
	if i := strings.Index(blob, headerEnd); i >= 0 {
		return blob[:i]
	}
	if i := strings.Index(blob, legacyHeaderEnd); i >= 0 {
		return blob[:i]
	}
	if i := strings.Index(blob, docStart); i >= 0 {
		return blob[:i]
	}
	return blob
}

// Scan walks blob once and returns one Record per <DOCUMENT> ... </DOCUMENT>
// pair in document order. Every record must declare exactly one <TYPE>
// line; nested, unclosed or stray markers fail with ErrMalformedArchive.
func Scan(blob string) ([]Record, error) {
	var (
		records []Record
		cur     Record
		open    bool
		types   int
	)
	for _, loc := range markerPattern.FindAllStringIndex(blob, -1) {
		tok := blob[loc[0]:loc[1]]
		switch tok {
		case docStart:
			if open {
				return nil, fmt.Errorf("%w: nested %s at offset %d", ErrMalformedArchive, docStart, loc[0])
			}
			open = true
			types = 0
			cur = Record{Start: loc[1]}
		case docEnd:
			if !open {
				return nil, fmt.Errorf("%w: %s without %s at offset %d", ErrMalformedArchive, docEnd, docStart, loc[0])
			}
			if types != 1 {
				return nil, fmt.Errorf("%w: document at offset %d declares %d types", ErrMalformedArchive, cur.Start, types)
			}
			cur.End = loc[0]
			cur.Content = blob[cur.Start:cur.End]
			cur.Filename = filename(cur.Content)
			records = append(records, cur)
			open = false
		default:
			if !open {
				return nil, fmt.Errorf("%w: %s outside a document at offset %d", ErrMalformedArchive, typeTag, loc[0])
			}
			types++
			if types > 1 {
				continue
			}
			cur.Type = strings.TrimSpace(tok[len(typeTag):])
			if cur.Type == "" {
				return nil, fmt.Errorf("%w: empty %s at offset %d", ErrMalformedArchive, typeTag, loc[0])
			}
		}
	}
	if open {
		return nil, fmt.Errorf("%w: document at offset %d is never closed", ErrMalformedArchive, cur.Start)
	}
	return records, nil
}

// filename returns the first <FILENAME> declaration of a record, or "".
func filename(content string) string {
	m := filenamePattern.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
