// Package normalize turns filing markup into canonical upper-case plain text
// suited to line-oriented section parsers (ITEM headers and the like).
package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// ErrUnparsableContent is returned when the input cannot be read as markup.
var ErrUnparsableContent = errors.New("unparsable content")

// Options control optional stages of Normalize. The zero value drops tables.
type Options struct {
	KeepTables bool
}

var (
	nbspEntities = strings.NewReplacer("&#160;", " ", "&NBSP;", " ")
	ampEntities  = strings.NewReplacer("&#38;", "&", "&AMP;", "&")

	// U+0085 is deliberately absent: it is the Windows-1252 ellipsis and is
	// restored rather than treated as a line break.
	lineBoundaries = strings.NewReplacer(
		"\r\n", "\n",
		"\r", "\n",
		"\v", "\n",
		"\f", "\n",
		"\x1c", "\n",
		"\x1d", "\n",
		"\x1e", "\n",
		"\u2028", "\n",
		"\u2029", "\n",
	)

	spaceBeforeBreak = regexp.MustCompile(`[ \t]+\n`)
	spaceAfterBreak  = regexp.MustCompile(`\n[ \t]+`)
	breakRuns        = regexp.MustCompile(`\n+`)

	splitItem  = regexp.MustCompile(`(?m)^I\nTEM`)
	itemBreak  = regexp.MustCompile(`(?m)^ITEM\n`)
	itemSpaces = regexp.MustCompile(`(?m)^ITEM {2,}`)
)

// Normalize converts markup into canonical plain text. The result is a pure
// function of markup and opts.
func Normalize(markup string, opts Options) (string, error) {
	start := time.Now()

	text, err := linearize(markup, opts)
	if err != nil {
		return "", err
	}
	// Full case mapping: ligatures and ß expand (ﬁ -> FI, ß -> SS). A Caser
	// holds state, so each call gets its own.
	upper := cases.Upper(language.Und)
	text = upper.String(text)
	text = nbspEntities.Replace(text)
	text = ampEntities.Replace(text)

	// Compatibility decomposition can surface lower-case letters (ª -> a).
	text = upper.String(norm.NFKC.String(text))
	text = strings.TrimSuffix(lineBoundaries.Replace(text), "\n")
	text = RestoreWindows1252(text)

	text = collapseWhitespace(text)
	// A line holding only a period belongs to the sentence above it.
	text = strings.ReplaceAll(text, "\n.\n", ".\n")
	text = reformatItems(text)
	text = strings.ReplaceAll(text, "$\n", "$")
	text = strings.ReplaceAll(text, "\n%", "%")
	text = strings.ReplaceAll(text, "\n", "\n\n")

	log.Debug().
		Dur("elapsed", time.Since(start)).
		Int("chars", len(text)).
		Msgf("filing finished processing in %.2f seconds", time.Since(start).Seconds())
	return text, nil
}

func collapseWhitespace(text string) string {
	text = spaceBeforeBreak.ReplaceAllString(text, "\n")
	text = spaceAfterBreak.ReplaceAllString(text, "\n")
	text = breakRuns.ReplaceAllString(text, "\n")
	text = strings.TrimLeft(text, " \t\n")
	return strings.TrimRight(text, " \t")
}

// reformatItems repairs ITEM headers split by linearization and turns a
// line-ending colon into a period so headers end like sentences.
func reformatItems(text string) string {
	text = splitItem.ReplaceAllString(text, "ITEM")
	text = itemBreak.ReplaceAllString(text, "ITEM ")
	text = itemSpaces.ReplaceAllString(text, "ITEM ")
	return strings.ReplaceAll(text, ":\n", ".\n")
}

func unparsable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnparsableContent, fmt.Sprintf(format, args...))
}
