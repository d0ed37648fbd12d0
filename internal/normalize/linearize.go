package normalize

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// xbrlPrefixes are element name prefixes removed with their subtrees.
// xbrli: holds contexts and units; ix:header holds hidden inline facts.
// Other ix: elements wrap visible text and are kept.
var xbrlPrefixes = []string{"xbrli:", "ix:header"}

// linearize parses markup, drops non-content elements and returns the text
// nodes joined by newlines.
func linearize(markup string, opts Options) (string, error) {
	if strings.IndexByte(markup, 0) >= 0 {
		return "", unparsable("input contains NUL bytes")
	}
	if !opts.KeepTables {
		markup = stripTables(markup)
	}
	// Scripting disabled so <noscript> content is parsed as markup rather
	// than surfacing as raw tag text.
	root, err := html.ParseWithOptions(strings.NewReader(markup), html.ParseOptionEnableScripting(false))
	if err != nil {
		return "", unparsable("parse markup: %v", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	doc.Find("script, style").Remove()
	doc.Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return isXBRL(goquery.NodeName(s))
	}).Remove()
	if !opts.KeepTables {
		// Tables the tokenizer pass cannot see, e.g. inside <noscript>.
		doc.Find("table").Remove()
	}

	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			parts = append(parts, n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.Join(parts, "\n"), nil
}

// stripTables drops every <table> element with its content at the token
// level. Removing tables from the parsed tree is not enough: the HTML5 parser
// moves text sitting directly inside <table> out in front of it.
func stripTables(markup string) string {
	z := html.NewTokenizer(strings.NewReader(markup))
	var (
		b     strings.Builder
		depth int
	)
	b.Grow(len(markup))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// io.EOF; the tokenizer never fails on a strings.Reader otherwise.
			if depth == 0 {
				b.Write(z.Raw())
			}
			return b.String()
		}
		if tt == html.StartTagToken || tt == html.EndTagToken || tt == html.SelfClosingTagToken {
			name, _ := z.TagName()
			if string(name) == "table" {
				switch tt {
				case html.StartTagToken:
					depth++
				case html.EndTagToken:
					if depth > 0 {
						depth--
					}
				}
				continue
			}
		}
		if depth == 0 {
			b.Write(z.Raw())
		}
	}
}

func isXBRL(name string) bool {
	for _, p := range xbrlPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
