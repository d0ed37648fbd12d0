package normalize

import (
	"errors"
	"regexp"
	"strings"
	"testing"
)

const annualReport = `<html><head><title>Annual Report</title>` +
	`<style>p { color: red }</style><script>var x = "<b>bold</b>";</script></head>` +
	`<body><p>Item 1. Business</p><p>The company sells widgets:</p>` +
	`<p>Revenue was $</p><p>5 million, up 10</p><p>% year over year</p>` +
	`<table><tr><td>Hidden cell</td></tr></table></body></html>`

const annualReportWant = "ANNUAL REPORT\n\n" +
	"ITEM 1. BUSINESS\n\n" +
	"THE COMPANY SELLS WIDGETS.\n\n" +
	"REVENUE WAS $5 MILLION, UP 10% YEAR OVER YEAR"

var tagPattern = regexp.MustCompile(`<[A-Za-z/!][^>]*>`)

func mustNormalize(t *testing.T, markup string, opts Options) string {
	t.Helper()
	out, err := Normalize(markup, opts)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return out
}

func TestNormalize_ItemHeaderScenario(t *testing.T) {
	out := mustNormalize(t, "<html><body>Item 1. Business</body></html>", Options{})
	found := false
	for _, line := range strings.Split(out, "\n") {
		if line == "ITEM 1. BUSINESS" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected line %q in %q", "ITEM 1. BUSINESS", out)
	}
}

func TestNormalize_FullPipeline(t *testing.T) {
	out := mustNormalize(t, annualReport, Options{})
	if out != annualReportWant {
		t.Fatalf("unexpected output:\n got: %q\nwant: %q", out, annualReportWant)
	}
	if strings.Contains(out, "COLOR") || strings.Contains(out, "VAR X") {
		t.Fatalf("script/style text leaked: %q", out)
	}
}

func TestNormalize_KeepTables(t *testing.T) {
	out := mustNormalize(t, annualReport, Options{KeepTables: true})
	want := annualReportWant + "\n\nHIDDEN CELL"
	if out != want {
		t.Fatalf("unexpected output:\n got: %q\nwant: %q", out, want)
	}
}

func TestNormalize_DropsXBRL(t *testing.T) {
	markup := `<html><body><div style="display:none"><ix:header><ix:hidden>` +
		`<ix:nonnumeric name="dei:DocumentType">hidden fact</ix:nonnumeric></ix:hidden>` +
		`<ix:resources><xbrli:context id="c1"><xbrli:entity>0000123456</xbrli:entity>` +
		`</xbrli:context></ix:resources></ix:header></div>` +
		`<xbrli:unit id="usd">iso4217:USD</xbrli:unit>` +
		`<p>Revenue <ix:nonfraction name="us-gaap:Revenues">100</ix:nonfraction> million</p>` +
		`</body></html>`
	out := mustNormalize(t, markup, Options{})
	if out != "REVENUE\n\n100\n\nMILLION" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestNormalize_StructuralRewrites(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		want   string
	}{
		{"split item token", `<p><b>I</b>TEM 7. MD&amp;A</p>`, "ITEM 7. MD&A"},
		{"item on its own line", `<p>Item</p><p>2. Properties</p>`, "ITEM 2. PROPERTIES"},
		{"item spacing", `<p>Item   3. Legal Proceedings</p>`, "ITEM 3. LEGAL PROCEEDINGS"},
		{"item nbsp spacing", `<p>Item&nbsp;&nbsp;4. Mine Safety</p>`, "ITEM 4. MINE SAFETY"},
		{"colon terminator", `<p>Risk factors:</p><p>None</p>`, "RISK FACTORS.\n\nNONE"},
		{"stray period", `<p>End of sentence</p><p>.</p><p>Next</p>`, "END OF SENTENCE.\n\nNEXT"},
		{"dollar and percent", `<p>$</p><p>12</p><p>%</p>`, "$12%"},
		{"double escaped entities", `<p>AT&amp;amp;T&amp;nbsp;Inc&amp;#160;&amp;#38;Co</p>`, "AT&T INC &CO"},
		{"blank runs", `<p>  leading and trailing  </p><p>   </p><p></p><p>next</p>`, "LEADING AND TRAILING\n\nNEXT"},
		{"crlf", "<pre>one\r\ntwo\rthree</pre>", "ONE\n\nTWO\n\nTHREE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := mustNormalize(t, tt.markup, Options{})
			if out != tt.want {
				t.Fatalf("got %q, want %q", out, tt.want)
			}
		})
	}
}

func TestNormalize_FullCaseMapping(t *testing.T) {
	tests := []struct {
		markup string
		want   string
	}{
		{"<p>Financial \ufb01ling of the \ufb02oor</p>", "FINANCIAL FILING OF THE FLOOR"},
		{"<p>Stra\u00dfe</p>", "STRASSE"},
		{"<p>1\u00aa s\u00e9rie</p>", "1A S\u00c9RIE"},
	}
	for _, tt := range tests {
		out := mustNormalize(t, tt.markup, Options{})
		if out != tt.want {
			t.Fatalf("got %q, want %q", out, tt.want)
		}
		if out != strings.ToUpper(out) {
			t.Fatalf("lower-case letters left in %q", out)
		}
	}
}

func TestNormalize_DropsTextFosteredOutOfTables(t *testing.T) {
	markup := `<p>Before</p><table>Stray row text<tr><td>cell</td></tr>` +
		`<table><tr><td>nested</td></tr></table></table><p>After</p>`
	if out := mustNormalize(t, markup, Options{}); out != "BEFORE\n\nAFTER" {
		t.Fatalf("unexpected output: %q", out)
	}
	out := mustNormalize(t, markup, Options{KeepTables: true})
	if !strings.Contains(out, "STRAY ROW TEXT") || !strings.Contains(out, "NESTED") {
		t.Fatalf("tables should be kept: %q", out)
	}
}

func TestNormalize_RestoresWindows1252(t *testing.T) {
	markup := "<p>\u0093Quoted\u0094 \u0097 dash \u0095 bullet\u0085 it\u0092s</p>"
	out := mustNormalize(t, markup, Options{})
	want := "“QUOTED” — DASH • BULLET… IT’S"
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestNormalize_NoResidualTags(t *testing.T) {
	markup := `<!DOCTYPE html><html><head><meta charset="utf-8"><title>T</title></head><body>` +
		`<!-- a comment --><div><h1>Part I</h1><noscript><p>Enable scripts</p></noscript>` +
		`<ul><li>One</li><li>Two <em>emphasis</em></li></ul><br/><hr/>` +
		`<font size="2"><a href="#x">link</a></font></div></body></html>`
	out := mustNormalize(t, markup, Options{})
	if tagPattern.MatchString(out) {
		t.Fatalf("residual markup in %q", out)
	}
	if strings.Contains(out, "A COMMENT") {
		t.Fatalf("comment text leaked: %q", out)
	}
	if !strings.Contains(out, "ENABLE SCRIPTS") || !strings.Contains(out, "EMPHASIS") {
		t.Fatalf("expected body text, got %q", out)
	}
}

func TestNormalize_SecondPassDoesNotDrift(t *testing.T) {
	once := mustNormalize(t, annualReport, Options{})
	twice := mustNormalize(t, once, Options{})
	if twice != once {
		t.Fatalf("second pass changed output:\nonce:  %q\ntwice: %q", once, twice)
	}
	if strings.Contains(twice, "\n\n\n") {
		t.Fatalf("line breaks doubled again: %q", twice)
	}
}

func TestNormalize_Empty(t *testing.T) {
	out := mustNormalize(t, "", Options{})
	if out != "" {
		t.Fatalf("expected empty output, got %q", out)
	}
}

func TestNormalize_Unparsable(t *testing.T) {
	out, err := Normalize("GIF89a\x00\x01\x02", Options{})
	if !errors.Is(err, ErrUnparsableContent) {
		t.Fatalf("expected ErrUnparsableContent, got %v", err)
	}
	if out != "" {
		t.Fatalf("raw input must not be returned, got %q", out)
	}
}

func TestNormalize_Concurrent(t *testing.T) {
	done := make(chan string, 8)
	for i := 0; i < 8; i++ {
		go func() {
			out, _ := Normalize(annualReport, Options{})
			done <- out
		}()
	}
	for i := 0; i < 8; i++ {
		if out := <-done; out != annualReportWant {
			t.Fatalf("concurrent call produced %q", out)
		}
	}
}
