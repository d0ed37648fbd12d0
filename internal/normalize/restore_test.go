package normalize

import (
	"testing"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

func TestRestoreWindows1252_Table(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"\u0091single\u0092", "‘single’"},
		{"\u0093double\u0094", "“double”"},
		{"\u0084low\u0093", "„low“"},
		{"en\u0096dash", "en–dash"},
		{"em\u0097dash", "em—dash"},
		{"\u0095 bullet", "• bullet"},
		{"wait\u0085", "wait…"},
		{"\u0080100", "€100"},
		{"Brand\u0099", "Brand™"},
		{"\u008Aa\u009Aa \u008Ee\u009Ee \u008C\u009C \u009F", "Šaša Žež Œœ Ÿ"},
		{"\u0086\u0087\u0089\u008B\u009B\u0083\u0088\u0098", "†‡‰‹›ƒˆ˜"},
		{"un\u0081de\u008Dfi\u008Fne\u0090d\u009D", "undefined"},
		{"plain ascii", "plain ascii"},
		{"already “fine” — ok", "already “fine” — ok"},
		{" nbsp é", " nbsp é"},
	}
	for _, tt := range tests {
		if got := RestoreWindows1252(tt.in); got != tt.want {
			t.Fatalf("RestoreWindows1252(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// The data table must agree with the x/text Windows-1252 decoder for every
// defined byte, and must drop exactly the bytes the decoder cannot map.
func TestWindows1252Table_MatchesCharmap(t *testing.T) {
	for i, got := range Windows1252Table {
		b := byte(0x80 + i)
		want := charmap.Windows1252.DecodeByte(b)
		if got == 0 {
			if want != rune(b) && want != utf8.RuneError {
				t.Fatalf("byte %#x marked undefined but decodes to %U", b, want)
			}
			continue
		}
		if got != want {
			t.Fatalf("byte %#x: table has %U, charmap has %U", b, got, want)
		}
	}
}

func TestWindows1252TableVersion(t *testing.T) {
	if Windows1252TableVersion < 1 {
		t.Fatalf("table version must be positive")
	}
}
