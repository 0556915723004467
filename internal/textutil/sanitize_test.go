package textutil

import "testing"

func TestSanitizeFileName(t *testing.T) {
	tests := map[string]string{
		"notes.md":           "notes.md",
		"  report.pdf ":      "report.pdf",
		"../../etc/passwd":   "-..-etc-passwd",
		"..hidden.txt":       "hidden.txt",
		"a:b*c?.txt":         "a-b-c.txt",
		"tab\there.md":       "tabhere.md",
		`quote"<pipe>|.json`: "quotepipe.json",
		"":                   "",
	}
	for in, want := range tests {
		if got := SanitizeFileName(in); got != want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
