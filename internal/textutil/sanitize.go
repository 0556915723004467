package textutil

import (
	"strings"
	"unicode"
)

var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SanitizeFileName makes an uploaded file name safe to create inside a
// single directory. Separators become dashes, control characters and shell
// globs are dropped, and leading dots are stripped so the result is never
// hidden or a relative path element.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, fileNameReplacer.Replace(name))
	return strings.TrimSpace(strings.TrimLeft(name, ". "))
}
