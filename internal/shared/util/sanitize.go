package util

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	maxFileNameLen  = 120
	defaultFileName = "file"
)

var unsafeFileNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFileName NFC-normalizes the name, keeps only [A-Za-z0-9._-] and
// caps the length, keeping the tail so the extension survives.
// Path components are discarded. Empty results fall back to "file".
func SanitizeFileName(name string) string {
	s := strings.TrimSpace(name)
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		s = s[i+1:]
	}
	s = norm.NFC.String(s)
	s = unsafeFileNameChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	s = strings.TrimLeft(s, ".")
	if len(s) > maxFileNameLen {
		s = s[len(s)-maxFileNameLen:]
	}
	if s == "" {
		return defaultFileName
	}
	return s
}

// TruncateRunes trims whitespace and caps s at max runes.
func TruncateRunes(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}
