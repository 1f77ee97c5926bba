package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var (
	plainTextPolicy = bluemonday.StrictPolicy()
	lowerCaser      = cases.Lower(language.Und)
)

// PlainText strips markup from user supplied free text, normalises it to NFC, collapses runs
// of whitespace and truncates the result to maxRunes (0 means unlimited).
func PlainText(value string, maxRunes int) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	stripped := html.UnescapeString(plainTextPolicy.Sanitize(value))
	cleaned := strings.Join(strings.Fields(norm.NFC.String(stripped)), " ")
	return Truncate(cleaned, maxRunes)
}

// NormalizeEmail trims, NFC-normalises and lower-cases an email address.
func NormalizeEmail(value string) string {
	return lowerCaser.String(norm.NFC.String(strings.TrimSpace(value)))
}

// Truncate cuts value to at most maxRunes runes without splitting a character.
func Truncate(value string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(value) <= maxRunes {
		return value
	}
	runes := []rune(value)
	return strings.TrimSpace(string(runes[:maxRunes]))
}
