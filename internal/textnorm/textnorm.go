// Package textnorm canonicalizes query text for cache keys and
// classification. Normalization is deterministic and idempotent:
// Normalize(Normalize(q)) == Normalize(q).
package textnorm

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/corpusqa/corpusqa/internal/errors"
)

// trailing punctuation removed from the end of a normalized query.
const trailingPunct = "?!.,;"

// quote pairs stripped when they surround the whole query.
var quotePairs = [][2]string{
	{`"`, `"`},
	{`'`, `'`},
	{"“", "”"}, // curly double
	{"‘", "’"}, // curly single
}

// Normalize canonicalizes a query: Unicode NFC, lowercase, whitespace
// collapsed to single spaces, surrounding quotes and trailing
// punctuation stripped. Invalid UTF-8 is rejected.
func Normalize(q string) (string, error) {
	if !utf8.ValidString(q) {
		return "", errors.New(errors.ErrCodeInvalidInput, "query is not valid UTF-8", nil)
	}

	s := norm.NFC.String(q)
	s = strings.ToLower(s)
	s = strings.Join(strings.Fields(s), " ")

	// Quote stripping can expose trailing punctuation and vice versa,
	// so iterate until stable.
	for {
		before := s
		s = stripQuotes(s)
		s = strings.TrimRight(s, trailingPunct)
		s = strings.TrimSpace(s)
		if s == before {
			break
		}
	}

	return s, nil
}

func stripQuotes(s string) string {
	for _, p := range quotePairs {
		if len(s) > len(p[0])+len(p[1]) &&
			strings.HasPrefix(s, p[0]) && strings.HasSuffix(s, p[1]) {
			return strings.TrimSpace(s[len(p[0]) : len(s)-len(p[1])])
		}
	}
	return s
}

// Tokens splits a normalized query into whitespace-delimited tokens.
func Tokens(q string) []string {
	return strings.Fields(q)
}

// TokenCount returns the number of whitespace-delimited tokens.
func TokenCount(q string) int {
	return len(strings.Fields(q))
}

// Truncate cuts s to at most max bytes without splitting a UTF-8 rune:
// the cut backs up to the nearest rune boundary.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
