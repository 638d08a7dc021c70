package engine

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/corpusqa/corpusqa/internal/errors"
)

// DefaultMaxQueryChars bounds the accepted query length.
const DefaultMaxQueryChars = 10000

// injectionPatterns are prompt-injection markers. Matching queries
// are logged for operators but still answered: the corpus-grounded
// prompt limits what an injected instruction can reach, and blocking
// on patterns would reject legitimate questions about the patterns
// themselves.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)disregard\s+(the\s+)?(above|prior|previous)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+`),
	regexp.MustCompile(`(?i)reveal\s+(your\s+)?system\s+prompt`),
	regexp.MustCompile(`(?i)\bforget\s+everything\b`),
	// Control characters other than tab, CR, and LF are a smuggling
	// vector, not legitimate question text.
	regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]"),
}

// validateQuery checks the raw query before any processing.
func validateQuery(raw string, maxChars int) error {
	if maxChars <= 0 {
		maxChars = DefaultMaxQueryChars
	}
	if strings.TrimSpace(raw) == "" {
		return errors.New(errors.ErrCodeQueryEmpty, "query must not be empty", nil)
	}
	if len(raw) > maxChars {
		return errors.New(errors.ErrCodeQueryTooLong, "query exceeds maximum length", nil).
			WithDetail("max_chars", strconv.Itoa(maxChars)).
			WithDetail("got_chars", strconv.Itoa(len(raw)))
	}
	if !utf8.ValidString(raw) {
		return errors.New(errors.ErrCodeInvalidInput, "query is not valid UTF-8", nil)
	}
	return nil
}

// detectInjection returns the first matched injection pattern, or "".
func detectInjection(raw string) string {
	for _, re := range injectionPatterns {
		if m := re.FindString(raw); m != "" {
			return m
		}
	}
	return ""
}
