// Package parser turns provider catalog JSON into normalized instrument
// records and carries the shared text helpers (hashing, excerpt
// normalization, Swiss number formats).
package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// HashText returns the hex sha256 of the input. Used as the content hash
// for idempotent upserts.
func HashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// NormalizeWhitespace applies NFKC normalization and folds runs of
// whitespace into single spaces.
func NormalizeWhitespace(s string) string {
	s = norm.NFKC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// TruncateExcerpt normalizes whitespace and truncates to maxLen runes,
// appending an ellipsis when cut.
func TruncateExcerpt(s string, maxLen int) string {
	s = NormalizeWhitespace(s)
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// excerptMaxLen matches the evidence excerpt budget used across sources.
const excerptMaxLen = 200

// ParseSwissNumber parses numbers in Swiss notation: apostrophe thousand
// separators ("1'250.50") and comma decimal marks ("8,25"). Returns false
// when the input is empty or not numeric.
func ParseSwissNumber(s string) (float64, bool) {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.ReplaceAll(cleaned, "'", "")
	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, cleaned)
	if cleaned == "" {
		return 0, false
	}
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
