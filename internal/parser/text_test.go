package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashText(t *testing.T) {
	t.Parallel()

	h1 := HashText("hello")
	h2 := HashText("hello")
	h3 := HashText("hello ")
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}

func TestNormalizeWhitespace(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a b c", NormalizeWhitespace("  a\t b\n\nc  "))
	assert.Equal(t, "", NormalizeWhitespace("   \n\t "))
	// NFKC folds compatibility characters (non-breaking space).
	assert.Equal(t, "a b", NormalizeWhitespace("a b"))
}

func TestTruncateExcerpt(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", TruncateExcerpt("short", 200))

	long := strings.Repeat("x", 300)
	got := TruncateExcerpt(long, 200)
	assert.Len(t, got, 200)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestParseSwissNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1'250.50", 1250.50, true},
		{"8,25", 8.25, true},
		{"1 000", 1000, true},
		{"42", 42, true},
		{"", 0, false},
		{"n/a", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseSwissNumber(tt.in)
		assert.Equal(t, tt.ok, ok, "input %q", tt.in)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 1e-9, "input %q", tt.in)
		}
	}
}
