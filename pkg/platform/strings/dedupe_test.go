package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil slice", input: nil, expected: nil},
		{name: "only blanks", input: []string{"", "  "}, expected: nil},
		{name: "trims whitespace", input: []string{"  retail  ", "food  "}, expected: []string{"retail", "food"}},
		{name: "removes duplicates preserving order", input: []string{"food", "retail", "food"}, expected: []string{"food", "retail"}},
		{name: "case is preserved", input: []string{"Food", "food"}, expected: []string{"Food", "food"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}

func TestDedupeAndTrimUpper(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "uppercases", input: []string{"dvo", " mnl "}, expected: []string{"DVO", "MNL"}},
		{name: "dedupes after folding", input: []string{"dvo", "DVO", "Dvo"}, expected: []string{"DVO"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrimUpper(tt.input))
		})
	}
}

func TestContains(t *testing.T) {
	assert.True(t, Contains([]string{"a", "b"}, "b"))
	assert.False(t, Contains([]string{"a", "b"}, "B"))
	assert.False(t, Contains(nil, ""))
}
