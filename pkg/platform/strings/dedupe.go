// Package strings provides string slice normalization used by targeting rules.
package strings

import (
	"strings"
)

// DedupeAndTrim trims each element, drops empties and duplicates, and keeps
// first-seen order.
//
//	DedupeAndTrim([]string{"  retail ", "food", "retail", ""})
//	// []string{"retail", "food"}
func DedupeAndTrim(values []string) []string {
	return normalize(values, func(s string) string { return s })
}

// DedupeAndTrimUpper is DedupeAndTrim with upper-casing applied before the
// duplicate check. Jurisdiction codes are compared this way.
func DedupeAndTrimUpper(values []string) []string {
	return normalize(values, strings.ToUpper)
}

func normalize(values []string, fold func(string) string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := fold(strings.TrimSpace(v))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// Contains reports whether values holds target exactly.
func Contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
