// Package strings provides string manipulation utilities.
package strings

import (
	"strings"
)

// multiValueSplitter matches the separators accepted inside multi-valued
// import cells: commas, newlines, and runs of whitespace.
func multiValueSplitter(r rune) bool {
	return r == ',' || r == ';' || r == '\n' || r == '\r' || r == ' ' || r == '\t'
}

// SplitMulti splits a multi-valued cell (e.g. an email list) on commas,
// semicolons, whitespace, and newlines, dropping empty parts.
//
// Example:
//
//	SplitMulti("a@x.com, b@x.com\nc@x.com")
//	// Returns: []string{"a@x.com", "b@x.com", "c@x.com"}
func SplitMulti(value string) []string {
	return strings.FieldsFunc(value, multiValueSplitter)
}

// DedupeAndTrim removes duplicates and empty strings from a slice,
// trimming whitespace from each element. Order is preserved.
//
// Example:
//
//	DedupeAndTrim([]string{"  foo ", "bar", "foo", "", "  "})
//	// Returns: []string{"foo", "bar"}
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}

// DedupeAndTrimLower is like DedupeAndTrim but also lowercases each element.
// Used wherever emails are stored, so set-union merges compare equal
// regardless of the casing an import file arrived with.
//
// Example:
//
//	DedupeAndTrimLower([]string{"  FOO ", "bar", "Foo"})
//	// Returns: []string{"foo", "bar"}
func DedupeAndTrimLower(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.ToLower(strings.TrimSpace(v))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}

// UnionLower merges two string sets case-insensitively, preserving the order
// of existing followed by any genuinely new values. Existing values are never
// dropped.
func UnionLower(existing, incoming []string) []string {
	merged := make([]string, 0, len(existing)+len(incoming))
	merged = append(merged, existing...)
	merged = append(merged, incoming...)
	return DedupeAndTrimLower(merged)
}
