// Package tags canonicalizes user-entered labels used for filtering and
// lightweight search.
package tags

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// MaxTagLength is the longest accepted tag after normalization; longer
// labels are truncated rather than rejected so stored data never fails
// canonicalization.
const MaxTagLength = 64

var folder = cases.Fold()

// Normalize canonicalizes a list of labels: Unicode NFC, trimmed,
// inner whitespace collapsed to single spaces, empties dropped, and
// case-insensitive duplicates removed. Order and the first-seen spelling
// are preserved.
func Normalize(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, label := range labels {
		tag := Clean(label)
		if tag == "" {
			continue
		}
		key := folder.String(tag)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Clean canonicalizes a single label without deduplication.
func Clean(label string) string {
	tag := norm.NFC.String(label)
	tag = strings.Join(strings.Fields(tag), " ")
	if len(tag) > MaxTagLength {
		tag = tag[:MaxTagLength]
	}
	return tag
}

// Split parses free-form keyword text into labels. Commas and semicolons
// separate labels; surrounding whitespace is ignored. Used by the schema
// migration that converts the legacy keywords column into tag lists.
func Split(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';'
	})
	return Normalize(parts)
}

// Match reports whether two labels are equal under case folding.
func Match(a, b string) bool {
	return folder.String(Clean(a)) == folder.String(Clean(b))
}
