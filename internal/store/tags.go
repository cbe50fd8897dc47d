package store

import "strings"

// NormalizeTag returns the canonical form of a tag name: whitespace trimmed,
// lowercased. Tag identity is defined over this form.
func NormalizeTag(in string) string {
	return strings.ToLower(strings.TrimSpace(in))
}

// NormalizeTags normalizes each element, preserving order and duplicates.
// Strings that normalize to empty are dropped. Duplicate canonical names are
// harmless downstream: the tag upsert and link insert are both idempotent.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		n := NormalizeTag(t)
		if n == "" {
			continue
		}
		out = append(out, n)
	}
	return out
}
