// Package textnorm holds the text normalization shared by the page locator,
// the field setter, the document resolver and the spreadsheet loader.
package textnorm

import (
	"strings"

	"golang.org/x/text/cases"
)

// Space trims s and collapses every run of whitespace into a single space.
// It mirrors XPath normalize-space().
func Space(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Fold returns the whitespace-normalized, case-folded form of s, used for
// case-insensitive comparisons of names, column headers and option labels.
func Fold(s string) string {
	// Casers keep state, so one is built per call.
	return cases.Fold().String(Space(s))
}

// EqualFold reports whether a and b are equal after Fold.
func EqualFold(a, b string) bool {
	return Fold(a) == Fold(b)
}

// ContainsFold reports whether needle occurs in haystack after both are folded.
func ContainsFold(haystack, needle string) bool {
	return strings.Contains(Fold(haystack), Fold(needle))
}

// Column normalizes a spreadsheet column name: trimmed, whitespace collapsed
// and lower-cased.
func Column(s string) string {
	return strings.ToLower(Space(s))
}
