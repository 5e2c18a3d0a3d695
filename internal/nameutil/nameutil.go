// Package nameutil provides the single canonical case-insensitive
// comparison helper used across dupe-key matching, category matching and
// filename-extension checks, plus the SameNameOrKey dupe-identity
// relation.
package nameutil

import (
	"golang.org/x/text/cases"
)

var folder = cases.Fold()

// Fold returns the Unicode case-folded form of s, suitable for
// case-insensitive comparison or use as a map key.
func Fold(s string) string {
	return folder.String(s)
}

// EqualFold reports whether a and b are equal under Unicode case folding.
// This is the one canonical case-insensitive compare used across dupe-key
// matching, category matching, and filename-extension checks.
func EqualFold(a, b string) bool {
	return Fold(a) == Fold(b)
}

// SameNameOrKey implements the dupe-identity relation: if both dupe
// keys are non-empty it's a case-insensitive dupe-key match; otherwise a
// case-insensitive name match. Symmetric; transitive among entries that
// all carry a dupe key or all lack one, but not across a mix of the two.
func SameNameOrKey(aName, aKey, bName, bKey string) bool {
	if aKey != "" && bKey != "" {
		return EqualFold(aKey, bKey)
	}
	return EqualFold(aName, bName)
}
