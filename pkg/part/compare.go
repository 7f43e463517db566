// ABOUTME: Field comparison rules used by the part equality functions
// ABOUTME: Date/datetime coercion, set semantics for multi-valued fields

package part

import (
	"time"
)

// DatesEqual compares optional dates. A date is a midnight timestamp, so a
// date and a midnight datetime of the same calendar day are equal regardless
// of location; any other pair must denote the same instant.
func DatesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Equal(*b) {
		return true
	}
	if !isMidnight(*a) || !isMidnight(*b) {
		return false
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func isMidnight(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0
}

// stringSetsEqual compares two lists as sets
func stringSetsEqual(a, b []string) bool {
	left := make(map[string]struct{}, len(a))
	for _, s := range a {
		left[s] = struct{}{}
	}
	right := make(map[string]struct{}, len(b))
	for _, s := range b {
		if _, ok := left[s]; !ok {
			return false
		}
		right[s] = struct{}{}
	}
	return len(left) == len(right)
}

func stringListsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// anchorSetsEqual compares anchor lists as sets of full anchor values
func anchorSetsEqual(a, b []Anchor) bool {
	left := make(map[string]struct{}, len(a))
	for _, x := range a {
		left[x.identity()] = struct{}{}
	}
	right := make(map[string]struct{}, len(b))
	for _, x := range b {
		id := x.identity()
		if _, ok := left[id]; !ok {
			return false
		}
		right[id] = struct{}{}
	}
	return len(left) == len(right)
}
