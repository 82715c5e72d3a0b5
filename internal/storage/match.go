package storage

import (
	"strings"
	"sync"

	"golang.org/x/text/cases"
)

// A Caser is stateful, so each caller borrows its own.
var folders = sync.Pool{
	New: func() any {
		c := cases.Fold()
		return &c
	},
}

// fold applies full Unicode case folding, independent of any locale.
func fold(s string) string {
	c := folders.Get().(*cases.Caser)
	defer folders.Put(c)
	return c.String(s)
}

// queryPattern prepares pattern for matchName. Case-insensitive patterns are
// folded once per query instead of once per row.
func queryPattern(pattern string, caseSensitive bool) string {
	if caseSensitive {
		return pattern
	}
	return fold(pattern)
}

// matchName reports whether name contains a pattern prepared by queryPattern.
// It is registered as the name_contains SQL function.
func matchName(name, pattern string, caseSensitive bool) bool {
	if pattern == "" {
		return true
	}
	if caseSensitive {
		return strings.Contains(name, pattern)
	}
	return strings.Contains(fold(name), pattern)
}

// nameContains reports whether name contains pattern.
func nameContains(name, pattern string, caseSensitive bool) bool {
	return matchName(name, queryPattern(pattern, caseSensitive), caseSensitive)
}
