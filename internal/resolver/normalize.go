package resolver

import "strings"

// Normalize produces the cache key form of a query: trimmed, lower-cased,
// with runs of whitespace collapsed to a single space.
func Normalize(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}
