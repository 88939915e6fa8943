package search

import (
	"strconv"
	"strings"

	"github.com/vyrodovalexey/inventory-tracker/internal/model"
)

// Match reports whether item satisfies a non-empty query: the name contains
// the query ignoring case, or the decimal id equals the query exactly.
// The query is used as given, without trimming.
func Match(item model.Item, query string) bool {
	if strconv.FormatInt(item.ID, 10) == query {
		return true
	}
	return strings.Contains(strings.ToLower(item.Name), strings.ToLower(query))
}

// Filter returns the items matching query in their original order. An
// empty query matches everything. The input slice is never modified.
func Filter(items []model.Item, query string) []model.Item {
	out := make([]model.Item, 0, len(items))
	for _, item := range items {
		if query == "" || Match(item, query) {
			out = append(out, item)
		}
	}
	return out
}
