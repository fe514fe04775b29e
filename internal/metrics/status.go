package metrics

import "sort"

// ErrorBucket is one row of the failure breakdown.
type ErrorBucket struct {
	Category string
	Count    int
}

// SortedErrors converts the Errors map into rows sorted by descending count,
// then by category for stability.
func (r Result) SortedErrors() []ErrorBucket {
	if len(r.Errors) == 0 {
		return nil
	}
	rows := make([]ErrorBucket, 0, len(r.Errors))
	for category, count := range r.Errors {
		rows = append(rows, ErrorBucket{Category: category, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return rows[i].Category < rows[j].Category
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
