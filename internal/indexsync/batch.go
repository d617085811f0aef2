package indexsync

import (
	"sort"

	"labrec/internal/domain"
)

// chunk splits items into consecutive batches of at most size elements.
func chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

func entryIDs(entries []domain.IndexEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func sortFailures(f []BatchFailure) {
	sort.Slice(f, func(i, j int) bool {
		if f[i].Pass != f[j].Pass {
			return f[i].Pass < f[j].Pass
		}
		return f[i].Index < f[j].Index
	})
}
