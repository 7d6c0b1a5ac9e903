package geometry

import (
	"sort"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
)

// Scored is anything NMS can rank.
type Scored interface {
	Box() schemas.BoundingBox
	Score() float64
}

// NMS performs greedy, confidence-first non-maximum suppression. Items are
// stably sorted by descending score, so ties keep their input order, and an
// item survives only if its IoU against every kept item is <= threshold.
// The input slice is not modified.
func NMS[T Scored](items []T, threshold float64) []T {
	if len(items) == 0 {
		return nil
	}
	ordered := make([]T, len(items))
	copy(ordered, items)
	SortByScore(ordered)

	kept := make([]T, 0, len(ordered))
	for _, candidate := range ordered {
		suppressed := false
		for _, k := range kept {
			if IoU(candidate.Box(), k.Box()) > threshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, candidate)
		}
	}
	return kept
}

// SortByScore stably sorts items by descending score in place.
func SortByScore[T Scored](items []T) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score() > items[j].Score()
	})
}
