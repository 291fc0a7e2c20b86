package segments

import "sort"

// Span is anything occupying a half-open LED range.
type Span interface {
	Bounds() (start, stop int)
}

// RangeItem is either a span or a gap between spans.
type RangeItem[T Span] struct {
	Item  T
	Gap   bool
	Start int
	Stop  int
}

// RangeItems sorts items by start and returns them interleaved with gap
// entries so that the result covers [0, total). Overlapping items are emitted
// as they are; no gap is produced inside covered space.
func RangeItems[T Span](items []T, total int) []RangeItem[T] {
	sorted := make([]T, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, _ := sorted[i].Bounds()
		b, _ := sorted[j].Bounds()
		return a < b
	})

	out := make([]RangeItem[T], 0, len(sorted)*2+1)
	pos := 0
	for _, it := range sorted {
		start, stop := it.Bounds()
		if pos < start {
			out = append(out, RangeItem[T]{Gap: true, Start: pos, Stop: start})
		}
		out = append(out, RangeItem[T]{Item: it, Start: start, Stop: stop})
		pos = max(pos, stop)
	}
	if pos < total {
		out = append(out, RangeItem[T]{Gap: true, Start: pos, Stop: total})
	}
	return out
}
