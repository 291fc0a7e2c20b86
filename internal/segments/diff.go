package segments

import (
	"reflect"

	"github.com/dokzlo13/wledsync/internal/wled"
)

// Diff returns the segment patches that turn prev into next on a controller:
// every new or changed segment of next in full, then a deletion for each id
// that is gone.
func Diff(prev, next []wled.Segment) []wled.SegmentPatch {
	before := make(map[int]wled.Segment, len(prev))
	for _, s := range prev {
		before[s.ID] = s
	}

	var out []wled.SegmentPatch
	kept := make(map[int]bool, len(next))
	for _, s := range next {
		kept[s.ID] = true
		if old, ok := before[s.ID]; ok && sameSegment(old, s) {
			continue
		}
		out = append(out, wled.FullSegmentPatch(s))
	}
	for _, s := range prev {
		if !kept[s.ID] {
			out = append(out, wled.DeleteSegmentPatch(s.ID))
		}
	}
	return out
}

func sameSegment(a, b wled.Segment) bool {
	a.Len, b.Len = 0, 0
	return reflect.DeepEqual(a, b)
}
