// Package label names physical segments for display.
package label

import (
	"fmt"

	"github.com/dokzlo13/wledsync/internal/segstore"
	"github.com/dokzlo13/wledsync/internal/wled"
)

const ellipsis = "…"

// Label is the display text of a segment.
type Label struct {
	Text string
	// Tooltip carries the full name when Text was shortened.
	Tooltip string
	// ZoneID is set when the name comes from a zone definition.
	ZoneID string
}

// MatchByPosition returns the zone covering exactly the same range as seg.
// Overlapping or containing zones do not match.
func MatchByPosition(seg wled.Segment, zones []segstore.GlobalSegment) (segstore.GlobalSegment, bool) {
	for _, z := range zones {
		if z.Start == seg.Start && z.Stop == seg.Stop {
			return z, true
		}
	}
	return segstore.GlobalSegment{}, false
}

// For labels seg: the name of the zone at the same position, shortened to
// maxLen runes; otherwise the segment's own name; otherwise "Segment N" with
// N counted from 1. maxLen <= 0 disables shortening.
func For(seg wled.Segment, zones []segstore.GlobalSegment, maxLen int) Label {
	if z, ok := MatchByPosition(seg, zones); ok && z.Name != "" {
		text, cut := truncate(z.Name, maxLen)
		l := Label{Text: text, ZoneID: z.ID}
		if cut {
			l.Tooltip = z.Name
		}
		return l
	}
	if seg.Name != "" {
		return Label{Text: seg.Name}
	}
	return Label{Text: fmt.Sprintf("Segment %d", seg.ID+1)}
}

func truncate(s string, maxLen int) (string, bool) {
	r := []rune(s)
	if maxLen <= 0 || len(r) <= maxLen {
		return s, false
	}
	if maxLen == 1 {
		return ellipsis, true
	}
	return string(r[:maxLen-1]) + ellipsis, true
}
