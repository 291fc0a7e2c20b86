// Package segments implements range operations over LED segment lists:
// split, merge, gap filling, repair and the gap-aware range view.
//
// Every function works on a copy. When an operation is refused the returned
// slice is an unchanged copy of the input together with a non-nil error.
package segments

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dokzlo13/wledsync/internal/wled"
)

var (
	// ErrSegmentNotFound is returned when an id does not exist in the list.
	ErrSegmentNotFound = errors.New("segment not found")
	// ErrSameSegment is returned when an operation needs two distinct segments.
	ErrSameSegment = errors.New("segment cannot be merged with itself")
	// ErrNoNeighbour is returned when no segment borders the given gap.
	ErrNoNeighbour = errors.New("no segment borders the gap")
	// ErrCapacity is returned when all segment ids are in use.
	ErrCapacity = errors.New("segment capacity reached")
	// ErrInvalidSplit is returned when the split point is not strictly inside the segment.
	ErrInvalidSplit = errors.New("split point must be inside the segment")
	// ErrInvalidRange is returned for empty or negative ranges.
	ErrInvalidRange = errors.New("invalid range")
)

// NextAvailableID returns the lowest id in 0..MaxSegments-1 not used by segs,
// or -1 when every id is taken.
func NextAvailableID(segs []wled.Segment) int {
	used := make(map[int]bool, len(segs))
	for _, s := range segs {
		used[s.ID] = true
	}
	for id := 0; id < wled.MaxSegments; id++ {
		if !used[id] {
			return id
		}
	}
	return -1
}

// MergeTwo widens keepID to cover both segments and drops removeID. Whatever
// lies between them (a gap) is absorbed. Fields other than the range come
// from keepID.
func MergeTwo(segs []wled.Segment, keepID, removeID int) ([]wled.Segment, error) {
	out := wled.CloneSegments(segs)
	if keepID == removeID {
		return out, ErrSameSegment
	}
	keep, remove := indexOf(out, keepID), indexOf(out, removeID)
	if keep < 0 || remove < 0 {
		return out, fmt.Errorf("merge %d with %d: %w", keepID, removeID, ErrSegmentNotFound)
	}

	merged := out[keep]
	merged.Start = min(merged.Start, out[remove].Start)
	merged.Stop = max(merged.Stop, out[remove].Stop)
	merged.Len = merged.Stop - merged.Start

	result := make([]wled.Segment, 0, len(out)-1)
	for i, s := range out {
		switch i {
		case keep:
			result = append(result, merged)
		case remove:
		default:
			result = append(result, s)
		}
	}
	sortByStart(result)
	return result, nil
}

// MergeGapUp extends the segment ending at gapStart so it ends at gapStop.
func MergeGapUp(segs []wled.Segment, gapStart, gapStop int) ([]wled.Segment, error) {
	out := wled.CloneSegments(segs)
	if gapStart >= gapStop {
		return out, ErrInvalidRange
	}
	for i := range out {
		if out[i].Stop == gapStart {
			out[i].Stop = gapStop
			out[i].Len = out[i].Stop - out[i].Start
			return out, nil
		}
	}
	return out, fmt.Errorf("gap [%d,%d) from below: %w", gapStart, gapStop, ErrNoNeighbour)
}

// MergeGapDown pulls the segment starting at gapStop back to gapStart.
func MergeGapDown(segs []wled.Segment, gapStart, gapStop int) ([]wled.Segment, error) {
	out := wled.CloneSegments(segs)
	if gapStart >= gapStop {
		return out, ErrInvalidRange
	}
	for i := range out {
		if out[i].Start == gapStop {
			out[i].Start = gapStart
			out[i].Len = out[i].Stop - out[i].Start
			return out, nil
		}
	}
	return out, fmt.Errorf("gap [%d,%d) from above: %w", gapStart, gapStop, ErrNoNeighbour)
}

// NewSegment returns a segment covering [start, stop) with firmware-like
// defaults: on, full brightness, solid white, default palette.
func NewSegment(id, start, stop int) wled.Segment {
	return wled.Segment{
		ID:         id,
		Start:      start,
		Stop:       stop,
		Len:        stop - start,
		Grouping:   1,
		On:         true,
		Brightness: 255,
		Colors:     []wled.Color{{255, 255, 255}, {0, 0, 0}, {0, 0, 0}},
		Effect:     0,
		Speed:      128,
		Intensity:  128,
		Palette:    0,
	}
}

// ConvertGapToSegment fills [gapStart, gapStop) with a new default segment
// using the lowest free id.
func ConvertGapToSegment(segs []wled.Segment, gapStart, gapStop int) ([]wled.Segment, error) {
	out := wled.CloneSegments(segs)
	if gapStart < 0 || gapStart >= gapStop {
		return out, ErrInvalidRange
	}
	id := NextAvailableID(out)
	if id < 0 {
		return out, ErrCapacity
	}
	out = append(out, NewSegment(id, gapStart, gapStop))
	sortByStart(out)
	return out, nil
}

// Split cuts segment id at position at. The left part keeps the id, the right
// part is a copy of the segment with the lowest free id.
func Split(segs []wled.Segment, id, at int) ([]wled.Segment, error) {
	out := wled.CloneSegments(segs)
	i := indexOf(out, id)
	if i < 0 {
		return out, fmt.Errorf("split %d: %w", id, ErrSegmentNotFound)
	}
	target := out[i]
	if at <= target.Start || at >= target.Stop {
		return out, fmt.Errorf("split %d [%d,%d) at %d: %w", id, target.Start, target.Stop, at, ErrInvalidSplit)
	}
	newID := NextAvailableID(out)
	if newID < 0 {
		return out, ErrCapacity
	}

	right := target.Clone()
	right.ID = newID
	right.Start = at
	right.Len = right.Stop - right.Start

	out[i].Stop = at
	out[i].Len = at - out[i].Start

	out = append(out, right)
	sortByStart(out)
	return out, nil
}

// Repair makes a segment list safe to persist: overlaps are resolved by
// truncating the earlier segment, ranges are clamped to ledCount and empty or
// out-of-strip segments are dropped. Gaps are left alone.
func Repair(segs []wled.Segment, ledCount int) []wled.Segment {
	out := wled.CloneSegments(segs)
	sortByStart(out)

	for i := range out {
		if out[i].Stop > ledCount {
			out[i].Stop = ledCount
		}
		if i+1 < len(out) && out[i].Stop > out[i+1].Start {
			out[i].Stop = out[i+1].Start
		}
	}

	result := make([]wled.Segment, 0, len(out))
	for _, s := range out {
		if s.Start < 0 || s.Start >= s.Stop || s.Start >= ledCount {
			continue
		}
		s.Len = s.Stop - s.Start
		result = append(result, s)
	}
	return result
}

func indexOf(segs []wled.Segment, id int) int {
	for i, s := range segs {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func sortByStart(segs []wled.Segment) {
	sort.SliceStable(segs, func(i, j int) bool {
		return segs[i].Start < segs[j].Start
	})
}
