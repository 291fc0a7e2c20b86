// Package editor holds the working copy of a controller's physical segments
// while they are being edited.
package editor

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dokzlo13/wledsync/internal/merge"
	"github.com/dokzlo13/wledsync/internal/segments"
	"github.com/dokzlo13/wledsync/internal/segstore"
	"github.com/dokzlo13/wledsync/internal/wled"
)

// ErrTooManySegments is returned when a layout needs more segments than the
// controller supports.
var ErrTooManySegments = errors.New("layout exceeds the segment limit")

// ChangeFunc receives the complete working copy after each successful edit.
type ChangeFunc func(segments []wled.Segment)

// Session is an editing session. Every operation reads the working copy as
// left by the previous one, however quickly they are issued.
//
// The change callback runs once per successful operation, in operation order,
// after the working copy was updated. It may read the session but must not
// modify it.
type Session struct {
	mu      sync.Mutex
	initial []wled.Segment
	working []wled.Segment

	notifyMu sync.Mutex
	onChange ChangeFunc
}

// NewSession starts editing a copy of initial. onChange may be nil.
func NewSession(initial []wled.Segment, onChange ChangeFunc) *Session {
	segs := wled.CloneSegments(initial)
	if segs == nil {
		segs = []wled.Segment{}
	}
	return &Session{
		initial:  wled.CloneSegments(segs),
		working:  segs,
		onChange: onChange,
	}
}

// Segments returns a copy of the working copy.
func (s *Session) Segments() []wled.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wled.CloneSegments(s.working)
}

// Initial returns the segments the session started from.
func (s *Session) Initial() []wled.Segment {
	return wled.CloneSegments(s.initial)
}

// RevertPatch returns the patch that puts the controller back to the layout
// the session started from.
func (s *Session) RevertPatch() wled.StatePatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Diff(s.working, s.initial)
}

// UpdateField applies a partial update to segment id. The patch's own id is ignored.
func (s *Session) UpdateField(id int, patch wled.SegmentPatch) error {
	return s.update(func(cur []wled.Segment) ([]wled.Segment, error) {
		if _, ok := (wled.DeviceState{Segments: cur}).SegmentByID(id); !ok {
			return nil, fmt.Errorf("update %d: %w", id, segments.ErrSegmentNotFound)
		}
		patch.ID = wled.Ptr(id)
		next := merge.State(wled.DeviceState{Segments: cur}, wled.StatePatch{
			Segments: []wled.SegmentPatch{patch},
		})
		return next.Segments, nil
	})
}

// Split cuts segment id at position at.
func (s *Session) Split(id, at int) error {
	return s.update(func(cur []wled.Segment) ([]wled.Segment, error) {
		return segments.Split(cur, id, at)
	})
}

// MergeTwo widens keepID over removeID and drops removeID.
func (s *Session) MergeTwo(keepID, removeID int) error {
	return s.update(func(cur []wled.Segment) ([]wled.Segment, error) {
		return segments.MergeTwo(cur, keepID, removeID)
	})
}

// MergeGapUp gives the gap to the segment below it.
func (s *Session) MergeGapUp(gapStart, gapStop int) error {
	return s.update(func(cur []wled.Segment) ([]wled.Segment, error) {
		return segments.MergeGapUp(cur, gapStart, gapStop)
	})
}

// MergeGapDown gives the gap to the segment above it.
func (s *Session) MergeGapDown(gapStart, gapStop int) error {
	return s.update(func(cur []wled.Segment) ([]wled.Segment, error) {
		return segments.MergeGapDown(cur, gapStart, gapStop)
	})
}

// ConvertGapToSegment fills the gap with a new default segment.
func (s *Session) ConvertGapToSegment(gapStart, gapStop int) error {
	return s.update(func(cur []wled.Segment) ([]wled.Segment, error) {
		return segments.ConvertGapToSegment(cur, gapStart, gapStop)
	})
}

// Delete removes segment id from the working copy.
func (s *Session) Delete(id int) error {
	return s.update(func(cur []wled.Segment) ([]wled.Segment, error) {
		next := make([]wled.Segment, 0, len(cur))
		for _, seg := range cur {
			if seg.ID != id {
				next = append(next, seg.Clone())
			}
		}
		if len(next) == len(cur) {
			return nil, fmt.Errorf("delete %d: %w", id, segments.ErrSegmentNotFound)
		}
		return next, nil
	})
}

// Add inserts seg under the lowest free id and returns it as stored.
func (s *Session) Add(seg wled.Segment) (wled.Segment, error) {
	var added wled.Segment
	err := s.update(func(cur []wled.Segment) ([]wled.Segment, error) {
		if seg.Start < 0 || seg.Start >= seg.Stop {
			return nil, segments.ErrInvalidRange
		}
		id := segments.NextAvailableID(cur)
		if id < 0 {
			return nil, segments.ErrCapacity
		}
		added = seg.Clone()
		added.ID = id
		added.Len = added.Stop - added.Start

		next := append(wled.CloneSegments(cur), added)
		sortByStart(next)
		return next, nil
	})
	return added, err
}

// ReplaceAll swaps the whole working copy, e.g. for a materialised zone layout.
func (s *Session) ReplaceAll(segs []wled.Segment) error {
	return s.update(func([]wled.Segment) ([]wled.Segment, error) {
		if len(segs) > wled.MaxSegments {
			return nil, ErrTooManySegments
		}
		seen := make(map[int]bool, len(segs))
		for _, seg := range segs {
			if seg.ID < 0 || seg.ID >= wled.MaxSegments || seen[seg.ID] {
				return nil, fmt.Errorf("segment id %d: %w", seg.ID, segments.ErrCapacity)
			}
			seen[seg.ID] = true
		}
		next := wled.CloneSegments(segs)
		if next == nil {
			next = []wled.Segment{}
		}
		sortByStart(next)
		return next, nil
	})
}

// update is the single read-modify-write path. fn always receives the
// latest working copy and must not retain it.
func (s *Session) update(fn func(cur []wled.Segment) ([]wled.Segment, error)) error {
	s.mu.Lock()
	next, err := fn(s.working)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.working = next
	out := wled.CloneSegments(next)

	// Keep callbacks in operation order without holding the data lock
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	if s.onChange != nil {
		s.onChange(out)
	}
	return nil
}

// Diff returns the patch that turns the controller's prev layout into next.
func Diff(prev, next []wled.Segment) wled.StatePatch {
	return wled.StatePatch{Segments: segments.Diff(prev, next)}
}

// Materialize turns zones into physical segments, ordered by start with ids
// from 0. A current segment covering exactly the same range keeps its
// settings; other zones get default segments.
func Materialize(zones []segstore.GlobalSegment, current []wled.Segment) ([]wled.Segment, error) {
	if len(zones) > wled.MaxSegments {
		return nil, fmt.Errorf("%d zones: %w", len(zones), ErrTooManySegments)
	}

	sorted := append([]segstore.GlobalSegment(nil), zones...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	out := make([]wled.Segment, 0, len(sorted))
	for i, z := range sorted {
		seg := segments.NewSegment(i, z.Start, z.Stop)
		for _, c := range current {
			if c.Start == z.Start && c.Stop == z.Stop {
				seg = c.Clone()
				seg.ID = i
				seg.Len = z.Stop - z.Start
				break
			}
		}
		seg.Name = z.Name
		out = append(out, seg)
	}
	return out, nil
}

func sortByStart(segs []wled.Segment) {
	sort.SliceStable(segs, func(i, j int) bool {
		return segs[i].Start < segs[j].Start
	})
}
