package segstore

import (
	"fmt"
	"sort"
)

// GlobalSegment is a named zone of one controller's strip, independent of the
// physical segments currently configured on it. Stop is exclusive.
type GlobalSegment struct {
	ID           string `json:"id"`
	ControllerID string `json:"controllerId"`
	Start        int    `json:"start"`
	Stop         int    `json:"stop"`
	Name         string `json:"name"`
	GroupID      string `json:"groupId,omitempty"`
}

// Bounds returns the half-open LED range of the zone.
func (g GlobalSegment) Bounds() (start, stop int) {
	return g.Start, g.Stop
}

// Group is a named collection of zones of one controller.
type Group struct {
	ID           string `json:"id"`
	ControllerID string `json:"controllerId"`
	Name         string `json:"name"`
}

// Definitions is everything stored for one controller.
type Definitions struct {
	Version  int             `json:"version"`
	Segments []GlobalSegment `json:"segments"`
	Groups   []Group         `json:"groups"`
}

const definitionsVersion = 1

// Clone returns a copy that shares nothing with d.
func (d Definitions) Clone() Definitions {
	out := Definitions{Version: d.Version}
	if d.Segments != nil {
		out.Segments = append([]GlobalSegment(nil), d.Segments...)
	}
	if d.Groups != nil {
		out.Groups = append([]Group(nil), d.Groups...)
	}
	return out
}

// IsEmpty reports whether no zone and no group is defined.
func (d Definitions) IsEmpty() bool {
	return len(d.Segments) == 0 && len(d.Groups) == 0
}

// Segment returns the zone with the given id.
func (d Definitions) Segment(id string) (GlobalSegment, bool) {
	if i := d.segmentIndex(id); i >= 0 {
		return d.Segments[i], true
	}
	return GlobalSegment{}, false
}

// Group returns the group with the given id.
func (d Definitions) Group(id string) (Group, bool) {
	if i := d.groupIndex(id); i >= 0 {
		return d.Groups[i], true
	}
	return Group{}, false
}

// Members returns the zones assigned to groupID, ordered by start.
func (d Definitions) Members(groupID string) []GlobalSegment {
	var out []GlobalSegment
	for _, s := range d.Segments {
		if s.GroupID == groupID {
			out = append(out, s)
		}
	}
	return out
}

func (d Definitions) segmentIndex(id string) int {
	for i, s := range d.Segments {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (d Definitions) groupIndex(id string) int {
	for i, g := range d.Groups {
		if g.ID == id {
			return i
		}
	}
	return -1
}

func (d *Definitions) sortSegments() {
	sort.SliceStable(d.Segments, func(i, j int) bool {
		return d.Segments[i].Start < d.Segments[j].Start
	})
}

// NotAdjacentError is returned when two zones that do not touch are merged.
type NotAdjacentError struct {
	GapStart int
	GapStop  int
}

func (e *NotAdjacentError) Error() string {
	return fmt.Sprintf("segments are not adjacent: gap between %d and %d", e.GapStart, e.GapStop)
}
