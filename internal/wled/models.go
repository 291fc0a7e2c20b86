// Package wled models the WLED JSON API and talks to controllers over HTTP and WebSocket.
package wled

import "encoding/json"

// MaxSegments is the number of concurrent segments the firmware supports (ids 0..9).
const MaxSegments = 10

// Color is a single colour slot: RGB or RGBW.
// An empty Color inside a patch means "leave this slot unchanged".
type Color []int

// MarshalJSON encodes an empty slot as [] instead of null so WLED skips it.
func (c Color) MarshalJSON() ([]byte, error) {
	if len(c) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal([]int(c))
}

// Segment is a contiguous (or stepped) run of LEDs with its own effect settings.
// Stop is exclusive.
type Segment struct {
	ID         int     `json:"id"`
	Start      int     `json:"start"`
	Stop       int     `json:"stop"`
	Len        int     `json:"len"`
	Grouping   int     `json:"grp"`
	Spacing    int     `json:"spc"`
	Offset     int     `json:"of"`
	On         bool    `json:"on"`
	Freeze     bool    `json:"frz"`
	Brightness int     `json:"bri"`
	CCT        int     `json:"cct"`
	Colors     []Color `json:"col"`
	Effect     int     `json:"fx"`
	Speed      int     `json:"sx"`
	Intensity  int     `json:"ix"`
	Palette    int     `json:"pal"`
	Custom1    int     `json:"c1"`
	Custom2    int     `json:"c2"`
	Custom3    int     `json:"c3"`
	Selected   bool    `json:"sel"`
	Reverse    bool    `json:"rev"`
	Mirror     bool    `json:"mi"`
	Name       string  `json:"n,omitempty"`
}

// Bounds returns the half-open LED range covered by the segment.
func (s Segment) Bounds() (start, stop int) {
	return s.Start, s.Stop
}

// Clone returns a deep copy of the segment.
func (s Segment) Clone() Segment {
	out := s
	if s.Colors != nil {
		out.Colors = make([]Color, len(s.Colors))
		for i, c := range s.Colors {
			if c != nil {
				out.Colors[i] = append(make(Color, 0, len(c)), c...)
			}
		}
	}
	return out
}

// NightLight is the night-light sub-state.
type NightLight struct {
	On               bool `json:"on"`
	Duration         int  `json:"dur"`
	Mode             int  `json:"mode"`
	TargetBrightness int  `json:"tbri"`
	Remaining        int  `json:"rem"`
}

// UDPSync is the UDP sync sub-state.
type UDPSync struct {
	Send         bool `json:"send"`
	Receive      bool `json:"recv"`
	SendGroup    int  `json:"sgrp"`
	ReceiveGroup int  `json:"rgrp"`
}

// DeviceState mirrors the controller's current operating state.
type DeviceState struct {
	On           bool       `json:"on"`
	Brightness   int        `json:"bri"`
	Transition   int        `json:"transition"`
	Preset       int        `json:"ps"`
	Playlist     int        `json:"pl"`
	NightLight   NightLight `json:"nl"`
	UDPSync      UDPSync    `json:"udpn"`
	LiveOverride int        `json:"lor"`
	MainSegment  int        `json:"mainseg"`
	Segments     []Segment  `json:"seg"`
}

// Clone returns a deep copy of the state.
func (s DeviceState) Clone() DeviceState {
	out := s
	out.Segments = CloneSegments(s.Segments)
	return out
}

// SegmentByID returns the segment with the given id.
func (s DeviceState) SegmentByID(id int) (Segment, bool) {
	for _, seg := range s.Segments {
		if seg.ID == id {
			return seg, true
		}
	}
	return Segment{}, false
}

// CloneSegments deep-copies a segment slice. A nil input stays nil.
func CloneSegments(segs []Segment) []Segment {
	if segs == nil {
		return nil
	}
	out := make([]Segment, len(segs))
	for i, s := range segs {
		out[i] = s.Clone()
	}
	return out
}

// LEDInfo describes the LED hardware.
type LEDInfo struct {
	Count int `json:"count"`
}

// Info is the static part of the controller description.
type Info struct {
	Name    string  `json:"name"`
	Version string  `json:"ver"`
	MAC     string  `json:"mac"`
	LEDs    LEDInfo `json:"leds"`
}

// FullState is the response of GET /json and the greeting sent on the socket.
type FullState struct {
	State DeviceState `json:"state"`
	Info  Info        `json:"info"`
}
