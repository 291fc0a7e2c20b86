package wled

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}

// NightLightPatch is a partial NightLight.
type NightLightPatch struct {
	On               *bool `json:"on,omitempty"`
	Duration         *int  `json:"dur,omitempty"`
	Mode             *int  `json:"mode,omitempty"`
	TargetBrightness *int  `json:"tbri,omitempty"`
	Remaining        *int  `json:"rem,omitempty"`
}

// UDPSyncPatch is a partial UDPSync.
type UDPSyncPatch struct {
	Send         *bool `json:"send,omitempty"`
	Receive      *bool `json:"recv,omitempty"`
	SendGroup    *int  `json:"sgrp,omitempty"`
	ReceiveGroup *int  `json:"rgrp,omitempty"`
}

// SegmentPatch is a partial Segment. Without an ID it addresses a segment by
// its position in the list.
type SegmentPatch struct {
	ID         *int    `json:"id,omitempty"`
	Start      *int    `json:"start,omitempty"`
	Stop       *int    `json:"stop,omitempty"`
	Len        *int    `json:"len,omitempty"`
	Grouping   *int    `json:"grp,omitempty"`
	Spacing    *int    `json:"spc,omitempty"`
	Offset     *int    `json:"of,omitempty"`
	On         *bool   `json:"on,omitempty"`
	Freeze     *bool   `json:"frz,omitempty"`
	Brightness *int    `json:"bri,omitempty"`
	CCT        *int    `json:"cct,omitempty"`
	Colors     []Color `json:"col,omitempty"`
	Effect     *int    `json:"fx,omitempty"`
	Speed      *int    `json:"sx,omitempty"`
	Intensity  *int    `json:"ix,omitempty"`
	Palette    *int    `json:"pal,omitempty"`
	Custom1    *int    `json:"c1,omitempty"`
	Custom2    *int    `json:"c2,omitempty"`
	Custom3    *int    `json:"c3,omitempty"`
	Selected   *bool   `json:"sel,omitempty"`
	Reverse    *bool   `json:"rev,omitempty"`
	Mirror     *bool   `json:"mi,omitempty"`
	Name       *string `json:"n,omitempty"`
}

// StatePatch is a partial DeviceState, the unit of every outbound mutation and
// every inbound push.
type StatePatch struct {
	On           *bool            `json:"on,omitempty"`
	Brightness   *int             `json:"bri,omitempty"`
	Transition   *int             `json:"transition,omitempty"`
	Preset       *int             `json:"ps,omitempty"`
	Playlist     *int             `json:"pl,omitempty"`
	NightLight   *NightLightPatch `json:"nl,omitempty"`
	UDPSync      *UDPSyncPatch    `json:"udpn,omitempty"`
	LiveOverride *int             `json:"lor,omitempty"`
	MainSegment  *int             `json:"mainseg,omitempty"`
	Segments     []SegmentPatch   `json:"seg,omitempty"`

	// Write-only fields understood by the firmware.
	PresetSave *int    `json:"psave,omitempty"`
	PresetName *string `json:"n,omitempty"`
	Verbose    *bool   `json:"v,omitempty"`
}

// IsEmpty reports whether the patch carries no field at all.
func (p StatePatch) IsEmpty() bool {
	return p.On == nil && p.Brightness == nil && p.Transition == nil &&
		p.Preset == nil && p.Playlist == nil && p.NightLight == nil &&
		p.UDPSync == nil && p.LiveOverride == nil && p.MainSegment == nil &&
		len(p.Segments) == 0 && p.PresetSave == nil && p.PresetName == nil &&
		p.Verbose == nil
}

// FullSegmentPatch returns a patch that sets every field of s.
func FullSegmentPatch(s Segment) SegmentPatch {
	s = s.Clone()
	p := SegmentPatch{
		ID:         Ptr(s.ID),
		Start:      Ptr(s.Start),
		Stop:       Ptr(s.Stop),
		Grouping:   Ptr(s.Grouping),
		Spacing:    Ptr(s.Spacing),
		Offset:     Ptr(s.Offset),
		On:         Ptr(s.On),
		Freeze:     Ptr(s.Freeze),
		Brightness: Ptr(s.Brightness),
		CCT:        Ptr(s.CCT),
		Colors:     s.Colors,
		Effect:     Ptr(s.Effect),
		Speed:      Ptr(s.Speed),
		Intensity:  Ptr(s.Intensity),
		Palette:    Ptr(s.Palette),
		Custom1:    Ptr(s.Custom1),
		Custom2:    Ptr(s.Custom2),
		Custom3:    Ptr(s.Custom3),
		Selected:   Ptr(s.Selected),
		Reverse:    Ptr(s.Reverse),
		Mirror:     Ptr(s.Mirror),
	}
	if s.Name != "" {
		p.Name = Ptr(s.Name)
	}
	return p
}

// DeleteSegmentPatch returns the patch that makes the firmware drop segment id.
func DeleteSegmentPatch(id int) SegmentPatch {
	return SegmentPatch{ID: Ptr(id), Stop: Ptr(0)}
}
