// Package merge folds partial WLED state updates into snapshots and into each other.
//
// Segment patches are matched to their target by id first; only a patch
// without an id falls back to its position in the list. When merging into a
// full snapshot an unknown id is dropped: the controller decides which
// segments exist, the merger only reconciles values.
package merge

import (
	"slices"

	"github.com/dokzlo13/wledsync/internal/wled"
)

// State applies patch on top of base and returns the result. base is not modified.
func State(base wled.DeviceState, patch wled.StatePatch) wled.DeviceState {
	out := base.Clone()

	setBool(&out.On, patch.On)
	setInt(&out.Brightness, patch.Brightness)
	setInt(&out.Transition, patch.Transition)
	setInt(&out.Preset, patch.Preset)
	setInt(&out.Playlist, patch.Playlist)
	setInt(&out.LiveOverride, patch.LiveOverride)
	setInt(&out.MainSegment, patch.MainSegment)

	if nl := patch.NightLight; nl != nil {
		setBool(&out.NightLight.On, nl.On)
		setInt(&out.NightLight.Duration, nl.Duration)
		setInt(&out.NightLight.Mode, nl.Mode)
		setInt(&out.NightLight.TargetBrightness, nl.TargetBrightness)
		setInt(&out.NightLight.Remaining, nl.Remaining)
	}
	if udp := patch.UDPSync; udp != nil {
		setBool(&out.UDPSync.Send, udp.Send)
		setBool(&out.UDPSync.Receive, udp.Receive)
		setInt(&out.UDPSync.SendGroup, udp.SendGroup)
		setInt(&out.UDPSync.ReceiveGroup, udp.ReceiveGroup)
	}

	for i, sp := range patch.Segments {
		idx := targetIndex(len(out.Segments), sp.ID, i, func(j int) int { return out.Segments[j].ID })
		if idx < 0 {
			continue
		}
		out.Segments[idx] = applySegment(out.Segments[idx], sp)
	}

	return out
}

// Layout is State that also follows segment creation and deletion: a patch
// for an unknown id with a non-empty range adds that segment, and a patch
// collapsing a segment's range removes it. Segments stay ordered by id, as the
// controller lists them.
func Layout(base wled.DeviceState, patch wled.StatePatch) wled.DeviceState {
	out := State(base, patch)

	for _, sp := range patch.Segments {
		if sp.ID == nil {
			continue
		}
		if _, ok := out.SegmentByID(*sp.ID); ok {
			continue
		}
		seg := applySegment(wled.Segment{ID: *sp.ID}, sp)
		if seg.Stop > seg.Start {
			out.Segments = append(out.Segments, seg)
		}
	}

	kept := out.Segments[:0]
	for _, seg := range out.Segments {
		if seg.Stop > seg.Start {
			kept = append(kept, seg)
		}
	}
	out.Segments = kept
	slices.SortStableFunc(out.Segments, func(a, b wled.Segment) int {
		return a.ID - b.ID
	})
	return out
}

// Patch combines two partial states: fields of patch win, everything else is
// kept from base. Segment patches that match nothing in base are appended so
// that intents for different segments accumulate side by side.
//
// A segment patch without an id addresses a position in base.Segments, which
// is the accumulated patch list and not the controller's segment list. Callers
// coalescing intents for a device should give every segment patch an id.
func Patch(base, patch wled.StatePatch) wled.StatePatch {
	out := clonePatch(base)

	overrideBool(&out.On, patch.On)
	overrideInt(&out.Brightness, patch.Brightness)
	overrideInt(&out.Transition, patch.Transition)
	overrideInt(&out.Preset, patch.Preset)
	overrideInt(&out.Playlist, patch.Playlist)
	overrideInt(&out.LiveOverride, patch.LiveOverride)
	overrideInt(&out.MainSegment, patch.MainSegment)
	overrideInt(&out.PresetSave, patch.PresetSave)
	overrideBool(&out.Verbose, patch.Verbose)
	if patch.PresetName != nil {
		out.PresetName = wled.Ptr(*patch.PresetName)
	}

	if nl := patch.NightLight; nl != nil {
		if out.NightLight == nil {
			out.NightLight = &wled.NightLightPatch{}
		}
		overrideBool(&out.NightLight.On, nl.On)
		overrideInt(&out.NightLight.Duration, nl.Duration)
		overrideInt(&out.NightLight.Mode, nl.Mode)
		overrideInt(&out.NightLight.TargetBrightness, nl.TargetBrightness)
		overrideInt(&out.NightLight.Remaining, nl.Remaining)
	}
	if udp := patch.UDPSync; udp != nil {
		if out.UDPSync == nil {
			out.UDPSync = &wled.UDPSyncPatch{}
		}
		overrideBool(&out.UDPSync.Send, udp.Send)
		overrideBool(&out.UDPSync.Receive, udp.Receive)
		overrideInt(&out.UDPSync.SendGroup, udp.SendGroup)
		overrideInt(&out.UDPSync.ReceiveGroup, udp.ReceiveGroup)
	}

	if len(out.Segments) == 0 {
		out.Segments = cloneSegmentPatches(patch.Segments)
		return out
	}

	for i, sp := range patch.Segments {
		idx := targetIndex(len(out.Segments), sp.ID, i, func(j int) int {
			if out.Segments[j].ID == nil {
				return -1
			}
			return *out.Segments[j].ID
		})
		if idx < 0 {
			out.Segments = append(out.Segments, cloneSegmentPatch(sp))
			continue
		}
		out.Segments[idx] = mergeSegmentPatch(out.Segments[idx], sp)
	}

	return out
}

// targetIndex resolves which element a segment patch addresses: by id when the
// patch has one, otherwise by its position. Returns -1 when nothing matches.
func targetIndex(n int, id *int, position int, idAt func(int) int) int {
	if id != nil {
		for j := 0; j < n; j++ {
			if idAt(j) == *id {
				return j
			}
		}
		return -1
	}
	if position < n {
		return position
	}
	return -1
}

func applySegment(seg wled.Segment, p wled.SegmentPatch) wled.Segment {
	setInt(&seg.Start, p.Start)
	setInt(&seg.Stop, p.Stop)
	setInt(&seg.Grouping, p.Grouping)
	setInt(&seg.Spacing, p.Spacing)
	setInt(&seg.Offset, p.Offset)
	setBool(&seg.On, p.On)
	setBool(&seg.Freeze, p.Freeze)
	setInt(&seg.Brightness, p.Brightness)
	setInt(&seg.CCT, p.CCT)
	setInt(&seg.Effect, p.Effect)
	setInt(&seg.Speed, p.Speed)
	setInt(&seg.Intensity, p.Intensity)
	setInt(&seg.Palette, p.Palette)
	setInt(&seg.Custom1, p.Custom1)
	setInt(&seg.Custom2, p.Custom2)
	setInt(&seg.Custom3, p.Custom3)
	setBool(&seg.Selected, p.Selected)
	setBool(&seg.Reverse, p.Reverse)
	setBool(&seg.Mirror, p.Mirror)
	if p.Name != nil {
		seg.Name = *p.Name
	}
	seg.Colors = mergeColors(seg.Colors, p.Colors)

	// len follows the range, whatever the patch claimed
	seg.Len = seg.Stop - seg.Start
	if seg.Len < 0 {
		seg.Len = 0
	}
	return seg
}

func mergeSegmentPatch(base, p wled.SegmentPatch) wled.SegmentPatch {
	overrideInt(&base.Start, p.Start)
	overrideInt(&base.Stop, p.Stop)
	overrideInt(&base.Len, p.Len)
	overrideInt(&base.Grouping, p.Grouping)
	overrideInt(&base.Spacing, p.Spacing)
	overrideInt(&base.Offset, p.Offset)
	overrideBool(&base.On, p.On)
	overrideBool(&base.Freeze, p.Freeze)
	overrideInt(&base.Brightness, p.Brightness)
	overrideInt(&base.CCT, p.CCT)
	overrideInt(&base.Effect, p.Effect)
	overrideInt(&base.Speed, p.Speed)
	overrideInt(&base.Intensity, p.Intensity)
	overrideInt(&base.Palette, p.Palette)
	overrideInt(&base.Custom1, p.Custom1)
	overrideInt(&base.Custom2, p.Custom2)
	overrideInt(&base.Custom3, p.Custom3)
	overrideBool(&base.Selected, p.Selected)
	overrideBool(&base.Reverse, p.Reverse)
	overrideBool(&base.Mirror, p.Mirror)
	if p.Name != nil {
		base.Name = wled.Ptr(*p.Name)
	}
	if base.ID == nil && p.ID != nil {
		base.ID = wled.Ptr(*p.ID)
	}
	base.Colors = mergeColors(base.Colors, p.Colors)
	return base
}

// mergeColors overlays patch slots on base slots by index. Empty patch slots
// leave the base slot alone.
func mergeColors(base, patch []wled.Color) []wled.Color {
	if len(patch) == 0 {
		return base
	}
	n := len(base)
	if len(patch) > n {
		n = len(patch)
	}
	out := make([]wled.Color, n)
	for i := range out {
		switch {
		case i < len(patch) && len(patch[i]) > 0:
			out[i] = append(wled.Color(nil), patch[i]...)
		case i < len(base):
			out[i] = append(wled.Color{}, base[i]...)
		default:
			out[i] = wled.Color{}
		}
	}
	return out
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func overrideInt(dst **int, v *int) {
	if v != nil {
		*dst = wled.Ptr(*v)
	}
}

func overrideBool(dst **bool, v *bool) {
	if v != nil {
		*dst = wled.Ptr(*v)
	}
}

func clonePatch(p wled.StatePatch) wled.StatePatch {
	out := p
	if p.NightLight != nil {
		nl := *p.NightLight
		out.NightLight = &nl
	}
	if p.UDPSync != nil {
		udp := *p.UDPSync
		out.UDPSync = &udp
	}
	out.Segments = cloneSegmentPatches(p.Segments)
	return out
}

func cloneSegmentPatches(segs []wled.SegmentPatch) []wled.SegmentPatch {
	if segs == nil {
		return nil
	}
	out := make([]wled.SegmentPatch, len(segs))
	for i, s := range segs {
		out[i] = cloneSegmentPatch(s)
	}
	return out
}

func cloneSegmentPatch(s wled.SegmentPatch) wled.SegmentPatch {
	if s.Colors != nil {
		cols := make([]wled.Color, len(s.Colors))
		for i, c := range s.Colors {
			cols[i] = append(wled.Color{}, c...)
		}
		s.Colors = cols
	}
	return s
}
