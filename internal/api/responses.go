package api

import (
	"github.com/dokzlo13/wledsync/internal/channel"
	"github.com/dokzlo13/wledsync/internal/label"
	"github.com/dokzlo13/wledsync/internal/segments"
	"github.com/dokzlo13/wledsync/internal/segstore"
	"github.com/dokzlo13/wledsync/internal/wled"
)

type errorResponse struct {
	Error string       `json:"error"`
	Gap   *gapResponse `json:"gap,omitempty"`
}

type gapResponse struct {
	Start int `json:"start"`
	Stop  int `json:"stop"`
}

type controllerResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Status  string `json:"status"`
	View    string `json:"view"`
}

type labelResponse struct {
	Segment int    `json:"segment"`
	Text    string `json:"text"`
	Tooltip string `json:"tooltip,omitempty"`
	ZoneID  string `json:"zone,omitempty"`
}

type stateResponse struct {
	Controller  string            `json:"controller"`
	Version     uint64            `json:"version"`
	Status      string            `json:"status"`
	View        string            `json:"view"`
	Unconfirmed bool              `json:"unconfirmed"`
	Error       string            `json:"error,omitempty"`
	State       *wled.DeviceState `json:"state,omitempty"`
	Info        *wled.Info        `json:"info,omitempty"`
	Labels      []labelResponse   `json:"labels,omitempty"`
}

type rangeResponse struct {
	Start   int           `json:"start"`
	Stop    int           `json:"stop"`
	Gap     bool          `json:"gap"`
	Segment *wled.Segment `json:"segment,omitempty"`
	Label   string        `json:"label,omitempty"`
}

type zoneRangeResponse struct {
	Start int                     `json:"start"`
	Stop  int                     `json:"stop"`
	Gap   bool                    `json:"gap"`
	Zone  *segstore.GlobalSegment `json:"zone,omitempty"`
}

type zonesResponse struct {
	Segments []segstore.GlobalSegment `json:"segments"`
	Groups   []segstore.Group         `json:"groups"`
	Ranges   []zoneRangeResponse      `json:"ranges,omitempty"`
}

type segmentsResponse struct {
	Segments []wled.Segment `json:"segments"`
}

func newControllerResponse(c *Controller) controllerResponse {
	snap := c.Channel.Snapshot()
	return controllerResponse{
		ID:      c.ID,
		Name:    c.Name,
		Address: c.Address,
		Status:  snap.Status.String(),
		View:    snap.View().String(),
	}
}

func newStateResponse(id string, snap channel.Snapshot, zones []segstore.GlobalSegment, labelLen int) stateResponse {
	resp := stateResponse{
		Controller:  id,
		Version:     snap.Version,
		Status:      snap.Status.String(),
		View:        snap.View().String(),
		Unconfirmed: snap.Unconfirmed,
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	if !snap.HasState {
		return resp
	}

	state := snap.State
	info := snap.Info
	resp.State = &state
	resp.Info = &info
	for _, seg := range state.Segments {
		l := label.For(seg, zones, labelLen)
		resp.Labels = append(resp.Labels, labelResponse{
			Segment: seg.ID,
			Text:    l.Text,
			Tooltip: l.Tooltip,
			ZoneID:  l.ZoneID,
		})
	}
	return resp
}

func newRangesResponse(snap channel.Snapshot, zones []segstore.GlobalSegment, labelLen int) []rangeResponse {
	total := snap.Info.LEDs.Count
	items := segments.RangeItems(snap.State.Segments, total)

	out := make([]rangeResponse, 0, len(items))
	for _, it := range items {
		r := rangeResponse{Start: it.Start, Stop: it.Stop, Gap: it.Gap}
		if !it.Gap {
			seg := it.Item
			r.Segment = &seg
			r.Label = label.For(seg, zones, labelLen).Text
		}
		out = append(out, r)
	}
	return out
}

func newZonesResponse(defs segstore.Definitions, ledCount int) zonesResponse {
	resp := zonesResponse{
		Segments: defs.Segments,
		Groups:   defs.Groups,
	}
	if resp.Segments == nil {
		resp.Segments = []segstore.GlobalSegment{}
	}
	if resp.Groups == nil {
		resp.Groups = []segstore.Group{}
	}
	if ledCount > 0 {
		for _, it := range segments.RangeItems(defs.Segments, ledCount) {
			r := zoneRangeResponse{Start: it.Start, Stop: it.Stop, Gap: it.Gap}
			if !it.Gap {
				zone := it.Item
				r.Zone = &zone
			}
			resp.Ranges = append(resp.Ranges, r)
		}
	}
	return resp
}
