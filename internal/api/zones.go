package api

import (
	"net/http"

	"github.com/dokzlo13/wledsync/internal/channel"
	"github.com/dokzlo13/wledsync/internal/editor"
)

func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request, c *Controller) {
	ledCount := c.Channel.Snapshot().Info.LEDs.Count
	writeJSON(w, http.StatusOK, newZonesResponse(s.zones.Snapshot(c.ID), ledCount))
}

type initZonesRequest struct {
	Name     string `json:"name"`
	LEDCount int    `json:"ledCount"`
}

// handleInitZones defines one zone over the whole strip. The LED count comes
// from the controller unless the request names one.
func (s *Server) handleInitZones(w http.ResponseWriter, r *http.Request, c *Controller) {
	var req initZonesRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	ledCount := req.LEDCount
	if ledCount == 0 {
		snap := c.Channel.Snapshot()
		if !snap.HasState {
			writeOpError(w, channel.ErrNoState)
			return
		}
		ledCount = snap.Info.LEDs.Count
	}

	zone, err := s.zones.Initialize(c.ID, req.Name, ledCount)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, zone)
}

type splitZoneRequest struct {
	Zone     string `json:"zone"`
	Position int    `json:"position"`
}

func (s *Server) handleSplitZone(w http.ResponseWriter, r *http.Request, c *Controller) {
	var req splitZoneRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, _, err := s.zones.SplitAt(c.ID, req.Zone, req.Position); err != nil {
		writeOpError(w, err)
		return
	}
	s.writeZones(w, c)
}

type mergeZonesRequest struct {
	First  string `json:"first"`
	Second string `json:"second"`
	Name   string `json:"name,omitempty"`
}

func (s *Server) handleMergeZones(w http.ResponseWriter, r *http.Request, c *Controller) {
	var req mergeZonesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := s.zones.MergeByIDs(c.ID, req.First, req.Second, req.Name); err != nil {
		writeOpError(w, err)
		return
	}
	s.writeZones(w, c)
}

func (s *Server) handleResetZones(w http.ResponseWriter, r *http.Request, c *Controller) {
	if err := s.zones.Reset(c.ID); err != nil {
		writeOpError(w, err)
		return
	}
	s.writeZones(w, c)
}

// handleApplyZones reconfigures the controller's segments to match the zones.
func (s *Server) handleApplyZones(w http.ResponseWriter, r *http.Request, c *Controller) {
	zones := s.zones.Snapshot(c.ID).Segments
	s.writeEdit(w, c, func(es *editor.Session) error {
		segs, err := editor.Materialize(zones, es.Segments())
		if err != nil {
			return err
		}
		return es.ReplaceAll(segs)
	})
}

type nameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRenameZone(w http.ResponseWriter, r *http.Request, c *Controller) {
	var req nameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.zones.Rename(c.ID, r.PathValue("zone"), req.Name); err != nil {
		writeOpError(w, err)
		return
	}
	s.writeZones(w, c)
}

type assignGroupRequest struct {
	Group string `json:"group"`
}

func (s *Server) handleAssignGroup(w http.ResponseWriter, r *http.Request, c *Controller) {
	var req assignGroupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.zones.AssignToGroup(c.ID, r.PathValue("zone"), req.Group); err != nil {
		writeOpError(w, err)
		return
	}
	s.writeZones(w, c)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request, c *Controller) {
	var req nameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	group, err := s.zones.CreateGroup(c.ID, req.Name)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (s *Server) handleRenameGroup(w http.ResponseWriter, r *http.Request, c *Controller) {
	var req nameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.zones.RenameGroup(c.ID, r.PathValue("group"), req.Name); err != nil {
		writeOpError(w, err)
		return
	}
	s.writeZones(w, c)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request, c *Controller) {
	if err := s.zones.DeleteGroup(c.ID, r.PathValue("group")); err != nil {
		writeOpError(w, err)
		return
	}
	s.writeZones(w, c)
}

func (s *Server) writeZones(w http.ResponseWriter, c *Controller) {
	ledCount := c.Channel.Snapshot().Info.LEDs.Count
	writeJSON(w, http.StatusOK, newZonesResponse(s.zones.Snapshot(c.ID), ledCount))
}
