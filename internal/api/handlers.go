package api

import (
	"net/http"
	"strconv"

	"github.com/dokzlo13/wledsync/internal/channel"
	"github.com/dokzlo13/wledsync/internal/segstore"
	"github.com/dokzlo13/wledsync/internal/wled"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleListControllers(w http.ResponseWriter, r *http.Request) {
	out := make([]controllerResponse, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, newControllerResponse(s.controllers[id]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request, c *Controller) {
	writeJSON(w, http.StatusOK, newStateResponse(c.ID, c.Channel.Snapshot(), s.zoneList(c.ID), s.labelLen))
}

func (s *Server) handlePatchState(w http.ResponseWriter, r *http.Request, c *Controller) {
	var patch wled.StatePatch
	if !decodeBody(w, r, &patch) {
		return
	}
	c.Channel.QueueUpdate(patch)
	s.writeAccepted(w, c)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request, c *Controller) {
	c.Channel.Toggle()
	s.writeAccepted(w, c)
}

type brightnessRequest struct {
	Brightness *int `json:"bri"`
}

func (s *Server) handleBrightness(w http.ResponseWriter, r *http.Request, c *Controller) {
	var req brightnessRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Brightness == nil {
		writeError(w, http.StatusBadRequest, "bri is required")
		return
	}
	c.Channel.SetBrightness(*req.Brightness)
	s.writeAccepted(w, c)
}

type presetRequest struct {
	Save bool   `json:"save"`
	Name string `json:"name"`
}

// handlePreset applies a preset, or saves the current state into it when the
// body asks for it.
func (s *Server) handlePreset(w http.ResponseWriter, r *http.Request, c *Controller) {
	id, err := strconv.Atoi(r.PathValue("preset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "preset must be a number")
		return
	}

	var req presetRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	if req.Save {
		err = c.Channel.SavePreset(id, req.Name)
	} else {
		err = c.Channel.ApplyPreset(id)
	}
	if err != nil {
		writeOpError(w, err)
		return
	}
	s.writeAccepted(w, c)
}

func (s *Server) handleRanges(w http.ResponseWriter, r *http.Request, c *Controller) {
	snap := c.Channel.Snapshot()
	if !snap.HasState {
		writeOpError(w, channel.ErrNoState)
		return
	}
	writeJSON(w, http.StatusOK, newRangesResponse(snap, s.zoneList(c.ID), s.labelLen))
}

func (s *Server) writeAccepted(w http.ResponseWriter, c *Controller) {
	writeJSON(w, http.StatusAccepted, newStateResponse(c.ID, c.Channel.Snapshot(), s.zoneList(c.ID), s.labelLen))
}

func (s *Server) zoneList(controllerID string) []segstore.GlobalSegment {
	if s.zones == nil {
		return nil
	}
	return s.zones.Snapshot(controllerID).Segments
}
