package api

import (
	"net/http"
	"strconv"

	"github.com/dokzlo13/wledsync/internal/channel"
	"github.com/dokzlo13/wledsync/internal/editor"
	"github.com/dokzlo13/wledsync/internal/wled"
)

// edit runs fn in an editing session over the controller's current layout,
// including segments created or deleted by updates not yet confirmed. Every
// successful step is queued on the channel as the difference to the previous
// step. Edits on one controller run one at a time so each sees the ids the
// previous one allocated.
func edit(c *Controller, fn func(s *editor.Session) error) ([]wled.Segment, error) {
	c.editMu.Lock()
	defer c.editMu.Unlock()

	snap := c.Channel.Snapshot()
	if !snap.HasState {
		return nil, channel.ErrNoState
	}

	prev := snap.Layout
	session := editor.NewSession(prev, func(next []wled.Segment) {
		c.Channel.QueueUpdate(editor.Diff(prev, next))
		prev = next
	})
	if err := fn(session); err != nil {
		return nil, err
	}
	return session.Segments(), nil
}

func (s *Server) writeEdit(w http.ResponseWriter, c *Controller, fn func(s *editor.Session) error) {
	segs, err := edit(c, fn)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, segmentsResponse{Segments: segs})
}

func segmentID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("seg"))
	if err != nil || id < 0 || id >= wled.MaxSegments {
		writeError(w, http.StatusBadRequest, "segment id must be between 0 and 9")
		return 0, false
	}
	return id, true
}

func (s *Server) handleUpdateSegment(w http.ResponseWriter, r *http.Request, c *Controller) {
	id, ok := segmentID(w, r)
	if !ok {
		return
	}
	var patch wled.SegmentPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	s.writeEdit(w, c, func(es *editor.Session) error {
		return es.UpdateField(id, patch)
	})
}

func (s *Server) handleDeleteSegment(w http.ResponseWriter, r *http.Request, c *Controller) {
	id, ok := segmentID(w, r)
	if !ok {
		return
	}
	s.writeEdit(w, c, func(es *editor.Session) error {
		return es.Delete(id)
	})
}

type splitSegmentRequest struct {
	At int `json:"at"`
}

func (s *Server) handleSplitSegment(w http.ResponseWriter, r *http.Request, c *Controller) {
	id, ok := segmentID(w, r)
	if !ok {
		return
	}
	var req splitSegmentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.writeEdit(w, c, func(es *editor.Session) error {
		return es.Split(id, req.At)
	})
}

type mergeSegmentsRequest struct {
	Keep   int `json:"keep"`
	Remove int `json:"remove"`
}

func (s *Server) handleMergeSegments(w http.ResponseWriter, r *http.Request, c *Controller) {
	var req mergeSegmentsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.writeEdit(w, c, func(es *editor.Session) error {
		return es.MergeTwo(req.Keep, req.Remove)
	})
}

type gapRequest struct {
	Start int `json:"start"`
	Stop  int `json:"stop"`
	// Direction is "up" (give the gap to the segment below) or "down".
	Direction string `json:"direction,omitempty"`
}

func (s *Server) handleConvertGap(w http.ResponseWriter, r *http.Request, c *Controller) {
	var req gapRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.writeEdit(w, c, func(es *editor.Session) error {
		return es.ConvertGapToSegment(req.Start, req.Stop)
	})
}

func (s *Server) handleMergeGap(w http.ResponseWriter, r *http.Request, c *Controller) {
	var req gapRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var op func(es *editor.Session) error
	switch req.Direction {
	case "up", "":
		op = func(es *editor.Session) error { return es.MergeGapUp(req.Start, req.Stop) }
	case "down":
		op = func(es *editor.Session) error { return es.MergeGapDown(req.Start, req.Stop) }
	default:
		writeError(w, http.StatusBadRequest, "direction must be up or down")
		return
	}
	s.writeEdit(w, c, op)
}
