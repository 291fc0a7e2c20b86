// Package api serves the JSON control API over the live channels and the
// zone store.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wledsync/internal/channel"
	"github.com/dokzlo13/wledsync/internal/editor"
	"github.com/dokzlo13/wledsync/internal/segments"
	"github.com/dokzlo13/wledsync/internal/segstore"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Controller is one controller exposed by the API.
type Controller struct {
	ID      string
	Name    string
	Address string
	Channel *channel.Channel

	editMu sync.Mutex
}

// Server is the HTTP control API.
type Server struct {
	addr        string
	controllers map[string]*Controller
	order       []string
	zones       *segstore.Store
	labelLen    int
	httpServer  *http.Server
}

// NewServer creates a server for controllers. zones may be nil, which
// disables the zone routes.
func NewServer(host string, port int, controllers []*Controller, zones *segstore.Store) *Server {
	s := &Server{
		addr:        fmt.Sprintf("%s:%d", host, port),
		controllers: make(map[string]*Controller, len(controllers)),
		zones:       zones,
		labelLen:    24,
	}
	for _, c := range controllers {
		s.controllers[c.ID] = c
		s.order = append(s.order, c.ID)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /controllers", s.handleListControllers)

	mux.HandleFunc("GET /controllers/{id}/state", s.withController(s.handleGetState))
	mux.HandleFunc("PATCH /controllers/{id}/state", s.withController(s.handlePatchState))
	mux.HandleFunc("POST /controllers/{id}/toggle", s.withController(s.handleToggle))
	mux.HandleFunc("POST /controllers/{id}/brightness", s.withController(s.handleBrightness))
	mux.HandleFunc("POST /controllers/{id}/presets/{preset}", s.withController(s.handlePreset))
	mux.HandleFunc("GET /controllers/{id}/ranges", s.withController(s.handleRanges))

	mux.HandleFunc("PATCH /controllers/{id}/segments/{seg}", s.withController(s.handleUpdateSegment))
	mux.HandleFunc("DELETE /controllers/{id}/segments/{seg}", s.withController(s.handleDeleteSegment))
	mux.HandleFunc("POST /controllers/{id}/segments/{seg}/split", s.withController(s.handleSplitSegment))
	mux.HandleFunc("POST /controllers/{id}/segments/merge", s.withController(s.handleMergeSegments))
	mux.HandleFunc("POST /controllers/{id}/gaps/convert", s.withController(s.handleConvertGap))
	mux.HandleFunc("POST /controllers/{id}/gaps/merge", s.withController(s.handleMergeGap))

	mux.HandleFunc("GET /controllers/{id}/zones", s.withZones(s.handleListZones))
	mux.HandleFunc("POST /controllers/{id}/zones/init", s.withZones(s.handleInitZones))
	mux.HandleFunc("POST /controllers/{id}/zones/split", s.withZones(s.handleSplitZone))
	mux.HandleFunc("POST /controllers/{id}/zones/merge", s.withZones(s.handleMergeZones))
	mux.HandleFunc("POST /controllers/{id}/zones/reset", s.withZones(s.handleResetZones))
	mux.HandleFunc("POST /controllers/{id}/zones/apply", s.withZones(s.handleApplyZones))
	mux.HandleFunc("PUT /controllers/{id}/zones/{zone}/name", s.withZones(s.handleRenameZone))
	mux.HandleFunc("PUT /controllers/{id}/zones/{zone}/group", s.withZones(s.handleAssignGroup))
	mux.HandleFunc("POST /controllers/{id}/groups", s.withZones(s.handleCreateGroup))
	mux.HandleFunc("PUT /controllers/{id}/groups/{group}", s.withZones(s.handleRenameGroup))
	mux.HandleFunc("DELETE /controllers/{id}/groups/{group}", s.withZones(s.handleDeleteGroup))

	return mux
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.addr).Int("controllers", len(s.order)).Msg("Starting control API")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Control API shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type controllerHandler func(w http.ResponseWriter, r *http.Request, c *Controller)

func (s *Server) withController(h controllerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := s.controllers[r.PathValue("id")]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown controller")
			return
		}
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("controller", c.ID).
			Msg("API request")
		h(w, r, c)
	}
}

func (s *Server) withZones(h controllerHandler) http.HandlerFunc {
	return s.withController(func(w http.ResponseWriter, r *http.Request, c *Controller) {
		if s.zones == nil {
			writeError(w, http.StatusNotImplemented, "zone storage disabled")
			return
		}
		h(w, r, c)
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode API response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeOpError maps domain errors to HTTP statuses.
func writeOpError(w http.ResponseWriter, err error) {
	var notAdjacent *segstore.NotAdjacentError
	switch {
	case errors.As(err, &notAdjacent):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: err.Error(),
			Gap:   &gapResponse{Start: notAdjacent.GapStart, Stop: notAdjacent.GapStop},
		})
		return
	case errors.Is(err, segments.ErrSegmentNotFound),
		errors.Is(err, segstore.ErrSegmentNotFound),
		errors.Is(err, segstore.ErrGroupNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, segments.ErrCapacity),
		errors.Is(err, editor.ErrTooManySegments),
		errors.Is(err, segstore.ErrAlreadyInitialized),
		errors.Is(err, channel.ErrNoState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, channel.ErrClosed),
		errors.Is(err, channel.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, segments.ErrSameSegment),
		errors.Is(err, segments.ErrNoNeighbour),
		errors.Is(err, segments.ErrInvalidSplit),
		errors.Is(err, segments.ErrInvalidRange),
		errors.Is(err, segstore.ErrSameSegment),
		errors.Is(err, segstore.ErrInvalidPosition),
		errors.Is(err, segstore.ErrInvalidRange),
		errors.Is(err, segstore.ErrEmptyName),
		errors.Is(err, channel.ErrInvalidPreset):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("API operation failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
