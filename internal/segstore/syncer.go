package segstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wledsync/internal/wled"
)

// DefaultRemotePath is the file on the controller holding the definitions.
const DefaultRemotePath = "/segments.json"

// RemoteFiles is the file access a controller offers.
type RemoteFiles interface {
	ReadJSONFile(ctx context.Context, path string, v any) error
	WriteJSONFile(ctx context.Context, path string, v any) error
}

// Resolver finds the file access of a controller.
type Resolver func(controllerID string) (RemoteFiles, bool)

// Syncer writes definitions to the controllers in the background. Writes are
// debounced per controller and only the latest definitions are written; a
// failed write is retried on the next retry tick unless newer data arrived.
type Syncer struct {
	resolve       Resolver
	path          string
	debounce      time.Duration
	retryInterval time.Duration

	mu      sync.Mutex
	pending map[string]Definitions
	trigger chan struct{}
}

// NewSyncer creates a syncer writing to path on every controller.
func NewSyncer(resolve Resolver, path string, debounce time.Duration) *Syncer {
	if path == "" {
		path = DefaultRemotePath
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Syncer{
		resolve:       resolve,
		path:          path,
		debounce:      debounce,
		retryInterval: time.Minute,
		pending:       make(map[string]Definitions),
		trigger:       make(chan struct{}, 1),
	}
}

// Enqueue schedules a write of defs, replacing any unwritten earlier version.
func (s *Syncer) Enqueue(controllerID string, defs Definitions) {
	s.mu.Lock()
	s.pending[controllerID] = defs
	s.mu.Unlock()

	select {
	case s.trigger <- struct{}{}:
	default:
		// Already triggered
	}
}

// Pending returns the number of controllers with unwritten definitions.
func (s *Syncer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Fetch reads the definitions stored on a controller. A missing or corrupted
// file yields empty definitions.
func (s *Syncer) Fetch(ctx context.Context, controllerID string) (Definitions, error) {
	remote, ok := s.resolve(controllerID)
	if !ok {
		return Definitions{}, fmt.Errorf("controller %s: %w", controllerID, ErrNoRemote)
	}

	var d Definitions
	err := remote.ReadJSONFile(ctx, s.path, &d)
	switch {
	case err == nil:
		return d, nil
	case errors.Is(err, wled.ErrNotFound):
		log.Debug().Str("controller", controllerID).Str("path", s.path).Msg("No zone file on controller yet")
		return Definitions{}, nil
	case ctx.Err() != nil:
		return Definitions{}, err
	default:
		log.Warn().Err(err).Str("controller", controllerID).Str("path", s.path).Msg("Zone file on controller is unreadable, ignoring")
		return Definitions{}, nil
	}
}

// Run writes pending definitions until ctx is done, then makes one last
// attempt with a short timeout.
func (s *Syncer) Run(ctx context.Context) error {
	log.Info().Str("path", s.path).Dur("debounce", s.debounce).Msg("Zone syncer started")

	retry := time.NewTicker(s.retryInterval)
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			log.Info().Msg("Zone syncer stopped")
			return nil
		case <-s.trigger:
			// Let a burst of edits settle
			select {
			case <-ctx.Done():
				s.drain()
				return nil
			case <-time.After(s.debounce):
			}
			s.writeAll(ctx)
		case <-retry.C:
			if s.Pending() > 0 {
				s.writeAll(ctx)
			}
		}
	}
}

func (s *Syncer) drain() {
	if s.Pending() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.writeAll(ctx)
}

func (s *Syncer) writeAll(ctx context.Context) {
	s.mu.Lock()
	batch := s.pending
	s.pending = make(map[string]Definitions)
	s.mu.Unlock()

	for controllerID, defs := range batch {
		if err := s.write(ctx, controllerID, defs); err != nil {
			log.Warn().Err(err).Str("controller", controllerID).Msg("Failed to write zone file, will retry")
			s.mu.Lock()
			if _, newer := s.pending[controllerID]; !newer {
				s.pending[controllerID] = defs
			}
			s.mu.Unlock()
		}
	}
}

func (s *Syncer) write(ctx context.Context, controllerID string, defs Definitions) error {
	remote, ok := s.resolve(controllerID)
	if !ok {
		// Controller no longer configured; nothing to retry
		log.Debug().Str("controller", controllerID).Msg("Dropping zone write for unknown controller")
		return nil
	}
	if err := remote.WriteJSONFile(ctx, s.path, defs); err != nil {
		return err
	}
	log.Debug().Str("controller", controllerID).Int("zones", len(defs.Segments)).Msg("Zone file written")
	return nil
}
