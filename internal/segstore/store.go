// Package segstore keeps the user-defined zones and zone groups of every
// controller.
//
// The local bucket is the authoritative copy. Every change is also pushed, on
// a best-effort basis, to a file on the controller itself so the definitions
// survive losing the local database.
package segstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wledsync/internal/storage/kv"
)

var (
	ErrSegmentNotFound    = errors.New("zone not found")
	ErrGroupNotFound      = errors.New("group not found")
	ErrInvalidPosition    = errors.New("split position would create an empty zone")
	ErrSameSegment        = errors.New("cannot merge a zone with itself")
	ErrEmptyName          = errors.New("name must not be empty")
	ErrAlreadyInitialized = errors.New("zones already defined")
	ErrInvalidRange       = errors.New("invalid range")
	ErrNoRemote           = errors.New("no remote file store configured")
)

// Store holds the definitions of all controllers. All writes are serialised;
// subscribers are notified synchronously after each successful write.
type Store struct {
	bucket kv.Bucket
	syncer *Syncer
	newID  func() string

	mu    sync.Mutex
	cache map[string]Definitions

	// notifyMu keeps notifications and remote writes in commit order
	notifyMu sync.Mutex

	subsMu  sync.Mutex
	subs    map[int]func(controllerID string, defs Definitions)
	nextSub int
}

// New creates a store persisting into bucket. syncer may be nil when the
// definitions should stay local.
func New(bucket kv.Bucket, syncer *Syncer) *Store {
	return &Store{
		bucket: bucket,
		syncer: syncer,
		newID:  uuid.NewString,
		cache:  make(map[string]Definitions),
		subs:   make(map[int]func(string, Definitions)),
	}
}

// Subscribe registers fn for every change of any controller's definitions.
// Callbacks run in commit order and must not write to the store.
func (s *Store) Subscribe(fn func(controllerID string, defs Definitions)) (unsubscribe func()) {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// Snapshot returns a copy of the definitions of controllerID.
func (s *Store) Snapshot(controllerID string) Definitions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(controllerID).Clone()
}

// Controllers returns the ids of all controllers with stored definitions.
func (s *Store) Controllers() ([]string, error) {
	return s.bucket.Keys()
}

// Initialize defines a single zone covering the whole strip. It refuses to
// overwrite existing zones.
func (s *Store) Initialize(controllerID, name string, ledCount int) (GlobalSegment, error) {
	if ledCount <= 0 {
		return GlobalSegment{}, ErrInvalidRange
	}
	if strings.TrimSpace(name) == "" {
		name = "Full strip"
	}

	var created GlobalSegment
	err := s.mutate(controllerID, func(d *Definitions) error {
		if len(d.Segments) > 0 {
			return ErrAlreadyInitialized
		}
		created = GlobalSegment{
			ID:           s.newID(),
			ControllerID: controllerID,
			Start:        0,
			Stop:         ledCount,
			Name:         name,
		}
		d.Segments = append(d.Segments, created)
		return nil
	})
	return created, err
}

// SplitAt cuts a zone in two at position. The left part keeps the id and
// name; the right part gets a new id and the name "<name> (2)".
func (s *Store) SplitAt(controllerID, segmentID string, position int) (left, right GlobalSegment, err error) {
	err = s.mutate(controllerID, func(d *Definitions) error {
		i := d.segmentIndex(segmentID)
		if i < 0 {
			return fmt.Errorf("split %s: %w", segmentID, ErrSegmentNotFound)
		}
		seg := d.Segments[i]
		if position <= seg.Start || position >= seg.Stop {
			return fmt.Errorf("split %q [%d,%d) at %d: %w", seg.Name, seg.Start, seg.Stop, position, ErrInvalidPosition)
		}

		right = seg
		right.ID = s.newID()
		right.Start = position
		right.Name = seg.Name + " (2)"

		left = seg
		left.Stop = position

		d.Segments[i] = left
		d.Segments = append(d.Segments, right)
		d.sortSegments()
		return nil
	})
	return left, right, err
}

// MergeByIDs joins two touching zones. The zone that starts first survives
// and keeps its group; an empty newName keeps its name.
func (s *Store) MergeByIDs(controllerID, id1, id2, newName string) (GlobalSegment, error) {
	var merged GlobalSegment
	err := s.mutate(controllerID, func(d *Definitions) error {
		if id1 == id2 {
			return ErrSameSegment
		}
		a, okA := d.Segment(id1)
		b, okB := d.Segment(id2)
		if !okA || !okB {
			return fmt.Errorf("merge %s with %s: %w", id1, id2, ErrSegmentNotFound)
		}

		first, second := a, b
		if b.Start < a.Start {
			first, second = b, a
		}
		if a.Stop != b.Start && b.Stop != a.Start {
			return &NotAdjacentError{GapStart: first.Stop, GapStop: second.Start}
		}

		merged = first
		merged.Stop = second.Stop
		if name := strings.TrimSpace(newName); name != "" {
			merged.Name = name
		}

		out := d.Segments[:0]
		for _, seg := range d.Segments {
			switch seg.ID {
			case first.ID:
				out = append(out, merged)
			case second.ID:
			default:
				out = append(out, seg)
			}
		}
		d.Segments = out
		return nil
	})
	return merged, err
}

// Rename changes the display name of a zone.
func (s *Store) Rename(controllerID, segmentID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	return s.mutate(controllerID, func(d *Definitions) error {
		i := d.segmentIndex(segmentID)
		if i < 0 {
			return ErrSegmentNotFound
		}
		d.Segments[i].Name = name
		return nil
	})
}

// AssignToGroup moves a zone into groupID. An empty groupID removes the zone
// from its group.
func (s *Store) AssignToGroup(controllerID, segmentID, groupID string) error {
	return s.mutate(controllerID, func(d *Definitions) error {
		i := d.segmentIndex(segmentID)
		if i < 0 {
			return ErrSegmentNotFound
		}
		if groupID != "" && d.groupIndex(groupID) < 0 {
			return ErrGroupNotFound
		}
		d.Segments[i].GroupID = groupID
		return nil
	})
}

// CreateGroup adds an empty group.
func (s *Store) CreateGroup(controllerID, name string) (Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Group{}, ErrEmptyName
	}
	group := Group{ID: s.newID(), ControllerID: controllerID, Name: name}
	err := s.mutate(controllerID, func(d *Definitions) error {
		d.Groups = append(d.Groups, group)
		return nil
	})
	return group, err
}

// RenameGroup changes the name of a group.
func (s *Store) RenameGroup(controllerID, groupID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	return s.mutate(controllerID, func(d *Definitions) error {
		i := d.groupIndex(groupID)
		if i < 0 {
			return ErrGroupNotFound
		}
		d.Groups[i].Name = name
		return nil
	})
}

// DeleteGroup removes a group. Its zones stay, without a group.
func (s *Store) DeleteGroup(controllerID, groupID string) error {
	return s.mutate(controllerID, func(d *Definitions) error {
		i := d.groupIndex(groupID)
		if i < 0 {
			return ErrGroupNotFound
		}
		d.Groups = append(d.Groups[:i], d.Groups[i+1:]...)
		for j := range d.Segments {
			if d.Segments[j].GroupID == groupID {
				d.Segments[j].GroupID = ""
			}
		}
		return nil
	})
}

// Reset drops every zone and group of controllerID, locally and on the controller.
func (s *Store) Reset(controllerID string) error {
	return s.mutate(controllerID, func(d *Definitions) error {
		*d = Definitions{}
		return nil
	})
}

// Pull restores the definitions from the controller's file when nothing is
// stored locally. It reports whether anything was restored; a missing or
// unreadable file is not an error.
func (s *Store) Pull(ctx context.Context, controllerID string) (bool, error) {
	if s.syncer == nil {
		return false, ErrNoRemote
	}
	if !s.Snapshot(controllerID).IsEmpty() {
		return false, nil
	}

	remote, err := s.syncer.Fetch(ctx, controllerID)
	if err != nil {
		return false, err
	}
	if remote.IsEmpty() {
		return false, nil
	}

	restored := false
	err = s.apply(controllerID, func(d *Definitions) error {
		// A local write may have happened while fetching
		if !d.IsEmpty() {
			return nil
		}
		*d = normalize(controllerID, remote)
		restored = true
		return nil
	}, false)
	if restored {
		log.Info().
			Str("controller", controllerID).
			Int("zones", len(remote.Segments)).
			Int("groups", len(remote.Groups)).
			Msg("Restored zone definitions from controller")
	}
	return restored, err
}

func (s *Store) mutate(controllerID string, fn func(d *Definitions) error) error {
	return s.apply(controllerID, fn, true)
}

// apply runs fn on a working copy and, when it succeeds, persists the result,
// notifies subscribers and optionally schedules the remote write. Nothing
// changes when fn or the local write fails.
func (s *Store) apply(controllerID string, fn func(d *Definitions) error, pushRemote bool) error {
	s.mu.Lock()
	working := s.loadLocked(controllerID).Clone()
	if err := fn(&working); err != nil {
		s.mu.Unlock()
		return err
	}
	working.Version = definitionsVersion

	data, err := json.Marshal(working)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to encode definitions: %w", err)
	}
	if err := s.bucket.Put(controllerID, data); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to persist definitions: %w", err)
	}
	s.cache[controllerID] = working

	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	s.notify(controllerID, working)
	if pushRemote && s.syncer != nil {
		s.syncer.Enqueue(controllerID, working.Clone())
	}
	return nil
}

// loadLocked reads through the cache. Undecodable data is treated as empty;
// it stays in the bucket until the next write or an explicit Reset.
func (s *Store) loadLocked(controllerID string) Definitions {
	if d, ok := s.cache[controllerID]; ok {
		return d
	}

	var d Definitions
	data, ok, err := s.bucket.Get(controllerID)
	switch {
	case err != nil:
		log.Error().Err(err).Str("controller", controllerID).Msg("Failed to read zone definitions")
		return Definitions{}
	case !ok:
	default:
		if err := json.Unmarshal(data, &d); err != nil {
			log.Warn().Err(err).Str("controller", controllerID).Msg("Stored zone definitions are corrupted, starting empty")
			d = Definitions{}
		}
	}
	d = normalize(controllerID, d)
	s.cache[controllerID] = d
	return d
}

func (s *Store) notify(controllerID string, d Definitions) {
	s.subsMu.Lock()
	subs := make([]func(string, Definitions), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range subs {
		fn(controllerID, d.Clone())
	}
}

// normalize drops entries that cannot be valid and pins ownership to
// controllerID, so foreign or damaged data never reaches callers.
func normalize(controllerID string, d Definitions) Definitions {
	out := Definitions{Version: definitionsVersion}
	groups := make(map[string]bool, len(d.Groups))
	for _, g := range d.Groups {
		if g.ID == "" {
			continue
		}
		g.ControllerID = controllerID
		groups[g.ID] = true
		out.Groups = append(out.Groups, g)
	}
	for _, seg := range d.Segments {
		if seg.ID == "" || seg.Start < 0 || seg.Start >= seg.Stop {
			continue
		}
		seg.ControllerID = controllerID
		if seg.GroupID != "" && !groups[seg.GroupID] {
			seg.GroupID = ""
		}
		out.Segments = append(out.Segments, seg)
	}
	out.sortSegments()
	return out
}
