// Package channel keeps a live, optimistic mirror of one controller's state.
//
// The published state is built from three layers: the state confirmed by the
// controller, the patch currently being sent, and the intents still waiting in
// the coalescer. Pushes only ever touch the confirmed layer; local intents
// only ever touch the upper two.
package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/wledsync/internal/coalesce"
	"github.com/dokzlo13/wledsync/internal/merge"
	"github.com/dokzlo13/wledsync/internal/segments"
	"github.com/dokzlo13/wledsync/internal/wled"
)

var (
	// ErrClosed is returned by operations on a closed channel.
	ErrClosed = errors.New("channel closed")
	// ErrNoState is returned when an operation needs a state that was never fetched.
	ErrNoState = errors.New("no state received yet")
	// ErrNotConnected is returned when a direct send is impossible.
	ErrNotConnected = errors.New("controller not connected")
	// ErrInvalidPreset is returned for preset ids outside 1..250.
	ErrInvalidPreset = errors.New("preset id must be between 1 and 250")
)

// Transport is the controller connection a channel needs.
type Transport interface {
	FullState(ctx context.Context) (*wled.FullState, error)
	SendPatch(ctx context.Context, patch wled.StatePatch) error
	Subscribe(ctx context.Context, h wled.Handlers) (unsubscribe func())
}

// Config tunes a channel.
type Config struct {
	CoalesceInterval time.Duration
	RateLimit        float64 // sends per second, 0 = unlimited
	RequestTimeout   time.Duration
	RetryDelay       time.Duration // wait before resyncing after a failed send
}

func (c Config) withDefaults() Config {
	if c.CoalesceInterval <= 0 {
		c.CoalesceInterval = coalesce.DefaultInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// Channel owns the connection to one controller.
type Channel struct {
	id        string
	transport Transport
	config    Config
	limiter   *rate.Limiter
	coalescer *coalesce.Coalescer

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()

	mu         sync.Mutex
	status     Status
	connected  bool
	closed     bool
	hasState   bool
	confirmed  wled.DeviceState
	info       wled.Info
	inflight   *wled.StatePatch
	published  wled.DeviceState
	layout     []wled.Segment
	lastErr    error
	version    uint64
	recovering bool

	sendMu sync.Mutex

	subsMu  sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
}

// New creates a channel for the controller id. Nothing happens on the wire
// until Start.
func New(id string, transport Transport, config Config) *Channel {
	config = config.withDefaults()

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	c := &Channel{
		id:        id,
		transport: transport,
		config:    config,
		limiter:   rate.NewLimiter(limit, 1),
		status:    StatusConnecting,
		subs:      make(map[int]func(Snapshot)),
	}
	c.coalescer = coalesce.New(config.CoalesceInterval, c.flush)
	// Nothing goes out before the first full state.
	c.coalescer.Hold()
	return c
}

// ID returns the controller id.
func (c *Channel) ID() string {
	return c.id
}

// Start subscribes to the controller's push stream. The stream reconnects on
// its own until Close or ctx is done.
func (c *Channel) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.unsubscribe = c.transport.Subscribe(c.ctx, wled.Handlers{
		OnConnecting: c.onConnecting,
		OnOpen:       c.onOpen,
		OnPush:       c.onPush,
		OnError:      c.onError,
		OnClose:      c.onClose,
	})
	log.Info().Str("controller", c.id).Msg("Channel started")
}

// Subscribe registers fn for every published snapshot. Callbacks run
// synchronously on the goroutine that caused the change; Version orders them.
func (c *Channel) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subsMu.Unlock()

	return func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

// Snapshot returns the current state.
func (c *Channel) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// QueueUpdate applies patch to the published state before returning and
// schedules it for sending. Transport problems never surface here: they show
// up as a status change, and the intent is kept for the next connection.
func (c *Channel) QueueUpdate(patch wled.StatePatch) {
	if patch.IsEmpty() {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		log.Debug().Str("controller", c.id).Msg("Dropping update on closed channel")
		return
	}
	c.coalescer.Add(c.resolveIDsLocked(patch))
	snap := c.recomputeLocked()
	c.mu.Unlock()

	c.publish(snap)
}

// Toggle flips the power state as currently shown.
func (c *Channel) Toggle() {
	c.mu.Lock()
	on := c.published.On
	c.mu.Unlock()
	c.QueueUpdate(wled.StatePatch{On: wled.Ptr(!on)})
}

// SetBrightness sets the global brightness, clamped to 0..255.
func (c *Channel) SetBrightness(v int) {
	v = max(0, min(255, v))
	c.QueueUpdate(wled.StatePatch{Brightness: wled.Ptr(v)})
}

// ApplyPreset activates a saved preset.
func (c *Channel) ApplyPreset(id int) error {
	if id < 1 || id > 250 {
		return ErrInvalidPreset
	}
	c.QueueUpdate(wled.StatePatch{Preset: wled.Ptr(id)})
	return nil
}

// SavePreset stores the current state as preset id. The segment layout is
// repaired first so an intermediate editing state is never saved.
func (c *Channel) SavePreset(id int, name string) error {
	if id < 1 || id > 250 {
		return ErrInvalidPreset
	}

	c.mu.Lock()
	if !c.hasState {
		c.mu.Unlock()
		return ErrNoState
	}
	current := wled.CloneSegments(c.published.Segments)
	ledCount := c.info.LEDs.Count
	c.mu.Unlock()

	if ledCount <= 0 {
		ledCount = maxStop(current)
	}
	repaired := segments.Repair(current, ledCount)

	patch := wled.StatePatch{
		Segments:   segments.Diff(current, repaired),
		PresetSave: wled.Ptr(id),
	}
	if name != "" {
		patch.PresetName = wled.Ptr(name)
	}
	if n := len(current) - len(repaired); n > 0 {
		log.Info().Str("controller", c.id).Int("dropped", n).Msg("Repaired segment layout before saving preset")
	}
	c.QueueUpdate(patch)
	return nil
}

// Close stops the stream and drops every unsent intent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.status = StatusClosed
	c.coalescer.Close()
	if dropped, ok := c.coalescer.Cancel(); ok {
		log.Debug().Str("controller", c.id).Interface("patch", dropped).Msg("Discarded pending update on close")
	}
	snap := c.recomputeLocked()
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.publish(snap)
	log.Info().Str("controller", c.id).Msg("Channel closed")
}

// CloseWithRevert drops pending intents, sends patch as the last message and
// closes the channel. The channel is closed even when the send fails.
func (c *Channel) CloseWithRevert(ctx context.Context, patch wled.StatePatch) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.coalescer.Hold()
	c.coalescer.Cancel()
	open := c.status == StatusOpen
	c.mu.Unlock()

	var err error
	if open {
		err = c.send(ctx, patch)
	} else {
		err = ErrNotConnected
	}
	c.Close()
	return err
}

// resolveIDsLocked gives segment intents without an id the id of the segment
// at that position in the published state. The coalescer matches by id, so a
// positional intent must not meet a differently ordered accumulated patch.
func (c *Channel) resolveIDsLocked(patch wled.StatePatch) wled.StatePatch {
	resolved := false
	for i, sp := range patch.Segments {
		if sp.ID == nil && i < len(c.published.Segments) {
			if !resolved {
				patch.Segments = append([]wled.SegmentPatch(nil), patch.Segments...)
				resolved = true
			}
			patch.Segments[i].ID = wled.Ptr(c.published.Segments[i].ID)
		}
	}
	return patch
}

// flush is the coalescer callback: one call per tick, never concurrent.
func (c *Channel) flush(patch wled.StatePatch) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.status != StatusOpen {
		c.coalescer.Requeue(patch)
		c.mu.Unlock()
		return
	}
	c.inflight = &patch
	ctx := c.ctx
	c.mu.Unlock()

	err := c.send(ctx, patch)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	refetch := false
	if err != nil {
		log.Warn().Err(err).Str("controller", c.id).Msg("Failed to send update, will retry")
		c.coalescer.Requeue(patch)
		c.inflight = nil
		c.lastErr = err
		c.status = StatusErrored
		c.coalescer.Hold()
		c.scheduleRecoveryLocked()
	} else {
		// Acknowledged: the next push overrides if the controller adjusted
		// anything. Created and deleted segments are kept until the refetch
		// so ids are not handed out twice.
		refetch = reshapes(c.confirmed, patch)
		c.confirmed = merge.Layout(c.confirmed, patch)
		c.inflight = nil
	}
	snap := c.recomputeLocked()
	c.mu.Unlock()

	c.publish(snap)
	if refetch {
		// New or deleted segments only become visible through a full state
		go c.refetch()
	}
}

func (c *Channel) refetch() {
	if err := c.resync(); err != nil && !errors.Is(err, ErrClosed) {
		log.Warn().Err(err).Str("controller", c.id).Msg("Failed to refetch state")
	}
}

func (c *Channel) send(ctx context.Context, patch wled.StatePatch) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()
	return c.transport.SendPatch(ctx, patch)
}

// resync replaces the confirmed layer with a freshly fetched full state and
// reopens the channel for sending.
func (c *Channel) resync() error {
	ctx, cancel := context.WithTimeout(c.ctx, c.config.RequestTimeout)
	defer cancel()

	full, err := c.transport.FullState(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		c.lastErr = err
		c.status = StatusErrored
		c.coalescer.Hold()
		c.scheduleRecoveryLocked()
		snap := c.changedLocked()
		c.mu.Unlock()
		c.publish(snap)
		return err
	}

	c.confirmed = full.State.Clone()
	c.info = full.Info
	c.hasState = true
	if c.connected {
		c.status = StatusOpen
		c.lastErr = nil
		c.coalescer.Release()
	}
	snap := c.recomputeLocked()
	c.mu.Unlock()

	log.Debug().
		Str("controller", c.id).
		Int("segments", len(full.State.Segments)).
		Int("leds", full.Info.LEDs.Count).
		Msg("Full state synchronised")
	c.publish(snap)
	return nil
}

// scheduleRecoveryLocked retries a resync later while the socket is still up.
// When the socket drops the stream's reconnect takes over instead.
func (c *Channel) scheduleRecoveryLocked() {
	if c.recovering || !c.connected || c.closed {
		return
	}
	c.recovering = true
	time.AfterFunc(c.config.RetryDelay, func() {
		c.mu.Lock()
		c.recovering = false
		retry := !c.closed && c.connected && c.status == StatusErrored
		c.mu.Unlock()
		if retry {
			_ = c.resync()
		}
	})
}

func (c *Channel) onConnecting(attempt int) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.status = StatusConnecting
	c.coalescer.Hold()
	snap := c.changedLocked()
	c.mu.Unlock()

	log.Debug().Str("controller", c.id).Int("attempt", attempt).Msg("Connecting")
	c.publish(snap)
}

func (c *Channel) onOpen() {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	if err := c.resync(); err != nil && !errors.Is(err, ErrClosed) {
		log.Warn().Err(err).Str("controller", c.id).Msg("Failed to fetch full state after connect")
	}
}

func (c *Channel) onPush(patch wled.StatePatch) {
	c.mu.Lock()
	if c.closed || !c.hasState {
		c.mu.Unlock()
		return
	}
	if topologyChanged(c.confirmed, patch) {
		c.mu.Unlock()
		log.Debug().Str("controller", c.id).Msg("Segment layout changed on controller, refetching")
		c.refetch()
		return
	}
	c.confirmed = merge.State(c.confirmed, patch)
	snap := c.recomputeLocked()
	c.mu.Unlock()

	c.publish(snap)
}

func (c *Channel) onError(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.status = StatusErrored
	c.lastErr = err
	c.coalescer.Hold()
	snap := c.changedLocked()
	c.mu.Unlock()

	c.publish(snap)
}

func (c *Channel) onClose() {
	c.mu.Lock()
	c.connected = false
	if c.status == StatusClosed {
		c.mu.Unlock()
		return
	}
	c.status = StatusClosed
	c.coalescer.Hold()
	snap := c.changedLocked()
	c.mu.Unlock()

	log.Warn().Str("controller", c.id).Msg("Push stream ended")
	c.publish(snap)
}

// recomputeLocked rebuilds the published state from the three layers.
func (c *Channel) recomputeLocked() Snapshot {
	if c.hasState {
		state, layout := c.confirmed, c.confirmed
		if c.inflight != nil {
			state = merge.State(state, *c.inflight)
			layout = merge.Layout(layout, *c.inflight)
		}
		if pending, ok := c.coalescer.Pending(); ok {
			state = merge.State(state, pending)
			layout = merge.Layout(layout, pending)
		}
		c.published = state
		c.layout = layout.Segments
	}
	return c.changedLocked()
}

// changedLocked marks a change to publish and returns its snapshot.
func (c *Channel) changedLocked() Snapshot {
	c.version++
	return c.snapshotLocked()
}

func (c *Channel) snapshotLocked() Snapshot {
	_, pending := c.coalescer.Pending()
	return Snapshot{
		Version:     c.version,
		Status:      c.status,
		HasState:    c.hasState,
		State:       c.published.Clone(),
		Layout:      wled.CloneSegments(c.layout),
		Confirmed:   c.confirmed.Clone(),
		Info:        c.info,
		Unconfirmed: pending || c.inflight != nil,
		Err:         c.lastErr,
	}
}

func (c *Channel) publish(s Snapshot) {
	c.subsMu.Lock()
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subsMu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}

// topologyChanged reports whether a push adds, removes or deletes segments
// compared to state. The merger only reconciles values, so such pushes need a
// full refetch.
func topologyChanged(state wled.DeviceState, patch wled.StatePatch) bool {
	if reshapes(state, patch) {
		return true
	}
	withID := 0
	for _, sp := range patch.Segments {
		if sp.ID != nil {
			withID++
		}
	}
	// Pushes carry the whole list; a shorter one means segments were removed
	return withID > 0 && withID == len(patch.Segments) && withID != len(state.Segments)
}

// reshapes reports whether patch addresses a segment id missing from state or
// deletes one by collapsing its range.
func reshapes(state wled.DeviceState, patch wled.StatePatch) bool {
	for _, sp := range patch.Segments {
		if sp.ID == nil {
			continue
		}
		seg, ok := state.SegmentByID(*sp.ID)
		if !ok {
			return true
		}
		start, stop := seg.Start, seg.Stop
		if sp.Start != nil {
			start = *sp.Start
		}
		if sp.Stop != nil {
			stop = *sp.Stop
		}
		if stop <= start {
			return true
		}
	}
	return false
}

func maxStop(segs []wled.Segment) int {
	n := 0
	for _, s := range segs {
		n = max(n, s.Stop)
	}
	return n
}
