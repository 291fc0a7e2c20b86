package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/wledsync/internal/wled"
)

type fakeTransport struct {
	mu       sync.Mutex
	full     wled.FullState
	fullErr  error
	fetches  int
	sendErr  error
	sent     []wled.StatePatch
	sentCh   chan wled.StatePatch
	handlers wled.Handlers
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		full: wled.FullState{
			State: wled.DeviceState{
				On:         true,
				Brightness: 100,
				Segments: []wled.Segment{
					{ID: 0, Start: 0, Stop: 60, Len: 60, On: true, Brightness: 255},
					{ID: 1, Start: 60, Stop: 120, Len: 60, On: true, Brightness: 255},
				},
			},
			Info: wled.Info{Name: "desk", LEDs: wled.LEDInfo{Count: 120}},
		},
		sentCh: make(chan wled.StatePatch, 16),
	}
}

func (f *fakeTransport) FullState(ctx context.Context) (*wled.FullState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fullErr != nil {
		return nil, f.fullErr
	}
	full := f.full
	full.State = f.full.State.Clone()
	return &full, nil
}

func (f *fakeTransport) SendPatch(ctx context.Context, patch wled.StatePatch) error {
	f.mu.Lock()
	err := f.sendErr
	if err == nil {
		f.sent = append(f.sent, patch)
	}
	f.mu.Unlock()
	if err == nil {
		f.sentCh <- patch
	}
	return err
}

func (f *fakeTransport) Subscribe(ctx context.Context, h wled.Handlers) func() {
	f.mu.Lock()
	f.handlers = h
	f.mu.Unlock()
	return func() {
		if h.OnClose != nil {
			h.OnClose()
		}
	}
}

func (f *fakeTransport) open() {
	f.handlers.OnConnecting(0)
	f.handlers.OnOpen()
}

func (f *fakeTransport) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeTransport) nextSent(t *testing.T) wled.StatePatch {
	t.Helper()
	select {
	case p := <-f.sentCh:
		return p
	case <-time.After(time.Second):
		t.Fatal("nothing sent within 1s")
		return wled.StatePatch{}
	}
}

func (f *fakeTransport) noneSent(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case p := <-f.sentCh:
		t.Fatalf("unexpected send %+v", p)
	case <-time.After(wait):
	}
}

func newTestChannel(t *testing.T, interval time.Duration) (*Channel, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	c := New("desk", tr, Config{CoalesceInterval: interval, RetryDelay: 10 * time.Millisecond})
	c.Start(context.Background())
	t.Cleanup(c.Close)
	return c, tr
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestChannel_Views(t *testing.T) {
	c, tr := newTestChannel(t, time.Hour)

	if v := c.Snapshot().View(); v != ViewLoading {
		t.Errorf("View() before open = %v, want loading", v)
	}

	tr.open()
	snap := c.Snapshot()
	if snap.View() != ViewLive {
		t.Errorf("View() after open = %v, want live", snap.View())
	}
	if snap.State.Brightness != 100 || len(snap.State.Segments) != 2 || snap.Info.LEDs.Count != 120 {
		t.Errorf("state after open = %+v, want fetched full state", snap.State)
	}

	tr.handlers.OnError(errors.New("socket closed"))
	snap = c.Snapshot()
	if snap.View() != ViewStale {
		t.Errorf("View() after drop = %v, want stale", snap.View())
	}
	if snap.State.Brightness != 100 {
		t.Errorf("stale brightness = %d, want last known 100", snap.State.Brightness)
	}
	if snap.Err == nil {
		t.Error("Err after drop = nil, want socket error")
	}
}

func TestChannel_QueueUpdateIsVisibleImmediately(t *testing.T) {
	c, tr := newTestChannel(t, time.Hour)
	tr.open()

	c.QueueUpdate(wled.StatePatch{Brightness: wled.Ptr(200)})

	snap := c.Snapshot()
	if snap.State.Brightness != 200 {
		t.Errorf("State.Brightness = %d, want 200", snap.State.Brightness)
	}
	if snap.Confirmed.Brightness != 100 {
		t.Errorf("Confirmed.Brightness = %d, want 100", snap.Confirmed.Brightness)
	}
	if !snap.Unconfirmed {
		t.Error("Unconfirmed = false, want true")
	}
}

func TestChannel_CoalescesWithinTick(t *testing.T) {
	c, tr := newTestChannel(t, 20*time.Millisecond)
	tr.open()

	c.QueueUpdate(wled.StatePatch{Brightness: wled.Ptr(10)})
	c.QueueUpdate(wled.StatePatch{Brightness: wled.Ptr(20)})

	p := tr.nextSent(t)
	if p.Brightness == nil || *p.Brightness != 20 {
		t.Errorf("sent bri = %v, want 20", p.Brightness)
	}
	tr.noneSent(t, 60*time.Millisecond)

	waitFor(t, "acknowledgement", func() bool { return !c.Snapshot().Unconfirmed })
	if got := c.Snapshot().Confirmed.Brightness; got != 20 {
		t.Errorf("Confirmed.Brightness = %d, want 20", got)
	}
}

func TestChannel_PushOverridesOptimisticValue(t *testing.T) {
	c, tr := newTestChannel(t, 5*time.Millisecond)
	tr.open()

	c.SetBrightness(300)
	if p := tr.nextSent(t); *p.Brightness != 255 {
		t.Errorf("sent bri = %d, want clamped 255", *p.Brightness)
	}
	waitFor(t, "acknowledgement", func() bool { return !c.Snapshot().Unconfirmed })

	tr.handlers.OnPush(wled.StatePatch{Brightness: wled.Ptr(128)})
	if got := c.Snapshot().State.Brightness; got != 128 {
		t.Errorf("State.Brightness = %d, want pushed 128", got)
	}
}

func TestChannel_PushKeepsPendingIntent(t *testing.T) {
	c, tr := newTestChannel(t, time.Hour)
	tr.open()

	c.QueueUpdate(wled.StatePatch{Brightness: wled.Ptr(50)})
	tr.handlers.OnPush(wled.StatePatch{Brightness: wled.Ptr(90), On: wled.Ptr(false)})

	snap := c.Snapshot()
	if snap.State.Brightness != 50 || snap.State.On {
		t.Errorf("state = bri %d on %v, want bri 50 (pending) on false (pushed)", snap.State.Brightness, snap.State.On)
	}
	if snap.Confirmed.Brightness != 90 {
		t.Errorf("Confirmed.Brightness = %d, want 90", snap.Confirmed.Brightness)
	}
}

func TestChannel_OfflineIntentsReplayOnReconnect(t *testing.T) {
	c, tr := newTestChannel(t, 5*time.Millisecond)
	tr.open()
	tr.handlers.OnError(errors.New("gone"))

	c.QueueUpdate(wled.StatePatch{Brightness: wled.Ptr(33)})
	if got := c.Snapshot().State.Brightness; got != 33 {
		t.Errorf("offline State.Brightness = %d, want 33", got)
	}
	tr.noneSent(t, 40*time.Millisecond)

	tr.open()
	if p := tr.nextSent(t); *p.Brightness != 33 {
		t.Errorf("replayed bri = %d, want 33", *p.Brightness)
	}
}

func TestChannel_IntentsBeforeFirstStateAreSentAfterOpen(t *testing.T) {
	c, tr := newTestChannel(t, 5*time.Millisecond)

	c.QueueUpdate(wled.StatePatch{On: wled.Ptr(false)})
	tr.noneSent(t, 30*time.Millisecond)

	tr.open()
	if p := tr.nextSent(t); p.On == nil || *p.On {
		t.Errorf("sent on = %v, want false", p.On)
	}
	if c.Snapshot().State.On {
		t.Error("State.On = true, want queued false on top of fetched state")
	}
}

func TestChannel_SendFailureRequeuesAndRecovers(t *testing.T) {
	c, tr := newTestChannel(t, 5*time.Millisecond)
	tr.open()

	tr.setSendErr(errors.New("timeout"))
	c.QueueUpdate(wled.StatePatch{Brightness: wled.Ptr(77)})

	waitFor(t, "errored status", func() bool { return c.Snapshot().Status == StatusErrored })
	if got := c.Snapshot().State.Brightness; got != 77 {
		t.Errorf("State.Brightness after failure = %d, want 77", got)
	}

	tr.setSendErr(nil)
	if p := tr.nextSent(t); *p.Brightness != 77 {
		t.Errorf("resent bri = %d, want 77", *p.Brightness)
	}
	waitFor(t, "open status", func() bool { return c.Snapshot().Status == StatusOpen })
	if tr.fetchCount() < 2 {
		t.Errorf("fetches = %d, want a resync after the failure", tr.fetchCount())
	}
}

func TestChannel_TopologyChangeRefetches(t *testing.T) {
	c, tr := newTestChannel(t, time.Hour)
	tr.open()
	before := tr.fetchCount()

	tr.mu.Lock()
	tr.full.State.Segments = append(tr.full.State.Segments, wled.Segment{ID: 2, Start: 120, Stop: 150, Len: 30})
	tr.mu.Unlock()

	tr.handlers.OnPush(wled.StatePatch{Segments: []wled.SegmentPatch{
		{ID: wled.Ptr(0)}, {ID: wled.Ptr(1)}, {ID: wled.Ptr(2), Start: wled.Ptr(120), Stop: wled.Ptr(150)},
	}})

	if tr.fetchCount() != before+1 {
		t.Errorf("fetches = %d, want %d", tr.fetchCount(), before+1)
	}
	if n := len(c.Snapshot().State.Segments); n != 3 {
		t.Errorf("len(segments) = %d, want 3", n)
	}
}

func TestChannel_AckedSplitRefetches(t *testing.T) {
	c, tr := newTestChannel(t, 5*time.Millisecond)
	tr.open()
	before := tr.fetchCount()

	tr.mu.Lock()
	tr.full.State.Segments[0].Stop = 30
	tr.full.State.Segments = append(tr.full.State.Segments, wled.Segment{ID: 2, Start: 30, Stop: 60, Len: 30})
	tr.mu.Unlock()

	c.QueueUpdate(wled.StatePatch{Segments: []wled.SegmentPatch{
		{ID: wled.Ptr(0), Stop: wled.Ptr(30)},
		wled.FullSegmentPatch(wled.Segment{ID: 2, Start: 30, Stop: 60}),
	}})
	tr.nextSent(t)

	deadline := time.Now().Add(time.Second)
	for len(c.Snapshot().State.Segments) != 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(c.Snapshot().State.Segments); n != 3 {
		t.Fatalf("len(segments) = %d, want 3", n)
	}
	if tr.fetchCount() <= before {
		t.Errorf("fetches = %d, want more than %d", tr.fetchCount(), before)
	}
}

func TestChannel_ValuePushDoesNotRefetch(t *testing.T) {
	c, tr := newTestChannel(t, time.Hour)
	tr.open()
	before := tr.fetchCount()

	tr.handlers.OnPush(wled.StatePatch{Segments: []wled.SegmentPatch{
		{ID: wled.Ptr(0), Effect: wled.Ptr(4)}, {ID: wled.Ptr(1)},
	}})

	if tr.fetchCount() != before {
		t.Errorf("fetches = %d, want %d", tr.fetchCount(), before)
	}
	if fx := c.Snapshot().State.Segments[0].Effect; fx != 4 {
		t.Errorf("segment 0 fx = %d, want 4", fx)
	}
}

func TestChannel_CloseCancelsPending(t *testing.T) {
	c, tr := newTestChannel(t, 30*time.Millisecond)
	tr.open()

	c.QueueUpdate(wled.StatePatch{Brightness: wled.Ptr(1)})
	c.Close()

	tr.noneSent(t, 80*time.Millisecond)
	if s := c.Snapshot().Status; s != StatusClosed {
		t.Errorf("Status = %v, want closed", s)
	}
	c.QueueUpdate(wled.StatePatch{Brightness: wled.Ptr(2)})
	tr.noneSent(t, 50*time.Millisecond)
}

func TestChannel_CloseWithRevert(t *testing.T) {
	c, tr := newTestChannel(t, time.Hour)
	tr.open()

	c.QueueUpdate(wled.StatePatch{Brightness: wled.Ptr(1)})
	err := c.CloseWithRevert(context.Background(), wled.StatePatch{Brightness: wled.Ptr(100)})
	if err != nil {
		t.Fatalf("CloseWithRevert() error = %v", err)
	}

	if p := tr.nextSent(t); *p.Brightness != 100 {
		t.Errorf("sent bri = %d, want revert 100", *p.Brightness)
	}
	tr.noneSent(t, 30*time.Millisecond)
	if err := c.CloseWithRevert(context.Background(), wled.StatePatch{}); !errors.Is(err, ErrClosed) {
		t.Errorf("second CloseWithRevert() error = %v, want ErrClosed", err)
	}
}

func TestChannel_Toggle(t *testing.T) {
	c, tr := newTestChannel(t, time.Hour)
	tr.open()

	c.Toggle()
	if c.Snapshot().State.On {
		t.Error("State.On = true after Toggle, want false")
	}
	c.Toggle()
	if !c.Snapshot().State.On {
		t.Error("State.On = false after second Toggle, want true")
	}
}

func TestChannel_SavePresetRepairsLayout(t *testing.T) {
	c, tr := newTestChannel(t, 20*time.Millisecond)
	tr.open()

	// overlapping layout left behind by editing
	c.QueueUpdate(wled.StatePatch{Segments: []wled.SegmentPatch{{ID: wled.Ptr(0), Stop: wled.Ptr(90)}}})
	if err := c.SavePreset(3, "evening"); err != nil {
		t.Fatalf("SavePreset() error = %v", err)
	}

	// the layout change may go out in its own tick first
	p := tr.nextSent(t)
	if p.PresetSave == nil {
		p = tr.nextSent(t)
	}
	if p.PresetSave == nil || *p.PresetSave != 3 || p.PresetName == nil || *p.PresetName != "evening" {
		t.Errorf("sent preset fields = %v %v, want 3 evening", p.PresetSave, p.PresetName)
	}
	var stop0 int
	for _, sp := range p.Segments {
		if sp.ID != nil && *sp.ID == 0 && sp.Stop != nil {
			stop0 = *sp.Stop
		}
	}
	if stop0 != 60 {
		t.Errorf("segment 0 stop = %d, want repaired 60", stop0)
	}
}

func TestChannel_PresetValidation(t *testing.T) {
	c, _ := newTestChannel(t, time.Hour)

	if err := c.ApplyPreset(0); !errors.Is(err, ErrInvalidPreset) {
		t.Errorf("ApplyPreset(0) error = %v, want ErrInvalidPreset", err)
	}
	if err := c.SavePreset(1, "x"); !errors.Is(err, ErrNoState) {
		t.Errorf("SavePreset() before open error = %v, want ErrNoState", err)
	}
}

func TestChannel_SubscribersSeeUpdates(t *testing.T) {
	c, tr := newTestChannel(t, time.Hour)

	var mu sync.Mutex
	var seen []Snapshot
	unsubscribe := c.Subscribe(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	tr.open()
	c.SetBrightness(42)
	unsubscribe()
	c.SetBrightness(43)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("no snapshots delivered")
	}
	last := seen[len(seen)-1]
	if last.State.Brightness != 42 {
		t.Errorf("last delivered bri = %d, want 42", last.State.Brightness)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i].Version <= seen[i-1].Version {
			t.Errorf("versions not increasing: %d then %d", seen[i-1].Version, seen[i].Version)
		}
	}
}

func TestTopologyChanged(t *testing.T) {
	state := wled.DeviceState{Segments: []wled.Segment{
		{ID: 0, Start: 0, Stop: 10}, {ID: 1, Start: 10, Stop: 20},
	}}
	tests := []struct {
		name  string
		patch wled.StatePatch
		want  bool
	}{
		{"no_segments", wled.StatePatch{Brightness: wled.Ptr(1)}, false},
		{"same_ids", wled.StatePatch{Segments: []wled.SegmentPatch{{ID: wled.Ptr(0)}, {ID: wled.Ptr(1)}}}, false},
		{"unknown_id", wled.StatePatch{Segments: []wled.SegmentPatch{{ID: wled.Ptr(0)}, {ID: wled.Ptr(1)}, {ID: wled.Ptr(4)}}}, true},
		{"missing_id", wled.StatePatch{Segments: []wled.SegmentPatch{{ID: wled.Ptr(0)}}}, true},
		{"deleted", wled.StatePatch{Segments: []wled.SegmentPatch{{ID: wled.Ptr(0)}, {ID: wled.Ptr(1), Stop: wled.Ptr(0)}}}, true},
		{"positional", wled.StatePatch{Segments: []wled.SegmentPatch{{Brightness: wled.Ptr(3)}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := topologyChanged(state, tt.patch); got != tt.want {
				t.Errorf("topologyChanged() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChannel_LayoutShowsPendingSegments(t *testing.T) {
	c, tr := newTestChannel(t, time.Hour)
	tr.open()

	c.QueueUpdate(wled.StatePatch{Segments: []wled.SegmentPatch{
		{ID: wled.Ptr(0), Stop: wled.Ptr(30)},
		wled.FullSegmentPatch(wled.Segment{ID: 2, Start: 30, Stop: 60, On: true}),
		wled.DeleteSegmentPatch(1),
	}})

	snap := c.Snapshot()
	if n := len(snap.State.Segments); n != 2 {
		t.Errorf("State segments = %d, want 2 until the controller confirms", n)
	}
	var got [][3]int
	for _, s := range snap.Layout {
		got = append(got, [3]int{s.ID, s.Start, s.Stop})
	}
	want := [][3]int{{0, 0, 30}, {2, 30, 60}}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Layout = %v, want %v", got, want)
	}
}

func TestChannel_AckKeepsCreatedSegmentUntilRefetch(t *testing.T) {
	c, tr := newTestChannel(t, 10*time.Millisecond)
	tr.open()

	// The controller fails to answer the refetch, so only the ack is applied
	tr.mu.Lock()
	tr.fullErr = errors.New("busy")
	tr.mu.Unlock()

	c.QueueUpdate(wled.StatePatch{Segments: []wled.SegmentPatch{
		{ID: wled.Ptr(0), Stop: wled.Ptr(30)},
		wled.FullSegmentPatch(wled.Segment{ID: 2, Start: 30, Stop: 60}),
	}})
	tr.nextSent(t)

	waitFor(t, "segment 2 in confirmed state", func() bool {
		_, ok := c.Snapshot().Confirmed.SegmentByID(2)
		return ok
	})
	if n := len(c.Snapshot().Layout); n != 3 {
		t.Errorf("Layout segments = %d, want 3", n)
	}
}

func TestChannel_SnapshotReadsKeepVersion(t *testing.T) {
	c, tr := newTestChannel(t, time.Hour)
	tr.open()

	v := c.Snapshot().Version
	c.Snapshot()
	if got := c.Snapshot().Version; got != v {
		t.Errorf("Version after reads = %d, want %d", got, v)
	}
	c.SetBrightness(3)
	if got := c.Snapshot().Version; got <= v {
		t.Errorf("Version after update = %d, want > %d", got, v)
	}
}

func TestChannel_PositionalIntentTargetsDeviceSegment(t *testing.T) {
	c, tr := newTestChannel(t, 20*time.Millisecond)
	tr.open()

	c.QueueUpdate(wled.StatePatch{Segments: []wled.SegmentPatch{{ID: wled.Ptr(1), On: wled.Ptr(false)}}})
	// Position 0 is segment 0 on the controller, not the first queued entry
	c.QueueUpdate(wled.StatePatch{Segments: []wled.SegmentPatch{{Effect: wled.Ptr(5)}}})

	if fx := c.Snapshot().State.Segments[0].Effect; fx != 5 {
		t.Errorf("optimistic segment 0 fx = %d, want 5", fx)
	}

	sent := tr.nextSent(t)
	byID := make(map[int]wled.SegmentPatch)
	for _, sp := range sent.Segments {
		if sp.ID == nil {
			t.Fatalf("sent segment patch without id: %+v", sp)
		}
		byID[*sp.ID] = sp
	}
	if sp := byID[0]; sp.Effect == nil || *sp.Effect != 5 {
		t.Errorf("segment 0 patch = %+v, want fx=5", sp)
	}
	if sp := byID[1]; sp.Effect != nil || sp.On == nil || *sp.On {
		t.Errorf("segment 1 patch = %+v, want on=false only", sp)
	}
}
