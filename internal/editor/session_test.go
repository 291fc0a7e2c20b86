package editor

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/dokzlo13/wledsync/internal/segments"
	"github.com/dokzlo13/wledsync/internal/segstore"
	"github.com/dokzlo13/wledsync/internal/wled"
)

func seg(id, start, stop int) wled.Segment {
	return wled.Segment{ID: id, Start: start, Stop: stop, Len: stop - start, On: true, Brightness: 255}
}

func ranges(segs []wled.Segment) [][3]int {
	out := make([][3]int, len(segs))
	for i, s := range segs {
		out[i] = [3]int{s.ID, s.Start, s.Stop}
	}
	return out
}

func TestSession_SequentialOperationsSeeLatestCopy(t *testing.T) {
	s := NewSession([]wled.Segment{seg(0, 0, 100)}, nil)

	if err := s.Split(0, 50); err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	// segment 1 only exists because of the split above
	if err := s.UpdateField(1, wled.SegmentPatch{Brightness: wled.Ptr(10)}); err != nil {
		t.Fatalf("UpdateField() error = %v", err)
	}
	if err := s.Split(1, 75); err != nil {
		t.Fatalf("second Split() error = %v", err)
	}

	got := s.Segments()
	if want := [][3]int{{0, 0, 50}, {1, 50, 75}, {2, 75, 100}}; !reflect.DeepEqual(ranges(got), want) {
		t.Errorf("Segments() = %v, want %v", ranges(got), want)
	}
	if got[1].Brightness != 10 || got[2].Brightness != 10 {
		t.Errorf("brightness = %d/%d, want 10/10", got[1].Brightness, got[2].Brightness)
	}
}

func TestSession_OnChangeOncePerSuccessfulCall(t *testing.T) {
	var calls [][]wled.Segment
	s := NewSession([]wled.Segment{seg(0, 0, 40), seg(1, 60, 100)}, func(segs []wled.Segment) {
		calls = append(calls, segs)
	})

	_ = s.MergeGapUp(40, 60)
	_ = s.Split(7, 10) // fails: unknown id
	_ = s.Delete(1)

	if len(calls) != 2 {
		t.Fatalf("onChange calls = %d, want 2", len(calls))
	}
	if want := [][3]int{{0, 0, 60}, {1, 60, 100}}; !reflect.DeepEqual(ranges(calls[0]), want) {
		t.Errorf("first callback = %v, want %v", ranges(calls[0]), want)
	}
	if want := [][3]int{{0, 0, 60}}; !reflect.DeepEqual(ranges(calls[1]), want) {
		t.Errorf("second callback = %v, want %v", ranges(calls[1]), want)
	}

	calls[1][0].Stop = 999
	if s.Segments()[0].Stop != 60 {
		t.Error("callback slice aliases the working copy")
	}
}

func TestSession_Operations(t *testing.T) {
	tests := []struct {
		name    string
		op      func(s *Session) error
		want    [][3]int
		wantErr error
	}{
		{"merge_two", func(s *Session) error { return s.MergeTwo(0, 1) }, [][3]int{{0, 0, 100}}, nil},
		{"gap_down", func(s *Session) error { return s.MergeGapDown(40, 60) }, [][3]int{{0, 0, 40}, {1, 40, 100}}, nil},
		{"convert_gap", func(s *Session) error { return s.ConvertGapToSegment(40, 60) }, [][3]int{{0, 0, 40}, {2, 40, 60}, {1, 60, 100}}, nil},
		{"delete_missing", func(s *Session) error { return s.Delete(5) }, [][3]int{{0, 0, 40}, {1, 60, 100}}, segments.ErrSegmentNotFound},
		{"update_missing", func(s *Session) error { return s.UpdateField(5, wled.SegmentPatch{}) }, [][3]int{{0, 0, 40}, {1, 60, 100}}, segments.ErrSegmentNotFound},
		{"bad_split", func(s *Session) error { return s.Split(0, 40) }, [][3]int{{0, 0, 40}, {1, 60, 100}}, segments.ErrInvalidSplit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession([]wled.Segment{seg(0, 0, 40), seg(1, 60, 100)}, nil)
			err := tt.op(s)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if got := ranges(s.Segments()); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Segments() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSession_Add(t *testing.T) {
	s := NewSession([]wled.Segment{seg(0, 0, 40)}, nil)

	added, err := s.Add(wled.Segment{ID: 0, Start: 50, Stop: 80, Effect: 3})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if added.ID != 1 || added.Len != 30 || added.Effect != 3 {
		t.Errorf("Add() = %+v, want id 1 len 30 fx 3", added)
	}
	if _, err := s.Add(wled.Segment{Start: 10, Stop: 10}); !errors.Is(err, segments.ErrInvalidRange) {
		t.Errorf("Add(empty) error = %v, want ErrInvalidRange", err)
	}

	full := make([]wled.Segment, wled.MaxSegments)
	for i := range full {
		full[i] = seg(i, i*10, i*10+10)
	}
	s = NewSession(full, nil)
	if _, err := s.Add(seg(0, 200, 210)); !errors.Is(err, segments.ErrCapacity) {
		t.Errorf("Add() at capacity error = %v, want ErrCapacity", err)
	}
}

func TestSession_ReplaceAll(t *testing.T) {
	s := NewSession([]wled.Segment{seg(0, 0, 100)}, nil)

	if err := s.ReplaceAll([]wled.Segment{seg(1, 50, 100), seg(0, 0, 50)}); err != nil {
		t.Fatalf("ReplaceAll() error = %v", err)
	}
	if want := [][3]int{{0, 0, 50}, {1, 50, 100}}; !reflect.DeepEqual(ranges(s.Segments()), want) {
		t.Errorf("Segments() = %v, want %v", ranges(s.Segments()), want)
	}

	if err := s.ReplaceAll([]wled.Segment{seg(1, 0, 10), seg(1, 10, 20)}); err == nil {
		t.Error("ReplaceAll() with duplicate ids succeeded")
	}
	if err := s.ReplaceAll(make([]wled.Segment, wled.MaxSegments+1)); !errors.Is(err, ErrTooManySegments) {
		t.Errorf("ReplaceAll(11) error = %v, want ErrTooManySegments", err)
	}
}

func TestSession_RevertPatch(t *testing.T) {
	s := NewSession([]wled.Segment{seg(0, 0, 100)}, nil)
	_ = s.Split(0, 30)

	p := s.RevertPatch()
	if len(p.Segments) != 2 {
		t.Fatalf("RevertPatch() segments = %+v, want restore of 0 and deletion of 1", p.Segments)
	}
	if *p.Segments[0].ID != 0 || *p.Segments[0].Stop != 100 {
		t.Errorf("first = %+v, want segment 0 back to stop 100", p.Segments[0])
	}
	if *p.Segments[1].ID != 1 || *p.Segments[1].Stop != 0 {
		t.Errorf("second = %+v, want deletion of 1", p.Segments[1])
	}
	if got := s.Initial(); !reflect.DeepEqual(ranges(got), [][3]int{{0, 0, 100}}) {
		t.Errorf("Initial() = %v, want untouched", ranges(got))
	}
}

func TestSession_ConcurrentCallsAreSerialised(t *testing.T) {
	var mu sync.Mutex
	var lens []int
	s := NewSession([]wled.Segment{seg(0, 0, 10)}, func(segs []wled.Segment) {
		mu.Lock()
		lens = append(lens, len(segs))
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 1; i < wled.MaxSegments; i++ {
		wg.Add(1)
		go func(start int) {
			defer wg.Done()
			if err := s.ConvertGapToSegment(start, start+10); err != nil {
				t.Errorf("ConvertGapToSegment(%d) error = %v", start, err)
			}
		}(i * 10)
	}
	wg.Wait()

	got := s.Segments()
	if len(got) != wled.MaxSegments {
		t.Fatalf("len(Segments()) = %d, want %d", len(got), wled.MaxSegments)
	}
	for i := 1; i < len(lens); i++ {
		if lens[i] != lens[i-1]+1 {
			t.Errorf("callback order broken: %v", lens)
			break
		}
	}
}

func TestMaterialize(t *testing.T) {
	zones := []segstore.GlobalSegment{
		{ID: "b", Start: 50, Stop: 100, Name: "Desk"},
		{ID: "a", Start: 0, Stop: 50, Name: "Shelf"},
	}
	current := []wled.Segment{{ID: 4, Start: 50, Stop: 100, Effect: 9, On: true}}

	got, err := Materialize(zones, current)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if want := [][3]int{{0, 0, 50}, {1, 50, 100}}; !reflect.DeepEqual(ranges(got), want) {
		t.Fatalf("Materialize() = %v, want %v", ranges(got), want)
	}
	if got[0].Name != "Shelf" || got[0].Brightness != 255 {
		t.Errorf("got[0] = %+v, want default segment named Shelf", got[0])
	}
	if got[1].Name != "Desk" || got[1].Effect != 9 {
		t.Errorf("got[1] = %+v, want settings of matching current segment", got[1])
	}

	many := make([]segstore.GlobalSegment, wled.MaxSegments+1)
	if _, err := Materialize(many, nil); !errors.Is(err, ErrTooManySegments) {
		t.Errorf("Materialize(11) error = %v, want ErrTooManySegments", err)
	}
}
