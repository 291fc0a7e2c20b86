package channel

import "github.com/dokzlo13/wledsync/internal/wled"

// Status is the connection state of a channel.
type Status int

const (
	StatusConnecting Status = iota
	StatusOpen
	StatusErrored
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusErrored:
		return "errored"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// View is what a consumer should render for the current snapshot.
type View int

const (
	// ViewLoading means no state has been received yet.
	ViewLoading View = iota
	// ViewLive means the state is backed by an open connection.
	ViewLive
	// ViewStale means the last known state is shown while disconnected.
	ViewStale
)

func (v View) String() string {
	switch v {
	case ViewLoading:
		return "loading"
	case ViewLive:
		return "live"
	case ViewStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable copy of the channel state handed to readers.
type Snapshot struct {
	// Version increases with every published change.
	Version uint64
	Status  Status
	// HasState is false until the first full state was fetched.
	HasState bool
	// State is the optimistic view: confirmed state with unsent and
	// unacknowledged intents applied on top.
	State wled.DeviceState
	// Layout is the segment list with pending creations and deletions
	// applied. Edits that allocate segment ids must start from it.
	Layout []wled.Segment
	// Confirmed is the state as last reported by the controller.
	Confirmed wled.DeviceState
	Info      wled.Info
	// Unconfirmed is true while local intents are not yet acknowledged.
	Unconfirmed bool
	Err         error
}

// View derives the rendering mode from the snapshot.
func (s Snapshot) View() View {
	switch {
	case !s.HasState:
		return ViewLoading
	case s.Status == StatusOpen:
		return ViewLive
	default:
		return ViewStale
	}
}
