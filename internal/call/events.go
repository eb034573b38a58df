package call

import (
	"time"

	"github.com/peerline/peerline/internal/signal"
)

// State is the local call lifecycle state. Idle is both the initial state
// and the state reverted to after any teardown completes.
type State string

const (
	StateIdle      State = "idle"
	StateCalling   State = "calling"
	StateRinging   State = "ringing"
	StateConnected State = "connected"
)

// Disposition summarises how a call ended, for the history log.
type Disposition string

const (
	DispositionCompleted Disposition = "completed" // connected, then ended normally
	DispositionRejected  Disposition = "rejected"
	DispositionCanceled  Disposition = "canceled" // caller gave up before an answer
	DispositionMissed    Disposition = "missed"   // rang here, never answered
	DispositionExpired   Disposition = "expired"
	DispositionFailed    Disposition = "failed" // transport failure
)

// EventKind discriminates manager events.
type EventKind string

const (
	// EventIncoming surfaces a new incoming call; the receiver has enough
	// information to answer or reject without further lookups.
	EventIncoming EventKind = "incoming"
	// EventState reports a lifecycle state change.
	EventState EventKind = "state"
	// EventError reports the current user-facing error. An empty message
	// means the error was cleared.
	EventError EventKind = "error"
	// EventEnded reports a finished call attempt with its disposition.
	EventEnded EventKind = "ended"
)

// Event is one observation for the UI layer.
type Event struct {
	Kind     EventKind           `json:"kind"`
	State    State               `json:"state,omitempty"`
	Incoming *signal.CallSession `json:"incoming,omitempty"`
	Error    string              `json:"error,omitempty"`
	Ended    *HistoryRecord      `json:"ended,omitempty"`
}

// HistoryRecord is the summary of one finished call attempt.
type HistoryRecord struct {
	SessionID      string           `json:"session_id"`
	PartitionOwner string           `json:"partition_owner"`
	CallerID       string           `json:"caller_id"`
	CalleeID       string           `json:"callee_id"`
	Kind           signal.MediaKind `json:"kind"`
	Disposition    Disposition      `json:"disposition"`
	StartedAt      time.Time        `json:"started_at"`
	ConnectedAt    time.Time        `json:"connected_at,omitempty"`
	EndedAt        time.Time        `json:"ended_at"`
}

// HistorySink receives finished-call summaries. Implementations must not
// block; failures are the sink's own concern.
type HistorySink interface {
	RecordCall(rec HistoryRecord)
}

// Status is a snapshot of the manager for the UI layer.
type Status struct {
	State     State               `json:"state"`
	Session   *signal.CallSession `json:"session,omitempty"`
	Muted     bool                `json:"muted"`
	CameraOff bool                `json:"camera_off"`
	Error     string              `json:"error,omitempty"`
}
