package transport

import "github.com/pion/webrtc/v4"

// EventKind discriminates transport events.
type EventKind int

const (
	// EventConnectionState reports a PeerConnection state change. This is
	// the authoritative signal for call lifecycle decisions.
	EventConnectionState EventKind = iota
	// EventICEConnectionState reports an ICE connection state change.
	// Informational; it never drives lifecycle by itself.
	EventICEConnectionState
	// EventICEGatheringState reports candidate gathering progress.
	EventICEGatheringState
	// EventSignalingState reports offer/answer negotiation progress.
	EventSignalingState
	// EventRemoteTrack reports arrival of a remote media track.
	EventRemoteTrack
)

func (k EventKind) String() string {
	switch k {
	case EventConnectionState:
		return "connection-state"
	case EventICEConnectionState:
		return "ice-connection-state"
	case EventICEGatheringState:
		return "ice-gathering-state"
	case EventSignalingState:
		return "signaling-state"
	case EventRemoteTrack:
		return "remote-track"
	default:
		return "unknown"
	}
}

// Event is one observation from the peer connection, delivered through the
// session's queue instead of raw callbacks so consumers never run inside
// pion's callback goroutines.
type Event struct {
	Kind EventKind

	ConnectionState    webrtc.PeerConnectionState
	ICEConnectionState webrtc.ICEConnectionState
	ICEGatheringState  webrtc.ICEGatheringState
	SignalingState     webrtc.SignalingState
	TrackKind          webrtc.RTPCodecType
}
