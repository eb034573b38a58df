// Package signal defines the call signaling data model and the mailbox
// abstraction through which two parties exchange session descriptions and
// ICE candidates out of band. The mailbox is a document store organised as
// partitions/{owner}/sessions/{id}/candidates/*; which partition owns a
// given call is resolved once at call setup via the Directory.
package signal

import "time"

// SessionStatus is the lifecycle state of a call session record.
type SessionStatus string

const (
	StatusCalling   SessionStatus = "calling"
	StatusConnected SessionStatus = "connected"
	StatusRejected  SessionStatus = "rejected"
	StatusEnded     SessionStatus = "ended"
	StatusExpired   SessionStatus = "expired"
)

// Terminal reports whether the status permits no further mutation.
func (s SessionStatus) Terminal() bool {
	return s == StatusRejected || s == StatusEnded || s == StatusExpired
}

// MediaKind selects audio-only or audio+video for a call.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// CandidateOrigin identifies which side of the negotiation discovered a
// candidate. The offer side publishes offer candidates and consumes answer
// candidates, and vice versa.
type CandidateOrigin string

const (
	OriginOffer  CandidateOrigin = "offer-candidate"
	OriginAnswer CandidateOrigin = "answer-candidate"
)

// Remote returns the origin the opposite side publishes under.
func (o CandidateOrigin) Remote() CandidateOrigin {
	if o == OriginOffer {
		return OriginAnswer
	}
	return OriginOffer
}

// Description is an opaque session description (SDP offer or answer).
// Written at most once per session per side; never mutated afterwards.
type Description struct {
	Type string `json:"type" firestore:"type"`
	SDP  string `json:"sdp" firestore:"sdp"`
}

// Empty reports whether no description has been written.
func (d Description) Empty() bool { return d.SDP == "" }

// Candidate is one discovered network path fragment, in the shape the
// WebRTC stack produces when serialising an ICE candidate.
type Candidate struct {
	Candidate        string  `json:"candidate" firestore:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty" firestore:"sdp_mid"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty" firestore:"sdp_m_line_index"`
	UsernameFragment *string `json:"usernameFragment,omitempty" firestore:"username_fragment"`
}

// CandidateRecord is a published candidate with its origin and ordering key.
type CandidateRecord struct {
	SessionID string          `json:"session_id"`
	Origin    CandidateOrigin `json:"origin"`
	Candidate Candidate       `json:"candidate"`
	Timestamp time.Time       `json:"timestamp"`
}

// CallSession is one attempted or active call as stored in the mailbox.
type CallSession struct {
	ID             string        `json:"id"`
	PartitionOwner string        `json:"partition_owner"`
	CallerID       string        `json:"caller_id"`
	CalleeID       string        `json:"callee_id"`
	Kind           MediaKind     `json:"kind"`
	Status         SessionStatus `json:"status"`
	Offer          Description   `json:"offer,omitempty"`
	Answer         Description   `json:"answer,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	EndedAt        time.Time     `json:"ended_at,omitempty"`
}

// Ref addresses a session record within the mailbox hierarchy.
type Ref struct {
	PartitionOwner string `json:"partition_owner"`
	SessionID      string `json:"session_id"`
}

// Ref returns the mailbox address of the session.
func (s CallSession) Ref() Ref {
	return Ref{PartitionOwner: s.PartitionOwner, SessionID: s.ID}
}

// Reference timings for the signaling layer. StaleAfter is how long a
// session may sit in `calling` before it is treated as abandoned;
// CleanupDelay is the grace period between a session reaching a terminal
// status and its record being deleted, so late readers still find it.
const (
	StaleAfter   = 30 * time.Second
	CleanupDelay = 30 * time.Second
)
