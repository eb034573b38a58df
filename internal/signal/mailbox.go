package signal

import "context"

// Mailbox is the storage primitive for call signaling: an append-only,
// subscribable record store keyed by partition owner and session id.
// Implementations must enforce the write-once rules for offer and answer
// and must treat status writes against an already-terminal session as
// no-ops (races between "I am ending the call" and "the sweep already
// expired it" are expected on both sides).
//
// Subscription channels are closed when the passed context is cancelled or
// the returned stop function is called. Candidate subscribers receive every
// candidate of the requested origin already published, in publish order,
// before any candidate published after the subscription started.
type Mailbox interface {
	// CreateSession writes a new session record with status `calling` and
	// no offer, returning its id. The offer is written separately so record
	// creation is not held up by negotiation.
	CreateSession(ctx context.Context, partitionOwner, callerID, calleeID string, kind MediaKind) (string, error)

	// GetSession reads a session record. Returns ErrSessionNotFound if the
	// record does not exist.
	GetSession(ctx context.Context, ref Ref) (CallSession, error)

	// WriteOffer sets the session's offer. At most one write succeeds;
	// later attempts return ErrOfferAlreadySet.
	WriteOffer(ctx context.Context, ref Ref, offer Description) error

	// WriteAnswer sets the session's answer and flips its status to
	// `connected` in the same write. Requires an offer to be present.
	WriteAnswer(ctx context.Context, ref Ref, answer Description) error

	// MarkRejected, MarkEnded and MarkExpired transition the session to a
	// terminal status. All are no-ops when the session is already terminal
	// or already deleted.
	MarkRejected(ctx context.Context, ref Ref) error
	MarkEnded(ctx context.Context, ref Ref) error
	MarkExpired(ctx context.Context, ref Ref) error

	// DeleteSession removes the session record and its candidates.
	// Deleting a record that is already gone is not an error.
	DeleteSession(ctx context.Context, ref Ref) error

	// SubscribeSession streams every mutation of the session record,
	// starting with its current state.
	SubscribeSession(ctx context.Context, ref Ref) (<-chan CallSession, func(), error)

	// PublishCandidate appends a candidate record under the session.
	PublishCandidate(ctx context.Context, ref Ref, origin CandidateOrigin, cand Candidate) error

	// SubscribeCandidates streams candidate records of the given origin,
	// replaying already-published candidates first in publish order.
	SubscribeCandidates(ctx context.Context, ref Ref, origin CandidateOrigin) (<-chan CandidateRecord, func(), error)

	// WatchCalling streams session records under the partition owner that
	// are addressed to calleeID and in status `calling`, starting with any
	// currently pending ones, most recent first.
	WatchCalling(ctx context.Context, partitionOwner, calleeID string) (<-chan CallSession, func(), error)
}

// Directory maps participant ids to the mailbox partition they own, if any.
type Directory interface {
	// FindPartitionOwner reports whether participantID owns a mailbox
	// partition. The second return is false when the participant is not
	// directory-registered (the general non-owner case, not an error).
	FindPartitionOwner(ctx context.Context, participantID string) (string, bool, error)

	// ListPartitionOwners returns every known partition owner. Used by the
	// incoming-call listener to fan out subscriptions for participants that
	// do not own a partition themselves.
	ListPartitionOwners(ctx context.Context) ([]string, error)
}
