package signal

import "errors"

// Sentinel errors for mailbox contract violations. Writers targeting a
// session already in a terminal state are treated as no-ops rather than
// errors; these sentinels cover the cases that genuinely abort an operation.
var (
	// ErrSessionNotFound is returned when a session record does not exist
	// (or was already cleaned up).
	ErrSessionNotFound = errors.New("signal: session not found")

	// ErrPartitionNotFound is returned when neither party of a call is a
	// directory-registered partition owner.
	ErrPartitionNotFound = errors.New("signal: no partition owner for call")

	// ErrOfferAlreadySet is returned by WriteOffer when the session already
	// carries an offer.
	ErrOfferAlreadySet = errors.New("signal: offer already written")

	// ErrAnswerAlreadySet is returned by WriteAnswer when the session
	// already carries an answer.
	ErrAnswerAlreadySet = errors.New("signal: answer already written")

	// ErrOfferMissing is returned by WriteAnswer when no offer has been
	// written yet; an answer can never precede the offer.
	ErrOfferMissing = errors.New("signal: answer before offer")
)
