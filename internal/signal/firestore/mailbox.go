package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/peerline/peerline/internal/signal"
)

// Mailbox implements signal.Mailbox over Firestore.
type Mailbox struct {
	client *firestore.Client
	logger *slog.Logger
}

// descDoc is the stored shape of a session description.
type descDoc struct {
	Type string `firestore:"type"`
	SDP  string `firestore:"sdp"`
}

// sessionDoc is the stored shape of a call session record.
type sessionDoc struct {
	CallerID  string    `firestore:"caller_id"`
	CalleeID  string    `firestore:"callee_id"`
	Kind      string    `firestore:"kind"`
	Status    string    `firestore:"status"`
	Offer     *descDoc  `firestore:"offer,omitempty"`
	Answer    *descDoc  `firestore:"answer,omitempty"`
	CreatedAt time.Time `firestore:"created_at,serverTimestamp"`
	UpdatedAt time.Time `firestore:"updated_at,serverTimestamp"`
	EndedAt   time.Time `firestore:"ended_at,omitempty"`
}

// candidateDoc is the stored shape of one published ICE candidate.
type candidateDoc struct {
	Origin           string    `firestore:"origin"`
	Candidate        string    `firestore:"candidate"`
	SDPMid           *string   `firestore:"sdp_mid"`
	SDPMLineIndex    *uint16   `firestore:"sdp_m_line_index"`
	UsernameFragment *string   `firestore:"username_fragment"`
	Timestamp        time.Time `firestore:"timestamp,serverTimestamp"`
}

func (d sessionDoc) toSession(partitionOwner, id string) signal.CallSession {
	sess := signal.CallSession{
		ID:             id,
		PartitionOwner: partitionOwner,
		CallerID:       d.CallerID,
		CalleeID:       d.CalleeID,
		Kind:           signal.MediaKind(d.Kind),
		Status:         signal.SessionStatus(d.Status),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		EndedAt:        d.EndedAt,
	}
	if d.Offer != nil {
		sess.Offer = signal.Description{Type: d.Offer.Type, SDP: d.Offer.SDP}
	}
	if d.Answer != nil {
		sess.Answer = signal.Description{Type: d.Answer.Type, SDP: d.Answer.SDP}
	}
	return sess
}

func (d candidateDoc) toRecord(sessionID string) signal.CandidateRecord {
	return signal.CandidateRecord{
		SessionID: sessionID,
		Origin:    signal.CandidateOrigin(d.Origin),
		Candidate: signal.Candidate{
			Candidate:        d.Candidate,
			SDPMid:           d.SDPMid,
			SDPMLineIndex:    d.SDPMLineIndex,
			UsernameFragment: d.UsernameFragment,
		},
		Timestamp: d.Timestamp,
	}
}

func (m *Mailbox) sessionRef(ref signal.Ref) *firestore.DocumentRef {
	return sessionsColl(m.client, ref.PartitionOwner).Doc(ref.SessionID)
}

// CreateSession implements signal.Mailbox.
func (m *Mailbox) CreateSession(ctx context.Context, partitionOwner, callerID, calleeID string, kind signal.MediaKind) (string, error) {
	doc := sessionsColl(m.client, partitionOwner).NewDoc()
	_, err := doc.Create(ctx, sessionDoc{
		CallerID: callerID,
		CalleeID: calleeID,
		Kind:     string(kind),
		Status:   string(signal.StatusCalling),
	})
	if err != nil {
		return "", fmt.Errorf("creating session record: %w", err)
	}
	return doc.ID, nil
}

// GetSession implements signal.Mailbox.
func (m *Mailbox) GetSession(ctx context.Context, ref signal.Ref) (signal.CallSession, error) {
	snap, err := m.sessionRef(ref).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return signal.CallSession{}, signal.ErrSessionNotFound
		}
		return signal.CallSession{}, fmt.Errorf("reading session %s: %w", ref.SessionID, err)
	}
	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return signal.CallSession{}, fmt.Errorf("decoding session %s: %w", ref.SessionID, err)
	}
	return doc.toSession(ref.PartitionOwner, ref.SessionID), nil
}

// WriteOffer implements signal.Mailbox. A transaction guards the
// write-once rule against a duplicate write racing in from elsewhere.
func (m *Mailbox) WriteOffer(ctx context.Context, ref signal.Ref, offer signal.Description) error {
	err := m.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := m.txGet(tx, ref)
		if err != nil {
			return err
		}
		if signal.SessionStatus(doc.Status).Terminal() {
			return nil
		}
		if doc.Offer != nil {
			return signal.ErrOfferAlreadySet
		}
		return tx.Update(m.sessionRef(ref), []firestore.Update{
			{Path: "offer", Value: &descDoc{Type: offer.Type, SDP: offer.SDP}},
			{Path: "updated_at", Value: firestore.ServerTimestamp},
		})
	})
	if err != nil {
		return wrapWriteErr("writing offer", ref, err)
	}
	return nil
}

// WriteAnswer implements signal.Mailbox. Sets the answer and flips the
// status to connected in a single transactional write.
func (m *Mailbox) WriteAnswer(ctx context.Context, ref signal.Ref, answer signal.Description) error {
	err := m.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := m.txGet(tx, ref)
		if err != nil {
			return err
		}
		if signal.SessionStatus(doc.Status).Terminal() {
			return nil
		}
		if doc.Offer == nil {
			return signal.ErrOfferMissing
		}
		if doc.Answer != nil {
			return signal.ErrAnswerAlreadySet
		}
		return tx.Update(m.sessionRef(ref), []firestore.Update{
			{Path: "answer", Value: &descDoc{Type: answer.Type, SDP: answer.SDP}},
			{Path: "status", Value: string(signal.StatusConnected)},
			{Path: "updated_at", Value: firestore.ServerTimestamp},
		})
	})
	if err != nil {
		return wrapWriteErr("writing answer", ref, err)
	}
	return nil
}

// MarkRejected implements signal.Mailbox.
func (m *Mailbox) MarkRejected(ctx context.Context, ref signal.Ref) error {
	return m.markTerminal(ctx, ref, signal.StatusRejected)
}

// MarkEnded implements signal.Mailbox.
func (m *Mailbox) MarkEnded(ctx context.Context, ref signal.Ref) error {
	return m.markTerminal(ctx, ref, signal.StatusEnded)
}

// MarkExpired implements signal.Mailbox.
func (m *Mailbox) MarkExpired(ctx context.Context, ref signal.Ref) error {
	return m.markTerminal(ctx, ref, signal.StatusExpired)
}

func (m *Mailbox) markTerminal(ctx context.Context, ref signal.Ref, st signal.SessionStatus) error {
	err := m.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := m.txGet(tx, ref)
		if err != nil {
			return err
		}
		if signal.SessionStatus(doc.Status).Terminal() {
			return nil
		}
		return tx.Update(m.sessionRef(ref), []firestore.Update{
			{Path: "status", Value: string(st)},
			{Path: "updated_at", Value: firestore.ServerTimestamp},
			{Path: "ended_at", Value: firestore.ServerTimestamp},
		})
	})
	if err != nil {
		return wrapWriteErr("marking "+string(st), ref, err)
	}
	return nil
}

// DeleteSession implements signal.Mailbox. Firestore does not cascade
// subcollection deletes, so candidates are removed first.
func (m *Mailbox) DeleteSession(ctx context.Context, ref signal.Ref) error {
	candidates := m.sessionRef(ref).Collection(collCandidates)
	refs := candidates.DocumentRefs(ctx)
	for {
		doc, err := refs.Next()
		if err != nil {
			break
		}
		if _, err := doc.Delete(ctx); err != nil {
			m.logger.Debug("candidate delete failed", "session_id", ref.SessionID, "error", err)
		}
	}
	if _, err := m.sessionRef(ref).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("deleting session %s: %w", ref.SessionID, err)
	}
	return nil
}

// SubscribeSession implements signal.Mailbox using a document snapshot
// listener. The first snapshot carries the current record state.
func (m *Mailbox) SubscribeSession(ctx context.Context, ref signal.Ref) (<-chan signal.CallSession, func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	iter := m.sessionRef(ref).Snapshots(subCtx)

	ch := make(chan signal.CallSession, 16)
	go func() {
		defer close(ch)
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if err != nil {
				if subCtx.Err() == nil {
					m.logger.Warn("session listener stopped", "session_id", ref.SessionID, "error", err)
				}
				return
			}
			if !snap.Exists() {
				// Record deleted; the cleanup grace period is over.
				return
			}
			var doc sessionDoc
			if err := snap.DataTo(&doc); err != nil {
				m.logger.Warn("malformed session record", "session_id", ref.SessionID, "error", err)
				continue
			}
			select {
			case ch <- doc.toSession(ref.PartitionOwner, ref.SessionID):
			case <-subCtx.Done():
				return
			}
		}
	}()
	return ch, cancel, nil
}

// PublishCandidate implements signal.Mailbox.
func (m *Mailbox) PublishCandidate(ctx context.Context, ref signal.Ref, origin signal.CandidateOrigin, cand signal.Candidate) error {
	_, _, err := m.sessionRef(ref).Collection(collCandidates).Add(ctx, candidateDoc{
		Origin:           string(origin),
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	})
	if err != nil {
		return fmt.Errorf("publishing candidate for session %s: %w", ref.SessionID, err)
	}
	return nil
}

// SubscribeCandidates implements signal.Mailbox. The query snapshot
// listener's initial result set provides replay of candidates published
// before the subscription started, in timestamp order.
func (m *Mailbox) SubscribeCandidates(ctx context.Context, ref signal.Ref, origin signal.CandidateOrigin) (<-chan signal.CandidateRecord, func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	query := m.sessionRef(ref).Collection(collCandidates).
		Where("origin", "==", string(origin)).
		OrderBy("timestamp", firestore.Asc)
	iter := query.Snapshots(subCtx)

	ch := make(chan signal.CandidateRecord, 64)
	go func() {
		defer close(ch)
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if err != nil {
				if subCtx.Err() == nil {
					m.logger.Warn("candidate listener stopped", "session_id", ref.SessionID, "error", err)
				}
				return
			}
			for _, change := range snap.Changes {
				if change.Kind != firestore.DocumentAdded {
					continue
				}
				var doc candidateDoc
				if err := change.Doc.DataTo(&doc); err != nil {
					m.logger.Warn("malformed candidate record", "session_id", ref.SessionID, "error", err)
					continue
				}
				select {
				case ch <- doc.toRecord(ref.SessionID):
				case <-subCtx.Done():
					return
				}
			}
		}
	}()
	return ch, cancel, nil
}

// WatchCalling implements signal.Mailbox with a filtered query snapshot
// listener over the partition's sessions.
func (m *Mailbox) WatchCalling(ctx context.Context, partitionOwner, calleeID string) (<-chan signal.CallSession, func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	query := sessionsColl(m.client, partitionOwner).
		Where("callee_id", "==", calleeID).
		Where("status", "==", string(signal.StatusCalling)).
		OrderBy("created_at", firestore.Desc)
	iter := query.Snapshots(subCtx)

	ch := make(chan signal.CallSession, 16)
	go func() {
		defer close(ch)
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if err != nil {
				if subCtx.Err() == nil {
					m.logger.Warn("incoming listener stopped", "partition", partitionOwner, "error", err)
				}
				return
			}
			for _, change := range snap.Changes {
				if change.Kind != firestore.DocumentAdded {
					continue
				}
				var doc sessionDoc
				if err := change.Doc.DataTo(&doc); err != nil {
					m.logger.Warn("malformed session record", "partition", partitionOwner, "error", err)
					continue
				}
				select {
				case ch <- doc.toSession(partitionOwner, change.Doc.Ref.ID):
				case <-subCtx.Done():
					return
				}
			}
		}
	}()
	return ch, cancel, nil
}

// txGet reads the session document inside a transaction, mapping a missing
// record to ErrSessionNotFound.
func (m *Mailbox) txGet(tx *firestore.Transaction, ref signal.Ref) (sessionDoc, error) {
	snap, err := tx.Get(m.sessionRef(ref))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return sessionDoc{}, signal.ErrSessionNotFound
		}
		return sessionDoc{}, err
	}
	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return sessionDoc{}, err
	}
	return doc, nil
}

// wrapWriteErr keeps sentinel errors unwrapped so callers can errors.Is them.
func wrapWriteErr(op string, ref signal.Ref, err error) error {
	if errors.Is(err, signal.ErrSessionNotFound) ||
		errors.Is(err, signal.ErrOfferAlreadySet) ||
		errors.Is(err, signal.ErrAnswerAlreadySet) ||
		errors.Is(err, signal.ErrOfferMissing) {
		return err
	}
	return fmt.Errorf("%s for session %s: %w", op, ref.SessionID, err)
}
