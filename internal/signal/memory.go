package signal

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriber channel capacity. Signaling traffic per call is small (one
// offer, one answer, a handful of candidates); a slow consumer that falls
// more than this far behind has its events dropped with a warning.
const subChanCap = 64

// MemoryMailbox is an in-process Mailbox with full replay and watch
// semantics. It backs the `memory` backend for single-process deployments
// and is the reference implementation the signaling tests run against.
type MemoryMailbox struct {
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[Ref]*memorySession
	watchers map[int]*callingWatcher
	nextID   int
}

type memorySession struct {
	sess       CallSession
	candidates []CandidateRecord
	sessSubs   map[int]chan CallSession
	candSubs   map[int]*candidateSub
}

type candidateSub struct {
	origin CandidateOrigin
	ch     chan CandidateRecord
}

type callingWatcher struct {
	partitionOwner string
	calleeID       string
	ch             chan CallSession
}

// NewMemoryMailbox creates an empty in-memory mailbox.
func NewMemoryMailbox(logger *slog.Logger) *MemoryMailbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryMailbox{
		logger:   logger.With("subsystem", "mailbox-memory"),
		now:      time.Now,
		sessions: make(map[Ref]*memorySession),
		watchers: make(map[int]*callingWatcher),
	}
}

// CreateSession implements Mailbox.
func (m *MemoryMailbox) CreateSession(ctx context.Context, partitionOwner, callerID, calleeID string, kind MediaKind) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	sess := CallSession{
		ID:             uuid.NewString(),
		PartitionOwner: partitionOwner,
		CallerID:       callerID,
		CalleeID:       calleeID,
		Kind:           kind,
		Status:         StatusCalling,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.sessions[sess.Ref()] = &memorySession{
		sess:     sess,
		sessSubs: make(map[int]chan CallSession),
		candSubs: make(map[int]*candidateSub),
	}
	m.notifyWatchersLocked(sess)
	return sess.ID, nil
}

// SeedSession inserts a fully formed session record, preserving its
// timestamps and status. Used to restore state and to arrange records in
// tests; watchers are notified as for a freshly created session.
func (m *MemoryMailbox) SeedSession(sess CallSession) Ref {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	m.sessions[sess.Ref()] = &memorySession{
		sess:     sess,
		sessSubs: make(map[int]chan CallSession),
		candSubs: make(map[int]*candidateSub),
	}
	if sess.Status == StatusCalling {
		m.notifyWatchersLocked(sess)
	}
	return sess.Ref()
}

// GetSession implements Mailbox.
func (m *MemoryMailbox) GetSession(ctx context.Context, ref Ref) (CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[ref]
	if !ok {
		return CallSession{}, ErrSessionNotFound
	}
	return rec.sess, nil
}

// WriteOffer implements Mailbox.
func (m *MemoryMailbox) WriteOffer(ctx context.Context, ref Ref, offer Description) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[ref]
	if !ok {
		return ErrSessionNotFound
	}
	if rec.sess.Status.Terminal() {
		return nil
	}
	if !rec.sess.Offer.Empty() {
		return ErrOfferAlreadySet
	}
	rec.sess.Offer = offer
	rec.sess.UpdatedAt = m.now()
	m.notifySessionLocked(rec)
	return nil
}

// WriteAnswer implements Mailbox.
func (m *MemoryMailbox) WriteAnswer(ctx context.Context, ref Ref, answer Description) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[ref]
	if !ok {
		return ErrSessionNotFound
	}
	if rec.sess.Status.Terminal() {
		return nil
	}
	if rec.sess.Offer.Empty() {
		return ErrOfferMissing
	}
	if !rec.sess.Answer.Empty() {
		return ErrAnswerAlreadySet
	}
	rec.sess.Answer = answer
	rec.sess.Status = StatusConnected
	rec.sess.UpdatedAt = m.now()
	m.notifySessionLocked(rec)
	return nil
}

// MarkRejected implements Mailbox.
func (m *MemoryMailbox) MarkRejected(ctx context.Context, ref Ref) error {
	return m.markTerminal(ref, StatusRejected)
}

// MarkEnded implements Mailbox.
func (m *MemoryMailbox) MarkEnded(ctx context.Context, ref Ref) error {
	return m.markTerminal(ref, StatusEnded)
}

// MarkExpired implements Mailbox.
func (m *MemoryMailbox) MarkExpired(ctx context.Context, ref Ref) error {
	return m.markTerminal(ref, StatusExpired)
}

func (m *MemoryMailbox) markTerminal(ref Ref, status SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[ref]
	if !ok {
		return ErrSessionNotFound
	}
	if rec.sess.Status.Terminal() {
		return nil
	}
	now := m.now()
	rec.sess.Status = status
	rec.sess.UpdatedAt = now
	rec.sess.EndedAt = now
	m.notifySessionLocked(rec)
	return nil
}

// DeleteSession implements Mailbox. Subscriber channels for the session are
// closed; deleting a missing session is a no-op.
func (m *MemoryMailbox) DeleteSession(ctx context.Context, ref Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[ref]
	if !ok {
		return nil
	}
	for _, ch := range rec.sessSubs {
		close(ch)
	}
	for _, sub := range rec.candSubs {
		close(sub.ch)
	}
	delete(m.sessions, ref)
	return nil
}

// SubscribeSession implements Mailbox. The current record state is
// delivered first, then every subsequent mutation.
func (m *MemoryMailbox) SubscribeSession(ctx context.Context, ref Ref) (<-chan CallSession, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[ref]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}

	ch := make(chan CallSession, subChanCap)
	id := m.nextID
	m.nextID++
	rec.sessSubs[id] = ch
	ch <- rec.sess

	stop := m.unsubscribeFunc(ref, func(rec *memorySession) {
		if c, ok := rec.sessSubs[id]; ok {
			delete(rec.sessSubs, id)
			close(c)
		}
	})
	m.stopOnDone(ctx, stop)
	return ch, stop, nil
}

// PublishCandidate implements Mailbox.
func (m *MemoryMailbox) PublishCandidate(ctx context.Context, ref Ref, origin CandidateOrigin, cand Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[ref]
	if !ok {
		return ErrSessionNotFound
	}
	record := CandidateRecord{
		SessionID: ref.SessionID,
		Origin:    origin,
		Candidate: cand,
		Timestamp: m.now(),
	}
	rec.candidates = append(rec.candidates, record)
	for _, sub := range rec.candSubs {
		if sub.origin == origin {
			send(m.logger, sub.ch, record)
		}
	}
	return nil
}

// SubscribeCandidates implements Mailbox. Already-published candidates of
// the requested origin are replayed in publish order before live delivery
// begins; the lock guarantees no candidate is missed or reordered between
// replay and live.
func (m *MemoryMailbox) SubscribeCandidates(ctx context.Context, ref Ref, origin CandidateOrigin) (<-chan CandidateRecord, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[ref]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}

	ch := make(chan CandidateRecord, subChanCap)
	for _, c := range rec.candidates {
		if c.Origin == origin {
			send(m.logger, ch, c)
		}
	}
	id := m.nextID
	m.nextID++
	rec.candSubs[id] = &candidateSub{origin: origin, ch: ch}

	stop := m.unsubscribeFunc(ref, func(rec *memorySession) {
		if sub, ok := rec.candSubs[id]; ok {
			delete(rec.candSubs, id)
			close(sub.ch)
		}
	})
	m.stopOnDone(ctx, stop)
	return ch, stop, nil
}

// WatchCalling implements Mailbox. Pending sessions are replayed most
// recent first, then new `calling` records are delivered as they appear.
func (m *MemoryMailbox) WatchCalling(ctx context.Context, partitionOwner, calleeID string) (<-chan CallSession, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan CallSession, subChanCap)

	var pending []CallSession
	for ref, rec := range m.sessions {
		if ref.PartitionOwner == partitionOwner && rec.sess.CalleeID == calleeID && rec.sess.Status == StatusCalling {
			pending = append(pending, rec.sess)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.After(pending[j].CreatedAt)
	})
	for _, sess := range pending {
		send(m.logger, ch, sess)
	}

	id := m.nextID
	m.nextID++
	m.watchers[id] = &callingWatcher{partitionOwner: partitionOwner, calleeID: calleeID, ch: ch}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if w, ok := m.watchers[id]; ok {
				delete(m.watchers, id)
				close(w.ch)
			}
		})
	}
	m.stopOnDone(ctx, stop)
	return ch, stop, nil
}

// notifySessionLocked fans the current session state out to its subscribers.
func (m *MemoryMailbox) notifySessionLocked(rec *memorySession) {
	for _, ch := range rec.sessSubs {
		send(m.logger, ch, rec.sess)
	}
}

// notifyWatchersLocked delivers a newly calling session to matching watchers.
func (m *MemoryMailbox) notifyWatchersLocked(sess CallSession) {
	for _, w := range m.watchers {
		if w.partitionOwner == sess.PartitionOwner && w.calleeID == sess.CalleeID {
			send(m.logger, w.ch, sess)
		}
	}
}

// send delivers without blocking; a full subscriber buffer drops the event.
func send[T any](logger *slog.Logger, ch chan T, v T) {
	select {
	case ch <- v:
	default:
		logger.Warn("dropping signaling event, subscriber too slow")
	}
}

// unsubscribeFunc builds an idempotent stop function that removes one
// subscriber from a session's registry if the session still exists.
func (m *MemoryMailbox) unsubscribeFunc(ref Ref, remove func(*memorySession)) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if rec, ok := m.sessions[ref]; ok {
				remove(rec)
			}
		})
	}
}

// stopOnDone ties a subscription's lifetime to its context.
func (m *MemoryMailbox) stopOnDone(ctx context.Context, stop func()) {
	if ctx.Done() == nil {
		return
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
}

// MemoryDirectory is a static in-process Directory.
type MemoryDirectory struct {
	mu     sync.RWMutex
	owners map[string]struct{}
}

// NewMemoryDirectory creates a directory pre-registered with the given
// partition owners.
func NewMemoryDirectory(owners ...string) *MemoryDirectory {
	d := &MemoryDirectory{owners: make(map[string]struct{}, len(owners))}
	for _, o := range owners {
		d.owners[o] = struct{}{}
	}
	return d
}

// Register adds a partition owner.
func (d *MemoryDirectory) Register(owner string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.owners[owner] = struct{}{}
}

// FindPartitionOwner implements Directory.
func (d *MemoryDirectory) FindPartitionOwner(ctx context.Context, participantID string) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.owners[participantID]; ok {
		return participantID, true, nil
	}
	return "", false, nil
}

// ListPartitionOwners implements Directory.
func (d *MemoryDirectory) ListPartitionOwners(ctx context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	owners := make([]string, 0, len(d.owners))
	for o := range d.owners {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	return owners, nil
}
