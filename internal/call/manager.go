// Package call orchestrates the full lifecycle of a peer-to-peer call:
// media acquisition, transport negotiation, mailbox signaling, and the
// local state machine the UI layer observes. One Manager serves one local
// participant; at most one call (outbound or incoming) is live at a time.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/peerline/peerline/internal/media"
	"github.com/peerline/peerline/internal/signal"
	"github.com/peerline/peerline/internal/transport"
)

// Default timings: how long a half-dead connection is tolerated before the
// call is declared over, and how long a `calling` record may ring before it
// is treated as abandoned.
const (
	DefaultDisconnectGrace = 10 * time.Second
	mailboxWriteTimeout    = 5 * time.Second
	eventSubCap            = 32
)

// Transport is the slice of transport.Session the manager drives. A fresh
// Transport is constructed for every call attempt and closed exactly once
// when the call reaches a terminal state.
type Transport interface {
	OnLocalCandidate(fn func(signal.Candidate))
	AddLocalTracks(h *media.Handle) error
	CreateOffer() (signal.Description, error)
	CreateAnswer() (signal.Description, error)
	SetRemoteDescription(d signal.Description) error
	AddRemoteCandidate(c signal.Candidate) error
	SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) error
	Events() <-chan transport.Event
	Done() <-chan struct{}
	Close() error
}

// TransportFactory constructs the transport for one call attempt.
type TransportFactory func() (Transport, error)

// Config assembles a Manager. Signaling, Media and NewTransport are
// required; History is optional.
type Config struct {
	ParticipantID string
	Signaling     *signal.Adapter
	Media         media.Provider
	NewTransport  TransportFactory
	History       HistorySink
	Logger        *slog.Logger

	// OnPlaced, when set, is invoked after an outbound call's offer is
	// published. It is the hook for push notifications.
	OnPlaced func(signal.CallSession)

	// DisconnectGrace bounds how long a transient connection loss is
	// tolerated. Defaults to DefaultDisconnectGrace.
	DisconnectGrace time.Duration
	// StaleAfter is the ring/staleness threshold. Defaults to
	// signal.StaleAfter.
	StaleAfter time.Duration
	// CleanupDelay is the grace before terminal records are deleted.
	// Defaults to signal.CleanupDelay.
	CleanupDelay time.Duration
}

// Manager is the call session state machine.
type Manager struct {
	participantID string
	sig           *signal.Adapter
	media         media.Provider
	newTransport  TransportFactory
	history       HistorySink
	onPlaced      func(signal.CallSession)
	logger        *slog.Logger

	grace        time.Duration
	staleAfter   time.Duration
	cleanupDelay time.Duration

	// opMu serialises Start/Answer/Reject/End so their multi-step
	// sequences never interleave.
	opMu sync.Mutex

	mu         sync.Mutex
	state      State
	active     *activeCall
	ringing    *signal.CallSession
	ringTimer  *time.Timer
	ringCancel context.CancelFunc
	lastErr    string
	subs       map[int]chan Event
	nextSub    int
}

// activeCall is the arena for one call attempt: every resource scoped to
// the attempt lives here and is discarded wholesale on teardown.
type activeCall struct {
	role   signal.CandidateOrigin
	handle *media.Handle
	tpt    Transport
	cancel context.CancelFunc

	endOnce sync.Once

	mu          sync.Mutex
	sess        signal.CallSession
	startedAt   time.Time
	connectedAt time.Time
	graceTimer  *time.Timer
}

func (ac *activeCall) snapshot() signal.CallSession {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.sess
}

// NewManager validates the config and returns an idle manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.ParticipantID == "" {
		return nil, errors.New("call: participant id required")
	}
	if cfg.Signaling == nil || cfg.Media == nil || cfg.NewTransport == nil {
		return nil, errors.New("call: signaling, media and transport factory required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		participantID: cfg.ParticipantID,
		sig:           cfg.Signaling,
		media:         cfg.Media,
		newTransport:  cfg.NewTransport,
		history:       cfg.History,
		onPlaced:      cfg.OnPlaced,
		logger:        logger.With("subsystem", "call", "participant", cfg.ParticipantID),
		grace:         cfg.DisconnectGrace,
		staleAfter:    cfg.StaleAfter,
		cleanupDelay:  cfg.CleanupDelay,
		state:         StateIdle,
		subs:          make(map[int]chan Event),
	}
	if m.grace <= 0 {
		m.grace = DefaultDisconnectGrace
	}
	if m.staleAfter <= 0 {
		m.staleAfter = signal.StaleAfter
	}
	if m.cleanupDelay <= 0 {
		m.cleanupDelay = signal.CleanupDelay
	}
	return m, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a snapshot for the UI layer.
func (m *Manager) Status() Status {
	m.mu.Lock()
	st := Status{State: m.state, Error: m.lastErr}
	if m.ringing != nil {
		sess := *m.ringing
		st.Session = &sess
	}
	ac := m.active
	m.mu.Unlock()

	if ac != nil {
		sess := ac.snapshot()
		st.Session = &sess
		if ac.handle != nil {
			st.Muted = !ac.handle.AudioEnabled()
			st.CameraOff = ac.handle.HasVideo() && !ac.handle.VideoEnabled()
		}
	}
	return st
}

// Subscribe registers an event subscriber. The returned stop function
// unregisters it and closes the channel.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Event, eventSubCap)
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
}

// Error returns the current user-facing error, if any.
func (m *Manager) Error() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// ClearError clears the current error.
func (m *Manager) ClearError() {
	m.mu.Lock()
	m.lastErr = ""
	m.mu.Unlock()
	m.emit(Event{Kind: EventError})
}

// Start places an outbound call. Valid only from Idle: media is acquired,
// a fresh transport constructed, the session record created under the
// resolved partition with our offer, and subscriptions opened for the
// answer and the remote candidates. Start returns as soon as the offer is
// written; the answer arrives through the subscription. Any failure
// releases everything acquired so far and leaves the manager Idle.
func (m *Manager) Start(ctx context.Context, calleeID string, kind signal.MediaKind) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.state != StateIdle {
		st := m.state
		m.mu.Unlock()
		return fmt.Errorf("call: cannot start in state %s", st)
	}
	m.mu.Unlock()

	handle, err := m.media.Acquire(ctx, media.DefaultConstraints(kind == signal.MediaVideo))
	if err != nil {
		m.setError(mediaMessage(err))
		return err
	}

	tpt, err := m.newTransport()
	if err != nil {
		handle.Stop()
		m.setError("Could not start the call. Try again.")
		return fmt.Errorf("creating transport: %w", err)
	}

	abort := func() {
		handle.Stop()
		_ = tpt.Close()
	}

	if err := tpt.AddLocalTracks(handle); err != nil {
		abort()
		m.setError("Could not start the call. Try again.")
		return err
	}

	owner, err := m.sig.ResolvePartition(ctx, m.participantID, calleeID)
	if err != nil {
		abort()
		m.setError("The other participant could not be found.")
		return err
	}

	sessionID, err := m.sig.CreateSession(ctx, owner, m.participantID, calleeID, kind)
	if err != nil {
		abort()
		m.setError("Could not start the call. Try again.")
		return fmt.Errorf("creating session: %w", err)
	}
	ref := signal.Ref{PartitionOwner: owner, SessionID: sessionID}

	// Candidate publishing must be wired before the offer: gathering
	// starts the moment the local description is set.
	m.publishCandidatesTo(tpt, ref, signal.OriginOffer)

	offer, err := tpt.CreateOffer()
	if err != nil {
		m.abortSession(ref, abort)
		m.setError("Connection failed. Try again.")
		return err
	}
	if err := m.sig.WriteOffer(ctx, ref, offer); err != nil {
		m.abortSession(ref, abort)
		m.setError("Could not start the call. Try again.")
		return fmt.Errorf("writing offer: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sessCh, _, err := m.sig.SubscribeSession(runCtx, ref)
	if err == nil {
		var candCh <-chan signal.CandidateRecord
		candCh, _, err = m.sig.SubscribeCandidates(runCtx, ref, signal.OriginAnswer)
		if err == nil {
			now := time.Now()
			ac := &activeCall{
				role:   signal.OriginOffer,
				handle: handle,
				tpt:    tpt,
				cancel: cancel,
				sess: signal.CallSession{
					ID:             sessionID,
					PartitionOwner: owner,
					CallerID:       m.participantID,
					CalleeID:       calleeID,
					Kind:           kind,
					Status:         signal.StatusCalling,
					CreatedAt:      now,
				},
				startedAt: now,
			}

			// An incoming call can ring while Start was blocked in media
			// acquisition or mailbox writes. The ring wins: commit only if
			// the manager is still Idle, otherwise release everything and
			// retire the half-placed session.
			m.mu.Lock()
			if m.state != StateIdle {
				st := m.state
				m.mu.Unlock()
				cancel()
				m.abortSession(ref, abort)
				return fmt.Errorf("call: cannot start in state %s", st)
			}
			m.state = StateCalling
			m.active = ac
			m.mu.Unlock()
			m.emit(Event{Kind: EventState, State: StateCalling})
			m.logger.Info("call started", "session_id", sessionID, "callee", calleeID, "kind", string(kind))

			if m.onPlaced != nil {
				m.onPlaced(ac.snapshot())
			}
			go m.runLoop(runCtx, ac, sessCh, candCh)
			return nil
		}
	}

	cancel()
	m.abortSession(ref, abort)
	m.setError("Could not start the call. Try again.")
	return fmt.Errorf("subscribing to session: %w", err)
}

// Answer accepts the currently ringing incoming call. Valid only from
// Ringing with a matching session id. The mailbox record's offer becomes
// the remote description, our answer is written back (flipping the record
// to connected), and the state moves to Connected optimistically; the
// transport's own connection state remains authoritative.
func (m *Manager) Answer(ctx context.Context, ref signal.Ref, kind signal.MediaKind) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.takeRinging(ref.SessionID); err != nil {
		return err
	}

	sess, err := m.sig.GetSession(ctx, ref)
	if err != nil {
		m.toIdle()
		m.setError("The call is no longer available.")
		return err
	}
	if sess.Status.Terminal() || sess.Offer.Empty() {
		m.toIdle()
		m.setError("The call is no longer available.")
		return fmt.Errorf("call: session %s not answerable (status %s)", ref.SessionID, sess.Status)
	}

	handle, err := m.media.Acquire(ctx, media.DefaultConstraints(kind == signal.MediaVideo))
	if err != nil {
		m.toIdle()
		m.setError(mediaMessage(err))
		return err
	}

	tpt, err := m.newTransport()
	if err != nil {
		handle.Stop()
		m.toIdle()
		m.setError("Could not answer the call. Try again.")
		return fmt.Errorf("creating transport: %w", err)
	}

	abort := func() {
		handle.Stop()
		_ = tpt.Close()
		m.toIdle()
	}

	if err := tpt.AddLocalTracks(handle); err != nil {
		abort()
		m.setError("Could not answer the call. Try again.")
		return err
	}
	if err := tpt.SetRemoteDescription(sess.Offer); err != nil {
		abort()
		m.setError("Connection failed. Try again.")
		return err
	}

	m.publishCandidatesTo(tpt, ref, signal.OriginAnswer)

	answer, err := tpt.CreateAnswer()
	if err != nil {
		abort()
		m.setError("Connection failed. Try again.")
		return err
	}
	if err := m.sig.WriteAnswer(ctx, ref, answer); err != nil {
		abort()
		m.setError("The call is no longer available.")
		return fmt.Errorf("writing answer: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sessCh, _, err := m.sig.SubscribeSession(runCtx, ref)
	if err == nil {
		var candCh <-chan signal.CandidateRecord
		candCh, _, err = m.sig.SubscribeCandidates(runCtx, ref, signal.OriginOffer)
		if err == nil {
			now := time.Now()
			sess.Status = signal.StatusConnected
			ac := &activeCall{
				role:        signal.OriginAnswer,
				handle:      handle,
				tpt:         tpt,
				cancel:      cancel,
				sess:        sess,
				startedAt:   now,
				connectedAt: now,
			}

			m.mu.Lock()
			m.state = StateConnected
			m.active = ac
			m.ringing = nil
			m.mu.Unlock()
			m.emit(Event{Kind: EventState, State: StateConnected})
			m.logger.Info("call answered", "session_id", ref.SessionID, "caller", sess.CallerID)

			go m.runLoop(runCtx, ac, sessCh, candCh)
			return nil
		}
	}

	cancel()
	abort()
	m.setError("Could not answer the call. Try again.")
	return fmt.Errorf("subscribing to session: %w", err)
}

// Reject declines the currently ringing incoming call. No transport was
// ever created for it, so only the mailbox record is touched.
func (m *Manager) Reject(ctx context.Context, ref signal.Ref) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.takeRinging(ref.SessionID); err != nil {
		return err
	}

	rec := m.ringingRecord(ref, DispositionRejected)
	m.toIdle()

	if err := m.sig.MarkRejected(ctx, ref); err != nil {
		if errors.Is(err, signal.ErrSessionNotFound) {
			m.setError("The call is no longer available.")
			return err
		}
		return fmt.Errorf("rejecting session: %w", err)
	}
	m.sig.ScheduleCleanup(ref, m.cleanupDelay)
	m.recordHistory(rec)
	m.logger.Info("call rejected", "session_id", ref.SessionID)
	return nil
}

// End tears the current call down: media stopped, transport closed,
// mailbox record marked ended (best effort) and scheduled for cleanup,
// all listeners unsubscribed. Idempotent; ending from Idle is a no-op.
func (m *Manager) End(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	state := m.state
	ac := m.active
	var ringRef signal.Ref
	var rec HistoryRecord
	if state == StateRinging && m.ringing != nil {
		ringRef = m.ringing.Ref()
		rec = m.ringingRecordLocked(ringRef, DispositionMissed)
	}
	m.mu.Unlock()

	switch state {
	case StateIdle:
		return nil
	case StateRinging:
		m.toIdle()
		if err := m.sig.MarkEnded(ctx, ringRef); err != nil && !errors.Is(err, signal.ErrSessionNotFound) {
			m.logger.Debug("marking ringing session ended", "error", err)
		}
		m.sig.ScheduleCleanup(ringRef, m.cleanupDelay)
		m.recordHistory(rec)
		return nil
	default:
		if ac != nil {
			m.finish(ac, "", true)
		}
		return nil
	}
}

// ToggleMute flips the local audio mute and detaches or reattaches the
// audio track on the transport. Reports the new muted state and whether a
// local stream existed to act on.
func (m *Manager) ToggleMute() (muted, ok bool) {
	m.mu.Lock()
	ac := m.active
	m.mu.Unlock()
	if ac == nil || ac.handle == nil {
		return false, false
	}
	muted = ac.handle.ToggleAudio()
	if err := ac.tpt.SetTrackEnabled(webrtc.RTPCodecTypeAudio, !muted); err != nil {
		m.logger.Warn("toggling audio track", "muted", muted, "error", err)
	}
	return muted, true
}

// ToggleCamera flips the local camera off state and detaches or reattaches
// the video track on the transport. Reports the new camera-off state and
// whether a local video track existed to act on.
func (m *Manager) ToggleCamera() (off, ok bool) {
	m.mu.Lock()
	ac := m.active
	m.mu.Unlock()
	if ac == nil || ac.handle == nil || !ac.handle.HasVideo() {
		return false, false
	}
	off = ac.handle.ToggleVideo()
	if err := ac.tpt.SetTrackEnabled(webrtc.RTPCodecTypeVideo, !off); err != nil {
		m.logger.Warn("toggling video track", "off", off, "error", err)
	}
	return off, true
}

// runLoop consumes the session subscription, the remote candidate stream
// and the transport event queue for one call attempt. It exits when the
// attempt's context is cancelled by teardown.
func (m *Manager) runLoop(ctx context.Context, ac *activeCall, sessCh <-chan signal.CallSession, candCh <-chan signal.CandidateRecord) {
	for {
		select {
		case <-ctx.Done():
			return
		case sess, ok := <-sessCh:
			if !ok {
				sessCh = nil
				continue
			}
			m.handleSessionUpdate(ac, sess)
		case cand, ok := <-candCh:
			if !ok {
				candCh = nil
				continue
			}
			if err := ac.tpt.AddRemoteCandidate(cand.Candidate); err != nil {
				m.logger.Warn("applying remote candidate", "error", err)
			}
		case ev := <-ac.tpt.Events():
			m.handleTransportEvent(ac, ev)
		}
	}
}

// handleSessionUpdate reacts to a mailbox mutation of the active session.
func (m *Manager) handleSessionUpdate(ac *activeCall, sess signal.CallSession) {
	ac.mu.Lock()
	ac.sess = sess
	ac.mu.Unlock()

	switch sess.Status {
	case signal.StatusRejected:
		m.setError("Call was rejected.")
		m.finish(ac, DispositionRejected, false)
		return
	case signal.StatusExpired:
		m.setError("Call was not answered.")
		m.finish(ac, DispositionExpired, false)
		return
	case signal.StatusEnded:
		m.finish(ac, "", false)
		return
	}

	// Caller side: the answer arrives through this subscription. The
	// transport guards against the duplicate deliveries the mailbox may
	// produce.
	if ac.role == signal.OriginOffer && !sess.Answer.Empty() {
		if err := ac.tpt.SetRemoteDescription(sess.Answer); err != nil {
			m.logger.Warn("applying answer", "error", err)
			m.setError("Connection failed. Try again.")
			m.finish(ac, DispositionFailed, true)
		}
	}
}

// handleTransportEvent reacts to one transport observation. The peer
// connection state is authoritative for lifecycle; ICE states only feed
// diagnostics.
func (m *Manager) handleTransportEvent(ac *activeCall, ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnectionState:
		switch ev.ConnectionState {
		case webrtc.PeerConnectionStateConnected:
			ac.mu.Lock()
			if ac.graceTimer != nil {
				ac.graceTimer.Stop()
				ac.graceTimer = nil
			}
			if ac.connectedAt.IsZero() {
				ac.connectedAt = time.Now()
			}
			ac.mu.Unlock()

			m.mu.Lock()
			changed := m.active == ac && m.state != StateConnected
			if changed {
				m.state = StateConnected
			}
			m.mu.Unlock()
			if changed {
				m.emit(Event{Kind: EventState, State: StateConnected})
				m.logger.Info("call connected", "session_id", ac.snapshot().ID)
			}

		case webrtc.PeerConnectionStateDisconnected:
			// One grace timer at a time; repeated disconnected
			// observations while it is pending do not restart it.
			ac.mu.Lock()
			if ac.graceTimer == nil {
				ac.graceTimer = time.AfterFunc(m.grace, func() {
					m.setError("Connection lost. Try again.")
					m.finish(ac, DispositionFailed, true)
				})
			}
			ac.mu.Unlock()
			m.logger.Warn("connection degraded", "session_id", ac.snapshot().ID, "grace", m.grace)

		case webrtc.PeerConnectionStateFailed:
			m.setError("Connection failed. Try again.")
			m.finish(ac, DispositionFailed, true)

		case webrtc.PeerConnectionStateClosed:
			m.finish(ac, "", true)
		}

	case transport.EventICEConnectionState:
		if ev.ICEConnectionState == webrtc.ICEConnectionStateFailed {
			m.setError("A working network path could not be established.")
		}

	case transport.EventRemoteTrack:
		m.logger.Debug("remote track arrived", "kind", ev.TrackKind.String())
	}
}

// finish tears an active call down exactly once: subscriptions cancelled,
// grace timer stopped, media released, transport closed, mailbox record
// marked ended (when writeTerminal) and scheduled for cleanup, state back
// to Idle. disposition defaults by whether the call ever connected.
func (m *Manager) finish(ac *activeCall, disposition Disposition, writeTerminal bool) {
	ac.endOnce.Do(func() {
		ac.cancel()

		ac.mu.Lock()
		if ac.graceTimer != nil {
			ac.graceTimer.Stop()
			ac.graceTimer = nil
		}
		sess := ac.sess
		startedAt := ac.startedAt
		connectedAt := ac.connectedAt
		ac.mu.Unlock()

		if ac.handle != nil {
			ac.handle.Stop()
		}
		if err := ac.tpt.Close(); err != nil {
			m.logger.Debug("closing transport", "error", err)
		}

		ref := sess.Ref()
		if writeTerminal {
			ctx, cancel := context.WithTimeout(context.Background(), mailboxWriteTimeout)
			defer cancel()
			if err := m.sig.MarkEnded(ctx, ref); err != nil && !errors.Is(err, signal.ErrSessionNotFound) {
				m.logger.Debug("marking session ended", "session_id", ref.SessionID, "error", err)
			}
		}
		m.sig.ScheduleCleanup(ref, m.cleanupDelay)

		m.mu.Lock()
		if m.active == ac {
			m.active = nil
			m.state = StateIdle
		}
		m.mu.Unlock()
		m.emit(Event{Kind: EventState, State: StateIdle})

		if disposition == "" {
			if connectedAt.IsZero() {
				disposition = DispositionCanceled
			} else {
				disposition = DispositionCompleted
			}
		}
		rec := HistoryRecord{
			SessionID:      sess.ID,
			PartitionOwner: sess.PartitionOwner,
			CallerID:       sess.CallerID,
			CalleeID:       sess.CalleeID,
			Kind:           sess.Kind,
			Disposition:    disposition,
			StartedAt:      startedAt,
			ConnectedAt:    connectedAt,
			EndedAt:        time.Now(),
		}
		m.recordHistory(rec)
		m.emit(Event{Kind: EventEnded, Ended: &rec})
		m.logger.Info("call finished",
			"session_id", sess.ID,
			"disposition", string(disposition),
		)
	})
}

// abortSession is the failure path for a half-created session during
// Start: release local resources and retire the record best-effort.
func (m *Manager) abortSession(ref signal.Ref, release func()) {
	release()
	ctx, cancel := context.WithTimeout(context.Background(), mailboxWriteTimeout)
	defer cancel()
	if err := m.sig.MarkEnded(ctx, ref); err != nil && !errors.Is(err, signal.ErrSessionNotFound) {
		m.logger.Debug("retiring aborted session", "session_id", ref.SessionID, "error", err)
	}
	m.sig.ScheduleCleanup(ref, m.cleanupDelay)
}

// publishCandidatesTo forwards the transport's locally discovered
// candidates into the mailbox under the given origin.
func (m *Manager) publishCandidatesTo(tpt Transport, ref signal.Ref, origin signal.CandidateOrigin) {
	tpt.OnLocalCandidate(func(c signal.Candidate) {
		ctx, cancel := context.WithTimeout(context.Background(), mailboxWriteTimeout)
		defer cancel()
		if err := m.sig.PublishCandidate(ctx, ref, origin, c); err != nil {
			m.logger.Warn("publishing candidate", "session_id", ref.SessionID, "error", err)
		}
	})
}

// setError replaces the single current user-facing error.
func (m *Manager) setError(msg string) {
	m.mu.Lock()
	m.lastErr = msg
	m.mu.Unlock()
	m.emit(Event{Kind: EventError, Error: msg})
}

func (m *Manager) recordHistory(rec HistoryRecord) {
	if m.history != nil {
		m.history.RecordCall(rec)
	}
}

// emit fans an event out to subscribers without blocking.
func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.logger.Warn("dropping call event, subscriber too slow", "kind", string(ev.Kind))
		}
	}
}

// mediaMessage extracts the user-facing message of a capture failure.
func mediaMessage(err error) string {
	var merr *media.Error
	if errors.As(err, &merr) {
		return merr.Message()
	}
	return media.KindUnknown.Message()
}
