package call

import (
	"context"
	"fmt"
	"time"

	"github.com/peerline/peerline/internal/signal"
)

func errSessionMismatch(state State, sessionID string) error {
	return fmt.Errorf("call: session %s is not ringing (state %s)", sessionID, state)
}

// HandleIncoming surfaces a freshly observed incoming call. Only one call
// may be live at a time: while we are ringing, calling or connected, new
// arrivals are dropped and left to the caller's staleness handling.
func (m *Manager) HandleIncoming(sess signal.CallSession) {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		m.logger.Debug("dropping incoming call, another call is live",
			"session_id", sess.ID, "caller", sess.CallerID)
		return
	}

	ringing := sess
	m.state = StateRinging
	m.ringing = &ringing

	// Ring at most until the record would be considered stale. New
	// records ring the full window; records observed mid-life ring the
	// remainder.
	remaining := m.staleAfter - time.Since(sess.CreatedAt)
	if remaining < time.Second {
		remaining = time.Second
	}
	m.ringTimer = time.AfterFunc(remaining, func() {
		m.expireRinging(sess.ID)
	})

	// Watch the record so the ring stops when the caller gives up.
	watchCtx, cancel := context.WithCancel(context.Background())
	m.ringCancel = cancel
	m.mu.Unlock()

	go m.watchRinging(watchCtx, ringing.Ref(), sess.ID)

	m.emit(Event{Kind: EventIncoming, State: StateRinging, Incoming: &ringing})
	m.emit(Event{Kind: EventState, State: StateRinging})
	m.logger.Info("incoming call",
		"session_id", sess.ID, "caller", sess.CallerID, "kind", string(sess.Kind))
}

// watchRinging follows the ringing session record and clears the ring
// when the record turns terminal or disappears before we acted on it.
func (m *Manager) watchRinging(ctx context.Context, ref signal.Ref, sessionID string) {
	ch, stop, err := m.sig.SubscribeSession(ctx, ref)
	if err != nil {
		m.logger.Warn("watching ringing session", "session_id", sessionID, "error", err)
		return
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case sess, ok := <-ch:
			if !ok {
				// Record deleted out from under us.
				m.dismissRinging(sessionID, DispositionMissed)
				return
			}
			if sess.Status.Terminal() {
				m.dismissRinging(sessionID, DispositionMissed)
				return
			}
		}
	}
}

// expireRinging fires when a ring outlived the staleness window without
// being answered or rejected: the record is marked expired and retired,
// and the manager returns to Idle.
func (m *Manager) expireRinging(sessionID string) {
	m.mu.Lock()
	if m.state != StateRinging || m.ringing == nil || m.ringing.ID != sessionID {
		m.mu.Unlock()
		return
	}
	ref := m.ringing.Ref()
	rec := m.ringingRecordLocked(ref, DispositionExpired)
	m.clearRingingLocked()
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), mailboxWriteTimeout)
	defer cancel()
	if err := m.sig.MarkExpired(ctx, ref); err != nil {
		m.logger.Debug("marking session expired", "session_id", sessionID, "error", err)
	}
	m.sig.ScheduleCleanup(ref, m.cleanupDelay)
	m.recordHistory(rec)
	m.emit(Event{Kind: EventState, State: StateIdle})
	m.emit(Event{Kind: EventEnded, Ended: &rec})
	m.logger.Info("incoming call expired", "session_id", sessionID)
}

// dismissRinging clears a ring the remote side already retired. The
// record is the remote's to clean up; only local state changes.
func (m *Manager) dismissRinging(sessionID string, disposition Disposition) {
	m.mu.Lock()
	if m.state != StateRinging || m.ringing == nil || m.ringing.ID != sessionID {
		m.mu.Unlock()
		return
	}
	rec := m.ringingRecordLocked(m.ringing.Ref(), disposition)
	m.clearRingingLocked()
	m.mu.Unlock()

	m.recordHistory(rec)
	m.emit(Event{Kind: EventState, State: StateIdle})
	m.emit(Event{Kind: EventEnded, Ended: &rec})
	m.logger.Info("incoming call withdrawn", "session_id", sessionID)
}

// takeRinging validates that the given session is the one currently
// ringing and claims it for an Answer/Reject/End sequence, stopping the
// ring timer and watch. The caller owns the follow-up state transition.
func (m *Manager) takeRinging(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRinging || m.ringing == nil {
		return errSessionMismatch(m.state, sessionID)
	}
	if m.ringing.ID != sessionID {
		return errSessionMismatch(m.state, sessionID)
	}
	if m.ringTimer != nil {
		m.ringTimer.Stop()
		m.ringTimer = nil
	}
	if m.ringCancel != nil {
		m.ringCancel()
		m.ringCancel = nil
	}
	return nil
}

// toIdle resets the ringing slot and state, emitting the transition.
func (m *Manager) toIdle() {
	m.mu.Lock()
	m.clearRingingLocked()
	m.mu.Unlock()
	m.emit(Event{Kind: EventState, State: StateIdle})
}

func (m *Manager) clearRingingLocked() {
	if m.ringTimer != nil {
		m.ringTimer.Stop()
		m.ringTimer = nil
	}
	if m.ringCancel != nil {
		m.ringCancel()
		m.ringCancel = nil
	}
	m.ringing = nil
	m.state = StateIdle
}

// ringingRecord builds the history record for a ring that never became an
// active call.
func (m *Manager) ringingRecord(ref signal.Ref, disposition Disposition) HistoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ringingRecordLocked(ref, disposition)
}

func (m *Manager) ringingRecordLocked(ref signal.Ref, disposition Disposition) HistoryRecord {
	rec := HistoryRecord{
		SessionID:      ref.SessionID,
		PartitionOwner: ref.PartitionOwner,
		Disposition:    disposition,
		EndedAt:        time.Now(),
	}
	if m.ringing != nil && m.ringing.ID == ref.SessionID {
		rec.CallerID = m.ringing.CallerID
		rec.CalleeID = m.ringing.CalleeID
		rec.Kind = m.ringing.Kind
		rec.StartedAt = m.ringing.CreatedAt
	}
	return rec
}
