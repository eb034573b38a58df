package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/peerline/peerline/internal/signal"
)

// partitionRescanInterval is how often the listener checks the directory
// for partitions that appeared after it started.
const partitionRescanInterval = time.Minute

// Listener watches the mailbox for incoming calls addressed to the local
// participant. Sessions land under the registered caller's partition when
// there is one, otherwise under the callee's, so every registered
// partition has to be watched.
//
// Fresh arrivals are handed to the sink; records older than the staleness
// window are expired and retired without ever being surfaced, so a
// restart does not replay long-dead rings. Surfaced records are tracked
// until they turn terminal: the sink may drop a call it cannot take, and
// the watch never redelivers, so a periodic sweep expires any record
// still `calling` past the staleness window.
type Listener struct {
	sig           *signal.Adapter
	participantID string
	sink          func(signal.CallSession)
	logger        *slog.Logger
	staleAfter    time.Duration
	cleanupDelay  time.Duration

	mu       sync.Mutex
	watching map[string]bool       // partition owners with a live watch
	seen     map[string]time.Time  // session id -> first observation
	pending  map[string]signal.Ref // surfaced records not yet known terminal
}

// ListenerConfig assembles a Listener. Sink is typically
// (*Manager).HandleIncoming.
type ListenerConfig struct {
	ParticipantID string
	Signaling     *signal.Adapter
	Sink          func(signal.CallSession)
	Logger        *slog.Logger
	StaleAfter    time.Duration
	CleanupDelay  time.Duration
}

// NewListener validates the config and returns a listener; Run starts it.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	if cfg.ParticipantID == "" {
		return nil, fmt.Errorf("call: participant id required")
	}
	if cfg.Signaling == nil || cfg.Sink == nil {
		return nil, fmt.Errorf("call: signaling and sink required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := &Listener{
		sig:           cfg.Signaling,
		participantID: cfg.ParticipantID,
		sink:          cfg.Sink,
		logger:        logger.With("subsystem", "listener", "participant", cfg.ParticipantID),
		staleAfter:    cfg.StaleAfter,
		cleanupDelay:  cfg.CleanupDelay,
		watching:      make(map[string]bool),
		seen:          make(map[string]time.Time),
		pending:       make(map[string]signal.Ref),
	}
	if l.staleAfter <= 0 {
		l.staleAfter = signal.StaleAfter
	}
	if l.cleanupDelay <= 0 {
		l.cleanupDelay = signal.CleanupDelay
	}
	return l, nil
}

// Run watches every registered partition until ctx is cancelled,
// rescanning the directory periodically for partitions added later.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.rescan(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(partitionRescanInterval)
	defer ticker.Stop()
	sweep := time.NewTicker(l.sweepInterval())
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := l.rescan(ctx); err != nil {
				l.logger.Warn("rescanning partitions", "error", err)
			}
			l.pruneSeen()
		case <-sweep.C:
			l.sweepPending(ctx)
		}
	}
}

func (l *Listener) sweepInterval() time.Duration {
	iv := l.staleAfter / 2
	if iv < 10*time.Millisecond {
		iv = 10 * time.Millisecond
	}
	return iv
}

// rescan lists the registered partition owners and starts a watch for any
// not yet covered. The local participant's own partition is always
// watched, registered or not, since unregistered-caller sessions land
// there.
func (l *Listener) rescan(ctx context.Context) error {
	owners, err := l.sig.Directory().ListPartitionOwners(ctx)
	if err != nil {
		return fmt.Errorf("listing partition owners: %w", err)
	}
	owners = append(owners, l.participantID)

	for _, owner := range owners {
		l.mu.Lock()
		started := l.watching[owner]
		if !started {
			l.watching[owner] = true
		}
		l.mu.Unlock()
		if started {
			continue
		}
		if err := l.watchPartition(ctx, owner); err != nil {
			l.mu.Lock()
			delete(l.watching, owner)
			l.mu.Unlock()
			l.logger.Warn("watching partition", "partition", owner, "error", err)
		}
	}
	return nil
}

func (l *Listener) watchPartition(ctx context.Context, owner string) error {
	ch, stop, err := l.sig.WatchCalling(ctx, owner, l.participantID)
	if err != nil {
		return err
	}
	l.logger.Debug("watching partition", "partition", owner)

	go func() {
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			case sess, ok := <-ch:
				if !ok {
					l.mu.Lock()
					delete(l.watching, owner)
					l.mu.Unlock()
					return
				}
				l.observe(sess)
			}
		}
	}()
	return nil
}

// observe classifies one `calling` record: our own outbounds are skipped,
// repeats are skipped, stale records are retired, the rest ring.
func (l *Listener) observe(sess signal.CallSession) {
	if sess.CallerID == l.participantID {
		return
	}

	l.mu.Lock()
	if _, dup := l.seen[sess.ID]; dup {
		l.mu.Unlock()
		return
	}
	l.seen[sess.ID] = time.Now()
	l.mu.Unlock()

	if age := time.Since(sess.CreatedAt); age > l.staleAfter {
		l.logger.Info("expiring stale incoming call",
			"session_id", sess.ID, "caller", sess.CallerID, "age", age)
		ctx, cancel := context.WithTimeout(context.Background(), mailboxWriteTimeout)
		defer cancel()
		if err := l.sig.MarkExpired(ctx, sess.Ref()); err != nil {
			l.logger.Debug("marking stale session expired", "session_id", sess.ID, "error", err)
		}
		l.sig.ScheduleCleanup(sess.Ref(), l.cleanupDelay)
		return
	}

	l.mu.Lock()
	l.pending[sess.ID] = sess.Ref()
	l.mu.Unlock()
	l.sink(sess)
}

// sweepPending re-reads every surfaced record and expires those still in
// the `calling` state past the staleness window. The sink drops calls it
// cannot take and the watch notifies only on creation, so without the
// sweep a dropped record would stay `calling` until the caller gives up.
func (l *Listener) sweepPending(ctx context.Context) {
	l.mu.Lock()
	refs := make(map[string]signal.Ref, len(l.pending))
	for id, ref := range l.pending {
		refs[id] = ref
	}
	l.mu.Unlock()

	for id, ref := range refs {
		sess, err := l.sig.GetSession(ctx, ref)
		if errors.Is(err, signal.ErrSessionNotFound) {
			l.mu.Lock()
			delete(l.pending, id)
			l.mu.Unlock()
			continue
		}
		if err != nil {
			// Transient read failure; keep tracking and retry next sweep.
			l.logger.Debug("reading tracked session", "session_id", id, "error", err)
			continue
		}
		if sess.Status.Terminal() {
			l.mu.Lock()
			delete(l.pending, id)
			l.mu.Unlock()
			continue
		}
		if sess.Status != signal.StatusCalling {
			continue
		}
		age := time.Since(sess.CreatedAt)
		if age <= l.staleAfter {
			continue
		}
		l.logger.Info("expiring unanswered incoming call",
			"session_id", id, "caller", sess.CallerID, "age", age)
		wctx, cancel := context.WithTimeout(ctx, mailboxWriteTimeout)
		if err := l.sig.MarkExpired(wctx, ref); err != nil {
			l.logger.Debug("marking unanswered session expired", "session_id", id, "error", err)
		}
		cancel()
		l.sig.ScheduleCleanup(ref, l.cleanupDelay)
		l.mu.Lock()
		delete(l.pending, id)
		l.mu.Unlock()
	}
}

// pruneSeen drops dedupe entries old enough that the underlying records
// are gone.
func (l *Listener) pruneSeen() {
	cutoff := time.Now().Add(-2 * (l.staleAfter + l.cleanupDelay))
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, at := range l.seen {
		if at.Before(cutoff) {
			delete(l.seen, id)
		}
	}
}
