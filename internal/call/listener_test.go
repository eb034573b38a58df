package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/peerline/peerline/internal/signal"
)

type sessionCollector struct {
	mu    sync.Mutex
	surfd []signal.CallSession
}

func (c *sessionCollector) sink(sess signal.CallSession) {
	c.mu.Lock()
	c.surfd = append(c.surfd, sess)
	c.mu.Unlock()
}

func (c *sessionCollector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.surfd))
	for i, s := range c.surfd {
		out[i] = s.ID
	}
	return out
}

func newTestListener(t *testing.T, mb *signal.MemoryMailbox, dir *signal.MemoryDirectory, collector *sessionCollector) *Listener {
	t.Helper()
	l, err := NewListener(ListenerConfig{
		ParticipantID: "alice",
		Signaling:     signal.NewAdapter(mb, dir, nil),
		Sink:          collector.sink,
		CleanupDelay:  time.Hour,
	})
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	return l
}

func startListener(t *testing.T, l *Listener) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = l.Run(ctx) }()
	// Run performs its first rescan synchronously before ticking, but the
	// per-partition forwarding goroutines attach asynchronously.
	time.Sleep(20 * time.Millisecond)
}

func TestListener_SurfacesFreshCall(t *testing.T) {
	mb := signal.NewMemoryMailbox(nil)
	dir := signal.NewMemoryDirectory("alice", "bob")
	coll := &sessionCollector{}
	l := newTestListener(t, mb, dir, coll)
	startListener(t, l)

	id, err := mb.CreateSession(context.Background(), "bob", "bob", "alice", signal.MediaVideo)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	waitFor(t, "call surfaced", func() bool {
		for _, got := range coll.ids() {
			if got == id {
				return true
			}
		}
		return false
	})
}

func TestListener_WatchesOwnPartitionUnregistered(t *testing.T) {
	mb := signal.NewMemoryMailbox(nil)
	// "alice" is not a registered owner; her own partition must still be
	// watched because unregistered callers land sessions there.
	dir := signal.NewMemoryDirectory("carol")
	coll := &sessionCollector{}
	l := newTestListener(t, mb, dir, coll)
	startListener(t, l)

	id, err := mb.CreateSession(context.Background(), "alice", "dave", "alice", signal.MediaAudio)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	waitFor(t, "call surfaced from own partition", func() bool {
		for _, got := range coll.ids() {
			if got == id {
				return true
			}
		}
		return false
	})
}

func TestListener_SkipsOwnOutbound(t *testing.T) {
	mb := signal.NewMemoryMailbox(nil)
	dir := signal.NewMemoryDirectory("alice")
	coll := &sessionCollector{}
	l := newTestListener(t, mb, dir, coll)
	startListener(t, l)

	// An outbound call from alice sits in her partition with her as the
	// caller; WatchCalling filters on callee, so make her both.
	mb.SeedSession(signal.CallSession{
		ID:             "loopback",
		PartitionOwner: "alice",
		CallerID:       "alice",
		CalleeID:       "alice",
		Status:         signal.StatusCalling,
		Kind:           signal.MediaAudio,
		CreatedAt:      time.Now(),
	})

	time.Sleep(50 * time.Millisecond)
	if got := coll.ids(); len(got) != 0 {
		t.Fatalf("surfaced own outbound call: %v", got)
	}
}

func TestListener_DeduplicatesRepeats(t *testing.T) {
	mb := signal.NewMemoryMailbox(nil)
	dir := signal.NewMemoryDirectory("alice", "bob")
	coll := &sessionCollector{}
	l := newTestListener(t, mb, dir, coll)

	sess := signal.CallSession{
		ID:             "repeat-1",
		PartitionOwner: "bob",
		CallerID:       "bob",
		CalleeID:       "alice",
		Status:         signal.StatusCalling,
		Kind:           signal.MediaVideo,
		CreatedAt:      time.Now(),
	}
	l.observe(sess)
	l.observe(sess)

	if got := coll.ids(); len(got) != 1 {
		t.Fatalf("surfaced %d times, want 1", len(got))
	}
}

func TestListener_ExpiresStaleWithoutSurfacing(t *testing.T) {
	mb := signal.NewMemoryMailbox(nil)
	dir := signal.NewMemoryDirectory("alice", "bob")
	coll := &sessionCollector{}
	l := newTestListener(t, mb, dir, coll)

	stale := signal.CallSession{
		ID:             "stale-1",
		PartitionOwner: "bob",
		CallerID:       "bob",
		CalleeID:       "alice",
		Status:         signal.StatusCalling,
		Kind:           signal.MediaVideo,
		CreatedAt:      time.Now().Add(-2 * signal.StaleAfter),
	}
	mb.SeedSession(stale)
	l.observe(stale)

	if got := coll.ids(); len(got) != 0 {
		t.Fatalf("stale call was surfaced: %v", got)
	}
	got, err := mb.GetSession(context.Background(), stale.Ref())
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != signal.StatusExpired {
		t.Errorf("session status = %s, want expired", got.Status)
	}
}

func TestListener_ExpiresCallDroppedWhileBusy(t *testing.T) {
	mb := signal.NewMemoryMailbox(nil)
	dir := signal.NewMemoryDirectory("alice", "bob")
	l, err := NewListener(ListenerConfig{
		ParticipantID: "alice",
		Signaling:     signal.NewAdapter(mb, dir, nil),
		// A busy callee drops the surfaced call and never arms a ring;
		// the mailbox record must still expire once past staleness.
		Sink:         func(signal.CallSession) {},
		StaleAfter:   50 * time.Millisecond,
		CleanupDelay: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	startListener(t, l)

	id, err := mb.CreateSession(context.Background(), "bob", "bob", "alice", signal.MediaVideo)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	ref := signal.Ref{PartitionOwner: "bob", SessionID: id}

	waitFor(t, "dropped call expired", func() bool {
		sess, err := mb.GetSession(context.Background(), ref)
		return err == nil && sess.Status == signal.StatusExpired
	})
}

func TestListener_SweepLeavesLiveCallsAlone(t *testing.T) {
	mb := signal.NewMemoryMailbox(nil)
	dir := signal.NewMemoryDirectory("alice", "bob")
	coll := &sessionCollector{}
	l := newTestListener(t, mb, dir, coll)

	old := time.Now().Add(-2 * signal.StaleAfter)
	connected := signal.CallSession{
		ID: "live-1", PartitionOwner: "bob", CallerID: "bob", CalleeID: "alice",
		Status: signal.StatusConnected, Kind: signal.MediaVideo, CreatedAt: old,
	}
	unanswered := signal.CallSession{
		ID: "drop-1", PartitionOwner: "bob", CallerID: "bob", CalleeID: "alice",
		Status: signal.StatusCalling, Kind: signal.MediaVideo, CreatedAt: old,
	}
	done := signal.CallSession{
		ID: "done-1", PartitionOwner: "bob", CallerID: "bob", CalleeID: "alice",
		Status: signal.StatusEnded, Kind: signal.MediaVideo, CreatedAt: old,
	}
	for _, s := range []signal.CallSession{connected, unanswered, done} {
		mb.SeedSession(s)
		l.mu.Lock()
		l.pending[s.ID] = s.Ref()
		l.mu.Unlock()
	}

	l.sweepPending(context.Background())

	got, err := mb.GetSession(context.Background(), connected.Ref())
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != signal.StatusConnected {
		t.Errorf("connected call status = %s, want connected", got.Status)
	}
	got, err = mb.GetSession(context.Background(), unanswered.Ref())
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != signal.StatusExpired {
		t.Errorf("unanswered call status = %s, want expired", got.Status)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.pending[connected.ID]; !ok {
		t.Error("connected call dropped from tracking before turning terminal")
	}
	if _, ok := l.pending[unanswered.ID]; ok {
		t.Error("expired call still tracked")
	}
	if _, ok := l.pending[done.ID]; ok {
		t.Error("terminal call still tracked")
	}
}

func TestListener_PruneSeen(t *testing.T) {
	mb := signal.NewMemoryMailbox(nil)
	dir := signal.NewMemoryDirectory("alice")
	coll := &sessionCollector{}
	l := newTestListener(t, mb, dir, coll)

	l.mu.Lock()
	l.seen["old"] = time.Now().Add(-24 * time.Hour)
	l.seen["new"] = time.Now()
	l.mu.Unlock()

	l.pruneSeen()

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen["old"]; ok {
		t.Error("old entry survived pruning")
	}
	if _, ok := l.seen["new"]; !ok {
		t.Error("fresh entry was pruned")
	}
}

func TestListener_ValidatesConfig(t *testing.T) {
	mb := signal.NewMemoryMailbox(nil)
	sig := signal.NewAdapter(mb, signal.NewMemoryDirectory(), nil)

	if _, err := NewListener(ListenerConfig{Signaling: sig, Sink: func(signal.CallSession) {}}); err == nil {
		t.Error("expected error for missing participant id")
	}
	if _, err := NewListener(ListenerConfig{ParticipantID: "alice", Sink: func(signal.CallSession) {}}); err == nil {
		t.Error("expected error for missing signaling")
	}
	if _, err := NewListener(ListenerConfig{ParticipantID: "alice", Signaling: sig}); err == nil {
		t.Error("expected error for missing sink")
	}
}
