package signal

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func testOffer() Description {
	return Description{Type: "offer", SDP: "v=0 offer"}
}

func testAnswer() Description {
	return Description{Type: "answer", SDP: "v=0 answer"}
}

func createTestSession(t *testing.T, mb *MemoryMailbox) Ref {
	t.Helper()
	id, err := mb.CreateSession(context.Background(), "alice", "alice", "bob", MediaVideo)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return Ref{PartitionOwner: "alice", SessionID: id}
}

func TestCreateAndGetSession(t *testing.T) {
	mb := NewMemoryMailbox(nil)
	ref := createTestSession(t, mb)

	sess, err := mb.GetSession(context.Background(), ref)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.CallerID != "alice" || sess.CalleeID != "bob" {
		t.Errorf("unexpected participants: caller=%q callee=%q", sess.CallerID, sess.CalleeID)
	}
	if sess.Status != StatusCalling {
		t.Errorf("expected status calling, got %q", sess.Status)
	}
	if sess.Kind != MediaVideo {
		t.Errorf("expected video kind, got %q", sess.Kind)
	}
	if sess.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestGetSession_NotFound(t *testing.T) {
	mb := NewMemoryMailbox(nil)
	_, err := mb.GetSession(context.Background(), Ref{PartitionOwner: "alice", SessionID: "missing"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestWriteOffer_Once(t *testing.T) {
	mb := NewMemoryMailbox(nil)
	ref := createTestSession(t, mb)
	ctx := context.Background()

	if err := mb.WriteOffer(ctx, ref, testOffer()); err != nil {
		t.Fatalf("first WriteOffer: %v", err)
	}
	err := mb.WriteOffer(ctx, ref, Description{Type: "offer", SDP: "second"})
	if !errors.Is(err, ErrOfferAlreadySet) {
		t.Errorf("expected ErrOfferAlreadySet, got %v", err)
	}

	sess, err := mb.GetSession(ctx, ref)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Offer.SDP != "v=0 offer" {
		t.Errorf("first offer should win, got %q", sess.Offer.SDP)
	}
}

func TestWriteAnswer_OnceAndConnects(t *testing.T) {
	mb := NewMemoryMailbox(nil)
	ref := createTestSession(t, mb)
	ctx := context.Background()

	if err := mb.WriteOffer(ctx, ref, testOffer()); err != nil {
		t.Fatalf("WriteOffer: %v", err)
	}
	if err := mb.WriteAnswer(ctx, ref, testAnswer()); err != nil {
		t.Fatalf("WriteAnswer: %v", err)
	}

	err := mb.WriteAnswer(ctx, ref, Description{Type: "answer", SDP: "second"})
	if !errors.Is(err, ErrAnswerAlreadySet) {
		t.Errorf("expected ErrAnswerAlreadySet, got %v", err)
	}

	sess, err := mb.GetSession(ctx, ref)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Status != StatusConnected {
		t.Errorf("expected connected after answer, got %q", sess.Status)
	}
	if sess.Answer.SDP != "v=0 answer" {
		t.Errorf("first answer should win, got %q", sess.Answer.SDP)
	}
}

func TestWriteAnswer_RequiresOffer(t *testing.T) {
	mb := NewMemoryMailbox(nil)
	ref := createTestSession(t, mb)

	err := mb.WriteAnswer(context.Background(), ref, testAnswer())
	if !errors.Is(err, ErrOfferMissing) {
		t.Errorf("expected ErrOfferMissing, got %v", err)
	}
}

func TestMarkTerminal_NoOpWhenTerminal(t *testing.T) {
	mb := NewMemoryMailbox(nil)
	ref := createTestSession(t, mb)
	ctx := context.Background()

	if err := mb.MarkRejected(ctx, ref); err != nil {
		t.Fatalf("MarkRejected: %v", err)
	}
	// A later terminal write must not overwrite the first.
	if err := mb.MarkEnded(ctx, ref); err != nil {
		t.Fatalf("MarkEnded on terminal session: %v", err)
	}

	sess, err := mb.GetSession(ctx, ref)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Status != StatusRejected {
		t.Errorf("expected rejected to stick, got %q", sess.Status)
	}
	if sess.EndedAt.IsZero() {
		t.Error("expected EndedAt to be set")
	}
}

func TestDeleteSession_MissingIsOK(t *testing.T) {
	mb := NewMemoryMailbox(nil)
	if err := mb.DeleteSession(context.Background(), Ref{PartitionOwner: "x", SessionID: "gone"}); err != nil {
		t.Errorf("deleting a missing session should succeed, got %v", err)
	}
}

func TestSubscribeSession_DeliversMutations(t *testing.T) {
	mb := NewMemoryMailbox(nil)
	ref := createTestSession(t, mb)
	ctx := context.Background()

	ch, stop, err := mb.SubscribeSession(ctx, ref)
	if err != nil {
		t.Fatalf("SubscribeSession: %v", err)
	}
	defer stop()

	// Initial snapshot arrives first.
	sess := recvSession(t, ch)
	if sess.Status != StatusCalling {
		t.Fatalf("expected initial calling snapshot, got %q", sess.Status)
	}

	if err := mb.WriteOffer(ctx, ref, testOffer()); err != nil {
		t.Fatalf("WriteOffer: %v", err)
	}
	sess = recvSession(t, ch)
	if sess.Offer.Empty() {
		t.Error("expected offer in update")
	}

	if err := mb.MarkEnded(ctx, ref); err != nil {
		t.Fatalf("MarkEnded: %v", err)
	}
	sess = recvSession(t, ch)
	if sess.Status != StatusEnded {
		t.Errorf("expected ended update, got %q", sess.Status)
	}
}

func TestSubscribeCandidates_ReplaysInOrder(t *testing.T) {
	mb := NewMemoryMailbox(nil)
	ref := createTestSession(t, mb)
	ctx := context.Background()

	// Publish before anyone subscribes; the subscription must replay.
	for i := 0; i < 3; i++ {
		cand := Candidate{Candidate: fmt.Sprintf("candidate:%d", i)}
		if err := mb.PublishCandidate(ctx, ref, OriginOffer, cand); err != nil {
			t.Fatalf("PublishCandidate: %v", err)
		}
	}
	// A candidate from the other side must not leak into this stream.
	if err := mb.PublishCandidate(ctx, ref, OriginAnswer, Candidate{Candidate: "candidate:answer"}); err != nil {
		t.Fatalf("PublishCandidate: %v", err)
	}

	ch, stop, err := mb.SubscribeCandidates(ctx, ref, OriginOffer)
	if err != nil {
		t.Fatalf("SubscribeCandidates: %v", err)
	}
	defer stop()

	for i := 0; i < 3; i++ {
		rec := recvCandidate(t, ch)
		want := fmt.Sprintf("candidate:%d", i)
		if rec.Candidate.Candidate != want {
			t.Errorf("replay out of order: got %q, want %q", rec.Candidate.Candidate, want)
		}
		if rec.Origin != OriginOffer {
			t.Errorf("unexpected origin %q", rec.Origin)
		}
	}

	// Late publishes keep flowing.
	if err := mb.PublishCandidate(ctx, ref, OriginOffer, Candidate{Candidate: "candidate:late"}); err != nil {
		t.Fatalf("PublishCandidate: %v", err)
	}
	rec := recvCandidate(t, ch)
	if rec.Candidate.Candidate != "candidate:late" {
		t.Errorf("expected late candidate, got %q", rec.Candidate.Candidate)
	}
}

func TestWatchCalling_NotifiesOnCreate(t *testing.T) {
	mb := NewMemoryMailbox(nil)
	ctx := context.Background()

	ch, stop, err := mb.WatchCalling(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("WatchCalling: %v", err)
	}
	defer stop()

	createTestSession(t, mb)

	sess := recvSession(t, ch)
	if sess.CalleeID != "bob" || sess.Status != StatusCalling {
		t.Errorf("unexpected watched session: callee=%q status=%q", sess.CalleeID, sess.Status)
	}
}

func TestWatchCalling_FiltersCallee(t *testing.T) {
	mb := NewMemoryMailbox(nil)
	ctx := context.Background()

	ch, stop, err := mb.WatchCalling(ctx, "alice", "carol")
	if err != nil {
		t.Fatalf("WatchCalling: %v", err)
	}
	defer stop()

	createTestSession(t, mb) // addressed to bob, not carol

	select {
	case sess := <-ch:
		t.Errorf("watch for carol saw a call to %q", sess.CalleeID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchCalling_ReplaysPending(t *testing.T) {
	mb := NewMemoryMailbox(nil)
	ctx := context.Background()

	createTestSession(t, mb)

	ch, stop, err := mb.WatchCalling(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("WatchCalling: %v", err)
	}
	defer stop()

	sess := recvSession(t, ch)
	if sess.CalleeID != "bob" {
		t.Errorf("expected replay of the pending call, got callee %q", sess.CalleeID)
	}
}

func TestMemoryDirectory(t *testing.T) {
	dir := NewMemoryDirectory("alice")
	dir.Register("bob")
	ctx := context.Background()

	owner, ok, err := dir.FindPartitionOwner(ctx, "alice")
	if err != nil || !ok || owner != "alice" {
		t.Errorf("FindPartitionOwner(alice) = %q, %v, %v", owner, ok, err)
	}
	_, ok, err = dir.FindPartitionOwner(ctx, "mallory")
	if err != nil {
		t.Fatalf("FindPartitionOwner: %v", err)
	}
	if ok {
		t.Error("mallory should not be registered")
	}

	owners, err := dir.ListPartitionOwners(ctx)
	if err != nil {
		t.Fatalf("ListPartitionOwners: %v", err)
	}
	if len(owners) != 2 || owners[0] != "alice" || owners[1] != "bob" {
		t.Errorf("unexpected owners %v", owners)
	}
}

func recvSession(t *testing.T, ch <-chan CallSession) CallSession {
	t.Helper()
	select {
	case sess, ok := <-ch:
		if !ok {
			t.Fatal("session channel closed")
		}
		return sess
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for session update")
	}
	return CallSession{}
}

func recvCandidate(t *testing.T, ch <-chan CandidateRecord) CandidateRecord {
	t.Helper()
	select {
	case rec, ok := <-ch:
		if !ok {
			t.Fatal("candidate channel closed")
		}
		return rec
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for candidate")
	}
	return CandidateRecord{}
}
