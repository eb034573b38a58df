package transport

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/peerline/peerline/internal/media"
	"github.com/peerline/peerline/internal/signal"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateOffer_Once(t *testing.T) {
	s := newTestSession(t)

	offer, err := s.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if offer.Empty() || offer.Type != "offer" {
		t.Fatalf("offer = %+v", offer)
	}

	if _, err := s.CreateOffer(); !errors.Is(err, errOfferTwice) {
		t.Fatalf("second CreateOffer err = %v, want %v", err, errOfferTwice)
	}
}

func TestCreateAnswer_RequiresRemoteOffer(t *testing.T) {
	s := newTestSession(t)
	if _, err := s.CreateAnswer(); !errors.Is(err, errNoRemote) {
		t.Fatalf("CreateAnswer err = %v, want %v", err, errNoRemote)
	}
}

func TestOfferAnswerExchange(t *testing.T) {
	caller := newTestSession(t)
	callee := newTestSession(t)

	offer, err := caller.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := callee.SetRemoteDescription(offer); err != nil {
		t.Fatalf("SetRemoteDescription: %v", err)
	}

	answer, err := callee.CreateAnswer()
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if answer.Type != "answer" {
		t.Errorf("answer type = %q", answer.Type)
	}
	if _, err := callee.CreateAnswer(); !errors.Is(err, errAnswerTwice) {
		t.Fatalf("second CreateAnswer err = %v, want %v", err, errAnswerTwice)
	}

	// The mailbox may redeliver the same record; a repeat apply is a no-op.
	if err := callee.SetRemoteDescription(offer); err != nil {
		t.Fatalf("duplicate SetRemoteDescription: %v", err)
	}

	if err := caller.SetRemoteDescription(answer); err != nil {
		t.Fatalf("applying answer: %v", err)
	}
}

func TestAddRemoteCandidate_BuffersBeforeRemoteDescription(t *testing.T) {
	s := newTestSession(t)

	// Without a remote description the candidate must be buffered, not
	// rejected.
	if err := s.AddRemoteCandidate(signal.Candidate{Candidate: "candidate:1 1 udp 2130706431 192.0.2.7 50000 typ host"}); err != nil {
		t.Fatalf("AddRemoteCandidate: %v", err)
	}
	s.mu.Lock()
	buffered := len(s.pending)
	s.mu.Unlock()
	if buffered != 1 {
		t.Fatalf("buffered = %d, want 1", buffered)
	}
}

func TestClose_Idempotent(t *testing.T) {
	s := newTestSession(t)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after Close")
	}

	if _, err := s.CreateOffer(); !errors.Is(err, errSessionClosed) {
		t.Fatalf("CreateOffer after Close err = %v, want %v", err, errSessionClosed)
	}
	if err := s.AddRemoteCandidate(signal.Candidate{}); !errors.Is(err, errSessionClosed) {
		t.Fatalf("AddRemoteCandidate after Close err = %v, want %v", err, errSessionClosed)
	}
}

func TestSetTrackEnabled_DetachesAndRestoresTrack(t *testing.T) {
	s := newTestSession(t)

	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "peerline")
	if err != nil {
		t.Fatalf("NewTrackLocalStaticSample: %v", err)
	}
	h := media.NewHandle([]*media.Track{{Kind: webrtc.RTPCodecTypeAudio, Local: local}})
	if err := s.AddLocalTracks(h); err != nil {
		t.Fatalf("AddLocalTracks: %v", err)
	}
	s.mu.Lock()
	sender := s.senders[webrtc.RTPCodecTypeAudio].sender
	s.mu.Unlock()
	if sender == nil {
		t.Fatal("no sender recorded for the audio track")
	}

	if err := s.SetTrackEnabled(webrtc.RTPCodecTypeAudio, false); err != nil {
		t.Fatalf("disabling audio: %v", err)
	}
	if sender.Track() != nil {
		t.Error("sender still carries a track while disabled")
	}

	if err := s.SetTrackEnabled(webrtc.RTPCodecTypeAudio, true); err != nil {
		t.Fatalf("re-enabling audio: %v", err)
	}
	if sender.Track() == nil {
		t.Error("sender has no track after re-enable")
	}

	if err := s.SetTrackEnabled(webrtc.RTPCodecTypeVideo, false); err == nil {
		t.Error("expected error for a kind with no local track")
	}
}
