// Package transport owns the live peer connection for one call attempt:
// local tracks in, remote tracks out, offer/answer generation, candidate
// application, and a typed event stream of the connection's sub-states.
// A Session is never reused: every call constructs a fresh one and Close
// discards it, so no negotiation state leaks across attempts.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/peerline/peerline/internal/media"
	"github.com/peerline/peerline/internal/signal"
)

const eventChanCap = 64

// DefaultSTUNServers are used when the config names none.
var DefaultSTUNServers = []string{"stun:stun.l.google.com:19302"}

var (
	errOfferTwice    = errors.New("transport: offer already created")
	errAnswerTwice   = errors.New("transport: answer already created")
	errNoRemote      = errors.New("transport: no remote description set")
	errSessionClosed = errors.New("transport: session closed")
)

// Config builds a Session.
type Config struct {
	// STUNServers in URL form ("stun:host:port"). Defaults to
	// DefaultSTUNServers when empty.
	STUNServers []string

	// EngineSetup registers codecs on the media engine. It must match the
	// encoder set of the media provider whose tracks will be attached;
	// nil registers the default codecs.
	EngineSetup func(*webrtc.MediaEngine) error

	Logger *slog.Logger
}

// Session is the transport for one call attempt.
type Session struct {
	pc     *webrtc.PeerConnection
	logger *slog.Logger

	events chan Event
	done   chan struct{}

	mu               sync.Mutex
	closed           bool
	offered          bool
	answered         bool
	remoteSet        bool
	pending          []signal.Candidate
	senders          map[webrtc.RTPCodecType]localSender
	onLocalCandidate func(signal.Candidate)
}

// localSender pairs an outbound track with the sender carrying it, so the
// track can be detached on mute and restored on unmute.
type localSender struct {
	sender *webrtc.RTPSender
	track  webrtc.TrackLocal
}

// New constructs a fresh Session with no tracks and no remote description.
func New(cfg Config) (*Session, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if cfg.EngineSetup != nil {
		if err := cfg.EngineSetup(mediaEngine); err != nil {
			return nil, fmt.Errorf("configuring media engine: %w", err)
		}
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("registering default codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("registering interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)

	stuns := cfg.STUNServers
	if len(stuns) == 0 {
		stuns = DefaultSTUNServers
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stuns}},
	})
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		pc:      pc,
		logger:  logger.With("subsystem", "transport"),
		events:  make(chan Event, eventChanCap),
		done:    make(chan struct{}),
		senders: make(map[webrtc.RTPCodecType]localSender),
	}

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		s.push(Event{Kind: EventConnectionState, ConnectionState: st})
	})
	pc.OnICEConnectionStateChange(func(st webrtc.ICEConnectionState) {
		s.push(Event{Kind: EventICEConnectionState, ICEConnectionState: st})
	})
	pc.OnICEGatheringStateChange(func(st webrtc.ICEGatheringState) {
		s.push(Event{Kind: EventICEGatheringState, ICEGatheringState: st})
	})
	pc.OnSignalingStateChange(func(st webrtc.SignalingState) {
		s.push(Event{Kind: EventSignalingState, SignalingState: st})
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.logger.Debug("remote track", "kind", track.Kind().String(), "id", track.ID())
		s.push(Event{Kind: EventRemoteTrack, TrackKind: track.Kind()})
	})
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		s.mu.Lock()
		publish := s.onLocalCandidate
		s.mu.Unlock()
		if publish != nil {
			publish(signal.Candidate{
				Candidate:        init.Candidate,
				SDPMid:           init.SDPMid,
				SDPMLineIndex:    init.SDPMLineIndex,
				UsernameFragment: init.UsernameFragment,
			})
		}
	})

	return s, nil
}

// Events returns the session's event stream. The channel is never closed;
// consumers exit via Done.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// OnLocalCandidate sets the publish callback for locally discovered
// candidates. The transport stays storage-agnostic: the callback is the
// only path by which its candidates reach the signaling mailbox.
func (s *Session) OnLocalCandidate(fn func(signal.Candidate)) {
	s.mu.Lock()
	s.onLocalCandidate = fn
	s.mu.Unlock()
}

// AddLocalTracks attaches every track of the handle, remembering each
// sender so SetTrackEnabled can detach and restore the track later.
func (s *Session) AddLocalTracks(h *media.Handle) error {
	for _, t := range h.Tracks() {
		sender, err := s.pc.AddTrack(t.Local)
		if err != nil {
			return fmt.Errorf("adding %s track: %w", t.Kind.String(), err)
		}
		s.mu.Lock()
		s.senders[t.Kind] = localSender{sender: sender, track: t.Local}
		s.mu.Unlock()
	}
	return nil
}

// SetTrackEnabled pauses or resumes sending for the local track of the
// given kind. Disabling detaches the track from its sender so no packets
// leave the peer connection; enabling reattaches the original track.
func (s *Session) SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	ls, ok := s.senders[kind]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: no local %s track", kind.String())
	}
	if !enabled {
		return ls.sender.ReplaceTrack(nil)
	}
	return ls.sender.ReplaceTrack(ls.track)
}

// CreateOffer generates the offer and installs it as the local
// description, which starts candidate gathering. At most one offer may be
// created per session.
func (s *Session) CreateOffer() (signal.Description, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return signal.Description{}, errSessionClosed
	}
	if s.offered {
		s.mu.Unlock()
		return signal.Description{}, errOfferTwice
	}
	s.offered = true
	s.mu.Unlock()

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return signal.Description{}, fmt.Errorf("creating offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return signal.Description{}, fmt.Errorf("setting local offer: %w", err)
	}
	return signal.Description{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

// CreateAnswer generates the answer to a previously set remote offer and
// installs it as the local description. At most one answer may be created
// per session.
func (s *Session) CreateAnswer() (signal.Description, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return signal.Description{}, errSessionClosed
	}
	if !s.remoteSet {
		s.mu.Unlock()
		return signal.Description{}, errNoRemote
	}
	if s.answered {
		s.mu.Unlock()
		return signal.Description{}, errAnswerTwice
	}
	s.answered = true
	s.mu.Unlock()

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return signal.Description{}, fmt.Errorf("creating answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return signal.Description{}, fmt.Errorf("setting local answer: %w", err)
	}
	return signal.Description{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

// SetRemoteDescription applies the remote offer or answer, then flushes
// any candidates buffered before it arrived. The mailbox subscription may
// deliver the same record update more than once, so a second call is a
// no-op rather than an error.
func (s *Session) SetRemoteDescription(d signal.Description) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	if s.remoteSet {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	sd := webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
	if err := s.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}

	s.mu.Lock()
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, c := range pending {
		if err := s.applyCandidate(c); err != nil {
			s.logger.Warn("applying buffered candidate", "error", err)
		}
	}
	return nil
}

// AddRemoteCandidate applies a candidate from the remote side. Candidates
// that arrive before the remote description are buffered; applying a
// candidate without a remote description would be invalid.
func (s *Session) AddRemoteCandidate(c signal.Candidate) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.applyCandidate(c)
}

func (s *Session) applyCandidate(c signal.Candidate) error {
	err := s.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
	if err != nil {
		return fmt.Errorf("adding ice candidate: %w", err)
	}
	return nil
}

// Close releases the peer connection. Safe to call multiple times.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.onLocalCandidate = nil
	close(s.done)
	s.mu.Unlock()

	if err := s.pc.Close(); err != nil {
		return fmt.Errorf("closing peer connection: %w", err)
	}
	return nil
}

// push enqueues an event without blocking pion's callback goroutine.
func (s *Session) push(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	default:
		s.logger.Warn("transport event dropped, consumer too slow", "kind", ev.Kind.String())
	}
}
