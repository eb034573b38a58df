// Package media acquires local audio/video capture for a call: it wraps
// the platform capture provider (pion/mediadevices), retries transient
// failures with exponential backoff, and classifies failures into
// user-facing categories.
package media

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
)

// AudioConstraints are the processing options requested for the audio
// track. All three are requested on every call.
type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Constraints selects what to capture.
type Constraints struct {
	Video bool
	Audio AudioConstraints
}

// DefaultConstraints returns the standard call constraints: one audio
// track with full processing, plus a video track iff video is requested.
func DefaultConstraints(video bool) Constraints {
	return Constraints{
		Video: video,
		Audio: AudioConstraints{
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
	}
}

// Track is one captured local track, ready to attach to a peer connection.
type Track struct {
	Kind  webrtc.RTPCodecType
	Local webrtc.TrackLocal
	close func() error
}

// Provider acquires local media. Implementations: DeviceProvider (real
// capture) and test fakes.
type Provider interface {
	Acquire(ctx context.Context, c Constraints) (*Handle, error)
}

// Handle owns the captured tracks for one call. Tracks start enabled;
// ToggleAudio/ToggleVideo flip the local mute flags, and Stop releases the
// devices. Exactly one Handle is live per participant at a time.
type Handle struct {
	mu      sync.Mutex
	tracks  []*Track
	audioOn bool
	videoOn bool
	stopped bool
}

// NewHandle wraps captured tracks. Every track starts enabled.
func NewHandle(tracks []*Track) *Handle {
	return &Handle{tracks: tracks, audioOn: true, videoOn: true}
}

// Tracks returns the captured tracks.
func (h *Handle) Tracks() []*Track {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Track, len(h.tracks))
	copy(out, h.tracks)
	return out
}

// HasVideo reports whether a video track was captured.
func (h *Handle) HasVideo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.tracks {
		if t.Kind == webrtc.RTPCodecTypeVideo {
			return true
		}
	}
	return false
}

// ToggleAudio flips the audio enabled flag. Returns the new muted state
// (true = muted).
func (h *Handle) ToggleAudio() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.audioOn = !h.audioOn
	return !h.audioOn
}

// ToggleVideo flips the video enabled flag. Returns the new disabled state
// (true = camera off).
func (h *Handle) ToggleVideo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.videoOn = !h.videoOn
	return !h.videoOn
}

// AudioEnabled reports whether local audio is currently unmuted.
func (h *Handle) AudioEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.audioOn
}

// VideoEnabled reports whether the local camera is currently on.
func (h *Handle) VideoEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.videoOn
}

// Stop releases every captured device. Idempotent.
func (h *Handle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	for _, t := range h.tracks {
		if t.close != nil {
			_ = t.close()
		}
	}
}
