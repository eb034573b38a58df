package media

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"permission", errors.New("v4l2: permission denied"), KindPermissionDenied},
		{"busy", errors.New("open /dev/video0: device or resource busy"), KindDeviceBusy},
		{"overconstrained", errors.New("failed to find the best driver that fits the constraints"), KindConstraintsNotSatisfiable},
		{"missing device", errors.New("open /dev/video0: no such file or directory"), KindDeviceNotFound},
		{"unsupported", errors.New("format not supported"), KindUnsupportedConfiguration},
		{"context canceled", context.Canceled, KindAborted},
		{"deadline", context.DeadlineExceeded, KindAborted},
		{"wrapped deadline", fmt.Errorf("capture: %w", context.DeadlineExceeded), KindAborted},
		{"unknown", errors.New("something odd happened"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Kind != tt.want {
				t.Errorf("Classify(%v).Kind = %s, want %s", tt.err, got.Kind, tt.want)
			}
			if !errors.Is(got, tt.err) && got.Err == nil {
				t.Error("classified error lost its cause")
			}
		})
	}
}

func TestClassify_PassesThroughMediaError(t *testing.T) {
	orig := &Error{Kind: KindDeviceBusy, Err: errors.New("busy")}
	wrapped := fmt.Errorf("acquiring: %w", orig)

	got := Classify(wrapped)
	if got != orig {
		t.Errorf("expected the original *Error back, got %v", got)
	}
}

func TestErrorMessage_CoversAllKinds(t *testing.T) {
	kinds := []ErrorKind{
		KindUnknown, KindDeviceNotFound, KindDeviceBusy,
		KindConstraintsNotSatisfiable, KindPermissionDenied,
		KindUnsupportedConfiguration, KindAborted,
	}
	for _, k := range kinds {
		if k.Message() == "" {
			t.Errorf("kind %s has no user-facing message", k)
		}
	}
}

func TestHandleToggles(t *testing.T) {
	h := NewHandle([]*Track{
		{Kind: webrtc.RTPCodecTypeAudio},
		{Kind: webrtc.RTPCodecTypeVideo},
	})

	if !h.AudioEnabled() || !h.VideoEnabled() {
		t.Fatal("tracks must start enabled")
	}

	if muted := h.ToggleAudio(); !muted {
		t.Error("first toggle should mute")
	}
	if muted := h.ToggleAudio(); muted {
		t.Error("second toggle should unmute")
	}

	if off := h.ToggleVideo(); !off {
		t.Error("first toggle should disable the camera")
	}
	if h.VideoEnabled() {
		t.Error("camera should be off")
	}
}

func TestHandleStop_Idempotent(t *testing.T) {
	closed := 0
	h := NewHandle([]*Track{{close: func() error { closed++; return nil }}})

	h.Stop()
	h.Stop()
	if closed != 1 {
		t.Errorf("track closed %d times, want 1", closed)
	}
}
