//go:build linux && cgo

package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// DeviceProvider captures camera and microphone via pion/mediadevices
// (V4L2 + malgo on Linux) with VP8 and Opus encoders.
type DeviceProvider struct {
	logger   *slog.Logger
	selector *mediadevices.CodecSelector
	acquirer *Acquirer
}

// NewDeviceProvider builds the codec selector and logs the devices the
// drivers can see.
func NewDeviceProvider(logger *slog.Logger) (*DeviceProvider, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("creating vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("creating opus params: %w", err)
	}

	p := &DeviceProvider{
		logger: logger.With("subsystem", "media"),
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}
	p.acquirer = NewAcquirer(p.capture, logger)

	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		p.logger.Warn("no media devices found")
	}
	for _, d := range devices {
		p.logger.Debug("media device", "kind", fmt.Sprint(d.Kind), "label", d.Label)
	}

	return p, nil
}

// Acquire implements Provider with the standard retry policy.
func (p *DeviceProvider) Acquire(ctx context.Context, c Constraints) (*Handle, error) {
	return p.acquirer.Acquire(ctx, c)
}

// PopulateEngine registers the provider's codecs on a webrtc media engine.
// The transport must use the same codec selector the tracks were encoded
// with or SDP negotiation will not include them.
func (p *DeviceProvider) PopulateEngine(me *webrtc.MediaEngine) error {
	p.selector.Populate(me)
	return nil
}

// capture performs one GetUserMedia attempt.
func (p *DeviceProvider) capture(ctx context.Context, c Constraints) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: p.selector}
	// The audio processing options (echo cancellation, noise suppression,
	// auto gain) are applied by the driver where the hardware supports
	// them; mediadevices exposes no per-option switch.
	constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	if c.Video {
		constraints.Video = func(mt *mediadevices.MediaTrackConstraints) {
			// Raw formats only: some cameras expose an MJPEG node that
			// produces malformed frames and poisons the VP8 encoder.
			mt.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mt.Width = prop.IntRanged{Max: 640}
			mt.Height = prop.IntRanged{Max: 480}
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, err
	}

	mdTracks := stream.GetTracks()
	tracks := make([]*Track, 0, len(mdTracks))
	var haveAudio bool
	for _, t := range mdTracks {
		if t.Kind() == webrtc.RTPCodecTypeAudio {
			haveAudio = true
		}
		tracks = append(tracks, &Track{Kind: t.Kind(), Local: t, close: t.Close})
	}
	if !haveAudio {
		for _, t := range mdTracks {
			_ = t.Close()
		}
		return nil, errors.New("no audio device captured")
	}

	p.logger.Debug("local media captured", "tracks", len(tracks), "video", c.Video)
	return NewHandle(tracks), nil
}
