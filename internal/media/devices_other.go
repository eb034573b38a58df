//go:build !linux || !cgo

package media

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pion/webrtc/v4"
)

// DeviceProvider on non-Linux platforms cannot capture: mediadevices needs
// platform drivers that are only wired in for V4L2/malgo. Acquire reports
// an unsupported configuration; calls can still be answered receive-only
// by a UI that provides its own media path.
type DeviceProvider struct {
	logger *slog.Logger
}

// NewDeviceProvider returns the stub provider.
func NewDeviceProvider(logger *slog.Logger) (*DeviceProvider, error) {
	return &DeviceProvider{logger: logger.With("subsystem", "media")}, nil
}

// Acquire implements Provider.
func (p *DeviceProvider) Acquire(ctx context.Context, c Constraints) (*Handle, error) {
	return nil, &Error{
		Kind: KindUnsupportedConfiguration,
		Err:  errors.New("local capture not available on this platform"),
	}
}

// PopulateEngine registers the default codecs.
func (p *DeviceProvider) PopulateEngine(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}
