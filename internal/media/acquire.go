package media

import (
	"context"
	"log/slog"
	"time"
)

// CaptureFunc performs one capture attempt.
type CaptureFunc func(ctx context.Context, c Constraints) (*Handle, error)

// Retry policy for capture: two extra attempts, base delay doubling.
const (
	extraAttempts = 2
	baseRetryWait = 250 * time.Millisecond
)

// Acquirer retries a capture function with exponential backoff and
// classifies the final failure. It carries no device state itself, so one
// Acquirer serves all calls.
type Acquirer struct {
	capture CaptureFunc
	logger  *slog.Logger
	wait    time.Duration
}

// NewAcquirer wraps a capture function with the standard retry policy.
func NewAcquirer(capture CaptureFunc, logger *slog.Logger) *Acquirer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Acquirer{
		capture: capture,
		logger:  logger.With("subsystem", "media"),
		wait:    baseRetryWait,
	}
}

// Acquire implements Provider. The initial request is retried up to two
// more times with the delay doubling each attempt; the last failure is
// returned classified as a *Error.
func (a *Acquirer) Acquire(ctx context.Context, c Constraints) (*Handle, error) {
	var lastErr error
	delay := a.wait

	for attempt := 0; attempt <= extraAttempts; attempt++ {
		if attempt > 0 {
			a.logger.Debug("retrying media capture", "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, Classify(ctx.Err())
			}
			delay *= 2
		}

		handle, err := a.capture(ctx, c)
		if err == nil {
			a.logger.Debug("media captured", "video", c.Video, "tracks", len(handle.Tracks()))
			return handle, nil
		}
		lastErr = err
	}

	merr := Classify(lastErr)
	a.logger.Warn("media capture failed", "kind", merr.Kind.String(), "error", lastErr)
	return nil, merr
}
