package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a capture failure into a user-facing category, so
// callers never need to inspect platform-specific error types.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindDeviceNotFound
	KindDeviceBusy
	KindConstraintsNotSatisfiable
	KindPermissionDenied
	KindUnsupportedConfiguration
	KindAborted
)

func (k ErrorKind) String() string {
	switch k {
	case KindDeviceNotFound:
		return "device-not-found"
	case KindDeviceBusy:
		return "device-busy"
	case KindConstraintsNotSatisfiable:
		return "constraints-not-satisfiable"
	case KindPermissionDenied:
		return "permission-denied"
	case KindUnsupportedConfiguration:
		return "unsupported-configuration"
	case KindAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Message returns the remediation message shown to the user for this kind.
func (k ErrorKind) Message() string {
	switch k {
	case KindDeviceNotFound:
		return "No camera or microphone was found. Connect a device and try again."
	case KindDeviceBusy:
		return "The camera or microphone is in use by another application."
	case KindConstraintsNotSatisfiable:
		return "No device satisfies the requested audio/video configuration."
	case KindPermissionDenied:
		return "Permission to use the camera or microphone was denied."
	case KindUnsupportedConfiguration:
		return "Media capture is not supported in this configuration."
	case KindAborted:
		return "Media capture was interrupted. Try again."
	default:
		return "Could not access the camera or microphone."
	}
}

// Error is a classified media acquisition failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("media: %s", e.Kind)
	}
	return fmt.Sprintf("media: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Message returns the user-facing remediation message.
func (e *Error) Message() string { return e.Kind.Message() }

// Classify wraps an arbitrary capture error as a *Error with the best
// matching kind. Classification is by message inspection: the capture
// drivers (V4L2, malgo, mediadevices itself) do not expose typed errors.
func Classify(err error) *Error {
	var me *Error
	if errors.As(err, &me) {
		return me
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindAborted, Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case contains(msg, "permission denied", "operation not permitted", "not authorized"):
		return &Error{Kind: KindPermissionDenied, Err: err}
	case contains(msg, "device or resource busy", "already in use", "resource busy"):
		return &Error{Kind: KindDeviceBusy, Err: err}
	case contains(msg, "failed to find the best driver", "over-constrained", "no property"):
		return &Error{Kind: KindConstraintsNotSatisfiable, Err: err}
	case contains(msg, "no such device", "no such file or directory", "no device", "device not found"):
		return &Error{Kind: KindDeviceNotFound, Err: err}
	case contains(msg, "unsupported", "not implemented", "not supported"):
		return &Error{Kind: KindUnsupportedConfiguration, Err: err}
	case contains(msg, "aborted", "canceled", "cancelled", "interrupted"):
		return &Error{Kind: KindAborted, Err: err}
	default:
		return &Error{Kind: KindUnknown, Err: err}
	}
}

func contains(msg string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}
