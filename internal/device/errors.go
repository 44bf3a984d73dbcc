package device

import (
	"fmt"

	"github.com/usbmuxgo/usbmux/internal/transport"
)

// ErrorKind classifies a device-level failure without depending on the
// root package's richer *Error type (internal/device must not import the
// root package, which imports internal/device). The root package's
// translateEngineErr maps these onto the public DeviceErrorCode at the package boundary.
type ErrorKind int

const (
	ErrKindUnknown ErrorKind = iota
	ErrKindInvalidDescriptor
	ErrKindConfigurationFailed
	ErrKindClaimFailed
	ErrKindIOError
	ErrKindTimeout
	ErrKindCancelled
	ErrKindModeRefused
)

// Error is the internal error type every device.Engine transition reports
// through Record.doomReason.
type Error struct {
	Kind     ErrorKind
	Op       string
	Location transport.DeviceLocation
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Location, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Location)
}

func (e *Error) Unwrap() error { return e.Err }

func newConfigError(rec *Record, msg string) *Error {
	return &Error{Kind: ErrKindConfigurationFailed, Op: "select configuration", Location: rec.loc, Err: fmt.Errorf("%s", msg)}
}

func wrapConfigErr(rec *Record, op string, err error) *Error {
	return &Error{Kind: ErrKindConfigurationFailed, Op: op, Location: rec.loc, Err: err}
}

func wrapClaimErr(rec *Record, err error) *Error {
	return &Error{Kind: ErrKindClaimFailed, Op: "claim interface", Location: rec.loc, Err: err}
}

func wrapIOErr(rec *Record, op string, err error) *Error {
	return &Error{Kind: ErrKindIOError, Op: op, Location: rec.loc, Err: err}
}

func wrapDescriptorErr(rec *Record, op string, err error) *Error {
	return &Error{Kind: ErrKindInvalidDescriptor, Op: op, Location: rec.loc, Err: err}
}
