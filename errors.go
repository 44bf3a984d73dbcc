package usbmux

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured device-manager error with context and
// errno mapping.
type Error struct {
	Op       string          // Operation that failed (e.g. "OPEN", "CLAIM_INTERFACE", "SEND")
	Location Location        // Device location (bus, address); zero value if not applicable
	Code     DeviceErrorCode // High-level error category
	Errno    syscall.Errno   // Underlying errno (0 if not applicable)
	Msg      string          // Human-readable message
	Inner    error           // Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}

	if e.Location != (Location{}) {
		parts = append(parts, fmt.Sprintf("loc=%s", e.Location))
	}

	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("usbmux: %s (%s)", msg, parts[0])
	}

	return fmt.Sprintf("usbmux: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support comparing by error category.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// DeviceErrorCode represents a high-level error category.
type DeviceErrorCode string

const (
	ErrCodeDeviceNotFound      DeviceErrorCode = "device not found"
	ErrCodeDeviceBusy          DeviceErrorCode = "device busy"
	ErrCodeInvalidDescriptor   DeviceErrorCode = "invalid descriptor"
	ErrCodeModeRefused         DeviceErrorCode = "mode switch refused"
	ErrCodeConfigurationFailed DeviceErrorCode = "configuration selection failed"
	ErrCodeClaimFailed         DeviceErrorCode = "interface claim failed"
	ErrCodeIOError             DeviceErrorCode = "I/O error"
	ErrCodeTimeout             DeviceErrorCode = "timeout"
	ErrCodeCancelled           DeviceErrorCode = "transfer cancelled"
	ErrCodeDiscoveryFatal      DeviceErrorCode = "discovery fatal"
)

// NewError creates a new structured error.
func NewError(op string, code DeviceErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewErrorWithErrno creates a new structured error carrying an errno.
func NewErrorWithErrno(op string, code DeviceErrorCode, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error()}
}

// NewDeviceError creates a new error scoped to a specific device location.
func NewDeviceError(op string, loc Location, code DeviceErrorCode, msg string) *Error {
	return &Error{Op: op, Location: loc, Code: code, Msg: msg}
}

// WrapError wraps an existing error with usbmux context, mapping syscall
// errnos to a DeviceErrorCode where possible.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if ue, ok := inner.(*Error); ok {
		return &Error{
			Op:       op,
			Location: ue.Location,
			Code:     ue.Code,
			Errno:    ue.Errno,
			Msg:      ue.Msg,
			Inner:    ue.Inner,
		}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{
			Op:    op,
			Code:  mapErrnoToCode(errno),
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	return &Error{
		Op:    op,
		Code:  ErrCodeIOError,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// mapErrnoToCode maps syscall errno to device error codes.
func mapErrnoToCode(errno syscall.Errno) DeviceErrorCode {
	switch errno {
	case syscall.ENODEV, syscall.ENOENT:
		return ErrCodeDeviceNotFound
	case syscall.EBUSY:
		return ErrCodeDeviceBusy
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidDescriptor
	case syscall.ETIMEDOUT:
		return ErrCodeTimeout
	case syscall.EPIPE:
		// libusb reports a stalled endpoint as EPIPE; treat as a regular
		// I/O error, the same bucket usb.c logs STALL under.
		return ErrCodeIOError
	default:
		return ErrCodeIOError
	}
}

// IsCode reports whether err (or any error it wraps) has the given category.
func IsCode(err error, code DeviceErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
