// Package transport implements C10 — the USB host-controller abstraction
// that lets internal/device's components (C3-C9) run against either real
// hardware (via google/gousb, build tag "gousb") or a scriptable simulated
// transport used by this module's scenario tests.
package transport

import (
	"github.com/usbmuxgo/usbmux/internal/interfaces"
)

// Type aliases so callers can write transport.Transport, transport.Handle,
// etc. without importing internal/interfaces directly — internal/device
// depends on this package, not the other way around.
type (
	Transport          = interfaces.Transport
	Handle             = interfaces.Handle
	DeviceDescriptor   = interfaces.DeviceDescriptor
	DeviceLocation     = interfaces.DeviceLocation
	ConfigDescriptor   = interfaces.ConfigDescriptor
	InterfaceDescriptor = interfaces.InterfaceDescriptor
	EndpointDescriptor = interfaces.EndpointDescriptor
	Completion         = interfaces.Completion
	TransferStatus     = interfaces.TransferStatus
	SpeedClass         = interfaces.SpeedClass
)

const (
	StatusCompleted = interfaces.StatusCompleted
	StatusCancelled = interfaces.StatusCancelled
	StatusNoDevice  = interfaces.StatusNoDevice
	StatusStall     = interfaces.StatusStall
	StatusTimedOut  = interfaces.StatusTimedOut
	StatusError     = interfaces.StatusError
)

const (
	SpeedUnknown   = interfaces.SpeedUnknown
	SpeedLow       = interfaces.SpeedLow
	SpeedFull      = interfaces.SpeedFull
	SpeedHigh      = interfaces.SpeedHigh
	SpeedSuper     = interfaces.SpeedSuper
	SpeedSuperPlus = interfaces.SpeedSuperPlus
)
