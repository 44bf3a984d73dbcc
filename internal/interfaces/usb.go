// Package interfaces provides internal interface definitions for the
// device manager. These are separate from the public package's interfaces
// to avoid circular imports between the root package and internal/device,
// internal/transport.
package interfaces

import (
	"context"
	"time"
)

// DeviceDescriptor is a transport-agnostic copy of the fields C3/C4/C5/C6
// need from a USB device descriptor.
type DeviceDescriptor struct {
	Bus               uint8
	Address           uint8
	VendorID          uint16
	ProductID         uint16
	NumConfigurations int
	SerialIndex       uint8
	Speed             SpeedClass
}

// SpeedClass mirrors libusb's device speed enumeration.
type SpeedClass int

const (
	SpeedUnknown SpeedClass = iota
	SpeedLow
	SpeedFull
	SpeedHigh
	SpeedSuper
	SpeedSuperPlus
)

// EndpointDescriptor describes one endpoint within an interface.
type EndpointDescriptor struct {
	Address       uint8 // includes the direction bit
	MaxPacketSize uint16
}

// IsIn reports whether the endpoint is device->host (bulk IN).
func (e EndpointDescriptor) IsIn() bool { return e.Address&0x80 != 0 }

// InterfaceDescriptor describes one interface's first alternate setting.
type InterfaceDescriptor struct {
	Number      uint8
	Class       uint8
	SubClass    uint8
	Protocol    uint8
	Endpoints   []EndpointDescriptor
}

// ConfigDescriptor describes one configuration and its interfaces.
type ConfigDescriptor struct {
	Value      uint8 // bConfigurationValue
	Interfaces []InterfaceDescriptor
}

// TransferStatus is the outcome reported with a Completion, modeled
// directly on libusb's transfer status codes.
type TransferStatus int

const (
	StatusCompleted TransferStatus = iota
	StatusCancelled
	StatusNoDevice
	StatusStall
	StatusTimedOut
	StatusError
)

// Completion is delivered on the Transport's completion channel once a
// submitted operation finishes — the Go rendering of a libusb transfer
// callback.
type Completion struct {
	TransferID uint64
	Location   DeviceLocation
	Status     TransferStatus
	N          int // bytes actually transferred
	Data       []byte
	Err        error
}

// DeviceLocation is the (bus, address) pair transport-level code uses to
// key devices; the root package's Location type mirrors this field-for-field.
type DeviceLocation struct {
	Bus     uint8
	Address uint8
}

// Transport abstracts the host USB controller library. The real
// implementation wraps google/gousb; the simulated implementation drives
// scripted scenarios for tests.
type Transport interface {
	// ListDevices returns every currently attached device the library can
	// see, filtering is the caller's (C3's) responsibility.
	ListDevices(ctx context.Context) ([]DeviceDescriptor, error)

	// Open opens a handle to the device at loc.
	Open(ctx context.Context, loc DeviceLocation) (Handle, error)

	// SupportsHotplug reports whether RegisterHotplug is usable.
	SupportsHotplug() bool

	// RegisterHotplug installs arrival/departure callbacks. Callbacks must
	// perform no blocking work.
	RegisterHotplug(onArrival func(DeviceDescriptor), onDeparture func(DeviceLocation)) error

	// DeregisterHotplug undoes RegisterHotplug.
	DeregisterHotplug()

	// Completions returns the channel every submitted operation's result
	// is funneled onto; callers must treat it as a single-consumer queue.
	Completions() <-chan Completion

	// ControlFD returns a file descriptor the host loop can select() on to
	// know when to call Manager.Process, or (0, false) if the transport has
	// none (the simulated transport has no fd; callers must instead pump
	// on a timer).
	ControlFD() (fd int, ok bool)

	// Close tears down the transport.
	Close() error
}

// Handle is an opened device; its methods submit asynchronous operations
// that complete via the owning Transport's Completions channel.
type Handle interface {
	Location() DeviceLocation
	Descriptor() DeviceDescriptor
	Configurations(ctx context.Context) ([]ConfigDescriptor, error)
	ActiveConfiguration(ctx context.Context) (uint8, error)
	SetConfiguration(ctx context.Context, value uint8) error
	DetachKernelDriver(ctx context.Context, iface uint8) error
	ClaimInterface(ctx context.Context, iface uint8) error

	// SubmitControl submits a control transfer; the result (including the
	// response bytes) arrives as a Completion. timeout bounds the
	// underlying blocking call.
	SubmitControl(ctx context.Context, transferID uint64, requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) error

	// SubmitBulkRead submits a bulk IN transfer into a caller-owned buffer.
	SubmitBulkRead(ctx context.Context, transferID uint64, epAddr uint8, buf []byte) error

	// SubmitBulkWrite submits a bulk OUT transfer of data.
	SubmitBulkWrite(ctx context.Context, transferID uint64, epAddr uint8, data []byte) error

	// Cancel is keyed by transfer ID. Both transports in
	// internal/transport implement it as a no-op; a submitted transfer is
	// cancelled by cancelling the context passed to its Submit* call.
	Cancel(transferID uint64)

	ReleaseInterface(iface uint8) error
	Close() error
}

// Collaborator is the external consumer of device lifecycle and data
// events the core produces.
type Collaborator interface {
	DeviceAdd(loc DeviceLocation) error
	DeviceRemove(loc DeviceLocation)
	DeviceDataInput(loc DeviceLocation, data []byte)
	Log(level int, message string)
	GetTickCount() time.Time
}

// Logger is the internal logging interface, matching internal/logging.Logger's
// exported method set so call sites can depend on the interface.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Observer is the internal metrics-observer interface (mirrors the public
// Observer in metrics.go, kept distinct to avoid an import cycle from
// internal/device back into the root package).
type Observer interface {
	ObserveRxTransfer(bytes uint64, latencyNs uint64, success bool)
	ObserveTxTransfer(bytes uint64, latencyNs uint64, success bool)
	ObserveModeSwitch(accepted bool)
	ObserveDeviceAttached()
	ObserveDeviceDoomed(reason string)
}
