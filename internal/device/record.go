package device

import (
	"github.com/usbmuxgo/usbmux/internal/constants"
	"github.com/usbmuxgo/usbmux/internal/transport"
)

// Record is one device's full state. Its state field is mutated only by
// Engine methods called from the pump goroutine (New, Discover, Process,
// ProcessTimeout, Shutdown), never concurrently.
type Record struct {
	loc        transport.DeviceLocation
	handle     transport.Handle
	descriptor transport.DeviceDescriptor

	state State

	activeConfig  transport.ConfigDescriptor
	iface         transport.InterfaceDescriptor
	epOut, epIn   transport.EndpointDescriptor
	maxPacketSize uint16

	cfg5 *transport.ConfigDescriptor // configuration 5, cached during mode-guess if read

	guessedMode Mode
	desiredMode Mode

	// pendingTransferID and pendingBuf track the single in-flight control
	// transfer relevant to the device's current state; Record.state itself
	// (plus serialPhase during reading_serial) disambiguates which
	// completion handler owns it — the dispatcher owns this context
	// end-to-end.
	pendingTransferID transferID
	pendingBuf        []byte
	serialPhase       serialPhase

	serial string
	added  bool // true once Collaborator.DeviceAdd has been called for this record

	rx, tx    *TransferSet
	rxBuffers map[transferID][]byte

	doomReason error

	seenThisScan bool
}

func newRecord(loc transport.DeviceLocation, handle transport.Handle, desc transport.DeviceDescriptor, desiredMode Mode) *Record {
	return &Record{
		loc:          loc,
		handle:       handle,
		descriptor:   desc,
		state:        StateProvisional,
		desiredMode:  desiredMode,
		rx:           NewTransferSet(),
		tx:           NewTransferSet(),
		rxBuffers:    map[transferID][]byte{},
		seenThisScan: true,
	}
}

// Location returns the device's (bus, address) key.
func (r *Record) Location() transport.DeviceLocation { return r.loc }

// Serial returns the decoded, UDID-formatted serial string (empty until the
// serial descriptor has been read, which happens just before DeviceAdd).
func (r *Record) Serial() string { return r.serial }

// ProductID returns the cached device descriptor's product ID.
func (r *Record) ProductID() uint16 { return r.descriptor.ProductID }

// VendorID returns the cached device descriptor's vendor ID.
func (r *Record) VendorID() uint16 { return r.descriptor.VendorID }

// Speed returns the link speed in bits/second, defaulting to the high-speed
// rate for an unknown speed class.
func (r *Record) Speed() uint64 { return speedBps(r.descriptor.Speed) }

// State returns the device's current lifecycle state.
func (r *Record) State() State { return r.state }

// DoomReason returns the error that doomed this device, if any.
func (r *Record) DoomReason() error { return r.doomReason }

func speedBps(s transport.SpeedClass) uint64 {
	switch s {
	case transport.SpeedLow:
		return constants.SpeedLowBps
	case transport.SpeedFull:
		return constants.SpeedFullBps
	case transport.SpeedHigh:
		return constants.SpeedHighBps
	case transport.SpeedSuper:
		return constants.SpeedSuperBps
	case transport.SpeedSuperPlus:
		return constants.SpeedSuperPlusBps
	default:
		return constants.SpeedHighBps // unknown speed class defaults to high
	}
}
