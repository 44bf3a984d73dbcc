// Package constants holds the vendor/product filters, protocol constants
// and timing values shared across the device manager.
package constants

import "time"

// Apple vendor ID and the product-ID ranges usb.c's usb_device_add filters on.
const (
	AppleVendorID = 0x05ac

	// T2CoprocessorProductID is the Apple T2 security coprocessor in DFU/restore mode.
	T2CoprocessorProductID = 0x1281

	// Apple Silicon restore-mode product IDs.
	AppleSiliconRestoreMin = 0x1290
	AppleSiliconRestoreMax = 0x1293

	// Mobile-device (iPhone/iPad/iPod) product ID range.
	MobileDeviceProductMin = 0x1200
	MobileDeviceProductMax = 0x12ff
)

// IsAppleDevice reports whether vendor/product fall within one of the
// accepted ranges: the T2 coprocessor, the Apple Silicon restore range, or
// the general mobile-device range.
func IsAppleDevice(vendor, product uint16) bool {
	if vendor != AppleVendorID {
		return false
	}
	switch {
	case product == T2CoprocessorProductID:
		return true
	case product >= AppleSiliconRestoreMin && product <= AppleSiliconRestoreMax:
		return true
	case product >= MobileDeviceProductMin && product <= MobileDeviceProductMax:
		return true
	default:
		return false
	}
}

// Vendor-specific control requests used by the mode negotiator (C4).
const (
	// ReqGetMode is the vendor|IN|device control request that returns the
	// device's current 4-byte mode descriptor.
	ReqGetMode = 0x45

	// ReqSetMode is the vendor|IN|device control request that asks the
	// device to switch to wIndex's mode; the 1-byte response is zero on
	// acceptance.
	ReqSetMode = 0x52

	GetModeResponseLength = 4
	SetModeResponseLength = 1

	// ControlTransferTimeout bounds every control transfer (get-mode,
	// set-mode, language-ID, serial).
	ControlTransferTimeout = 1000 * time.Millisecond
)

// Multiplexer interface class/subclass/protocol triple. Configuration
// selection (C5) accepts an interface matching ANY one of these three
// fields (the disjunctive match Apple's descriptors require).
const (
	MuxInterfaceClass    = 0xff
	MuxInterfaceSubClass = 0xfe
	MuxInterfaceProtocol = 0x02
)

// Mode-5 sub-classification constants (usb.c guess_mode's configuration-5 walk).
const (
	ValeriaInterfaceClass    = 0xff // vendor-specific
	ValeriaInterfaceSubClass = 42
	ValeriaInterfaceProtocol = 255

	CDCNCMInterfaceClass    = 0x02
	CDCNCMInterfaceSubClass = 0x0d
)

// Bulk I/O tuning.
const (
	// MaxReceiveUnit is the fixed read-buffer size used by every rx loop.
	MaxReceiveUnit = 64 * 1024

	// ParallelReadLoops is the number of rx transfers kept outstanding per
	// device at all times.
	ParallelReadLoops = 3

	// DefaultMaxPacketSize is used when the transport cannot report the
	// endpoint's wMaxPacketSize.
	DefaultMaxPacketSize = 64
)

// Link-speed classification (bits/second), keyed by USB speed class.
const (
	SpeedLowBps       = 1_500_000
	SpeedFullBps      = 12_000_000
	SpeedHighBps      = 480_000_000
	SpeedSuperBps     = 5_000_000_000
	SpeedSuperPlusBps = 10_000_000_000
)

// Discovery / rediscovery timing.
const (
	// RediscoveryPeriod is how often a full Discover() scan runs when
	// hotplug is unavailable.
	RediscoveryPeriod = 1000 * time.Millisecond

	// NoRediscoveryTimeout is returned by Timeout() while hotplug is active,
	// so host loops using a plain timer don't need to special-case "never".
	NoRediscoveryTimeout = 24 * time.Hour

	// MaxConsecutiveDiscoveryFailures is the devlist-failure threshold
	// after which the manager reports a fatal condition.
	MaxConsecutiveDiscoveryFailures = 5
)

// Disconnect drain timing.
const (
	DisconnectDrainBound = 100 * time.Millisecond
	DisconnectDrainStep  = 1 * time.Millisecond
)

// EnvDeviceMode is the environment variable read once during Init to select
// the desired mode.
const EnvDeviceMode = "USBMUX_DEVICE_MODE"

// DefaultDesiredMode is used when EnvDeviceMode is unset, unparsable, or
// out of range: mode 2, "initial" (see internal/device.Mode — the five
// modes are numbered 1-5 in GET_MODE/SET_MODE wire order: cdc-ncm-direct,
// initial, valeria, cdc-ncm, usbeth+cdc-ncm).
const DefaultDesiredMode = 2
