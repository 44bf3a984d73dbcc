package usbmux

import "github.com/usbmuxgo/usbmux/internal/constants"

// Re-exported constants for public API consumers.
const (
	AppleVendorID         = constants.AppleVendorID
	MaxReceiveUnit        = constants.MaxReceiveUnit
	ParallelReadLoops     = constants.ParallelReadLoops
	DefaultMaxPacketSize  = constants.DefaultMaxPacketSize
	RediscoveryPeriod     = constants.RediscoveryPeriod
	DisconnectDrainBound  = constants.DisconnectDrainBound
	EnvDeviceMode         = constants.EnvDeviceMode
	DefaultDesiredMode    = constants.DefaultDesiredMode
)
