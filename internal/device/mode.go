package device

import (
	"context"

	"github.com/usbmuxgo/usbmux/internal/constants"
	"github.com/usbmuxgo/usbmux/internal/transport"
)

// Mode is the vendor-specific operating mode an Apple device is guessed or
// switched into.
type Mode int

const (
	ModeUndetermined Mode = iota
	ModeCDCNCMDirect
	ModeInitial
	ModeValeria
	ModeCDCNCM
	ModeUSBEthCDCNCM
)

func (m Mode) String() string {
	switch m {
	case ModeCDCNCMDirect:
		return "cdc-ncm-direct"
	case ModeInitial:
		return "initial"
	case ModeValeria:
		return "valeria"
	case ModeCDCNCM:
		return "cdc-ncm"
	case ModeUSBEthCDCNCM:
		return "usbeth+cdc-ncm"
	default:
		return "undetermined"
	}
}

// GuessMode classifies a device by its configuration count, consulting
// configuration 5's interfaces only when numConfigurations == 5. Grounded
// byte-for-byte on usb.c's guess_mode thresholds.
func GuessMode(numConfigurations int, cfg5 *transport.ConfigDescriptor) Mode {
	switch numConfigurations {
	case 1:
		return ModeCDCNCMDirect
	case 2, 3, 4:
		return ModeInitial
	case 5:
		if cfg5 == nil {
			return ModeUndetermined
		}
		hasMux, hasValeria, hasCDCNCM := false, false, false
		for _, iface := range cfg5.Interfaces {
			if matchesMultiplexer(iface) {
				hasMux = true
			}
			if iface.Class == constants.ValeriaInterfaceClass &&
				iface.SubClass == constants.ValeriaInterfaceSubClass &&
				iface.Protocol == constants.ValeriaInterfaceProtocol {
				hasValeria = true
			}
			if iface.Class == constants.CDCNCMInterfaceClass &&
				iface.SubClass == constants.CDCNCMInterfaceSubClass {
				hasCDCNCM = true
			}
		}
		switch {
		case hasMux && hasValeria:
			return ModeValeria
		case hasMux && hasCDCNCM:
			return ModeCDCNCM
		default:
			return ModeUndetermined
		}
	case 6:
		return ModeUSBEthCDCNCM
	default:
		return ModeUndetermined
	}
}

func matchesMultiplexer(iface transport.InterfaceDescriptor) bool {
	return iface.Class == constants.MuxInterfaceClass ||
		iface.SubClass == constants.MuxInterfaceSubClass ||
		iface.Protocol == constants.MuxInterfaceProtocol
}

// DesiredModeFromEnv reads the desired-mode environment variable, strictly
// validating [1,5] (a deliberate correction from the original's lax atoi
// handling, recorded in DESIGN.md).
func DesiredModeFromEnv(raw string) Mode {
	if raw == "" {
		return ModeInitial
	}
	n := 0
	for _, r := range raw {
		if r < '0' || r > '9' {
			return ModeInitial
		}
		n = n*10 + int(r-'0')
		if n > 5 {
			return ModeInitial
		}
	}
	if n < 1 || n > 5 {
		return ModeInitial
	}
	return Mode(n)
}

// submitGetMode issues the vendor-specific GET_MODE control transfer and
// records the device as awaiting its completion.
func (e *Engine) submitGetMode(ctx context.Context, rec *Record) error {
	id := e.nextTransferID()
	buf := make([]byte, constants.GetModeResponseLength)
	rec.pendingTransferID = id
	if err := rec.handle.SubmitControl(ctx, uint64(id), controlInVendor, constants.ReqGetMode, 0, 0, buf, constants.ControlTransferTimeout); err != nil {
		return err
	}
	rec.pendingBuf = buf
	return nil
}

const (
	controlInVendor = 0xc0 // direction=IN, type=vendor, recipient=device
)

// handleGetModeCompletion advances probing_mode -> {switching_mode |
// configuring}.
func (e *Engine) handleGetModeCompletion(ctx context.Context, rec *Record, c transport.Completion) {
	if c.TransferID != uint64(rec.pendingTransferID) {
		return
	}
	if c.Status != transport.StatusCompleted || c.N < constants.GetModeResponseLength {
		// GET_MODE failed or didn't complete: fall through to C5 in the
		// current configuration, the same way an unreadable GET_MODE is handled.
		e.proceedToConfiguring(ctx, rec)
		return
	}

	if rec.descriptor.NumConfigurations == 5 {
		rec.cfg5 = e.fetchConfig5(ctx, rec)
	}
	rec.guessedMode = GuessMode(rec.descriptor.NumConfigurations, rec.cfg5)
	if rec.guessedMode == ModeUndetermined || rec.guessedMode == rec.desiredMode {
		e.proceedToConfiguring(ctx, rec)
		return
	}

	rec.state = StateSwitchingMode
	id := e.nextTransferID()
	buf := make([]byte, constants.SetModeResponseLength)
	rec.pendingTransferID = id
	err := rec.handle.SubmitControl(ctx, uint64(id), controlInVendor, constants.ReqSetMode, 0, uint16(rec.desiredMode), buf, constants.ControlTransferTimeout)
	if err != nil {
		e.observeModeSwitch(false)
		e.proceedToConfiguring(ctx, rec)
		return
	}
	rec.pendingBuf = buf
}

// fetchConfig5 reads configuration 5's descriptor for GuessMode to inspect.
// A read failure is tolerated as "undetermined" rather than dooming the
// device (decision recorded in DESIGN.md).
func (e *Engine) fetchConfig5(ctx context.Context, rec *Record) *transport.ConfigDescriptor {
	configs, err := rec.handle.Configurations(ctx)
	if err != nil {
		return nil
	}
	for _, c := range configs {
		if c.Value == 5 {
			cfg := c
			return &cfg
		}
	}
	return nil
}

// handleSetModeCompletion tolerates any response byte other than zero as a
// refusal and continues in the current mode regardless.
func (e *Engine) handleSetModeCompletion(ctx context.Context, rec *Record, c transport.Completion) {
	if c.TransferID != uint64(rec.pendingTransferID) {
		return
	}
	accepted := c.Status == transport.StatusCompleted && c.N >= 1 && c.Data[0] == 0
	e.observeModeSwitch(accepted)
	e.proceedToConfiguring(ctx, rec)
}

func (e *Engine) observeModeSwitch(accepted bool) {
	if e.observer != nil {
		e.observer.ObserveModeSwitch(accepted)
	}
}

func (e *Engine) proceedToConfiguring(ctx context.Context, rec *Record) {
	rec.state = StateConfiguring
	rec.pendingBuf = nil
	e.configureDevice(ctx, rec)
}
