package device

import (
	"context"
	"strings"

	"github.com/usbmuxgo/usbmux/internal/constants"
	"github.com/usbmuxgo/usbmux/internal/transport"
)

const (
	reqGetDescriptor   = 0x06
	descTypeString     = 0x03
	langIDTableIndex   = 0
	langIDTableLength  = 4 // header + one language ID
	serialBufferLength = 255
)

// DecodeSerial decodes a USB string descriptor (2-byte header, then
// little-endian UTF-16 units) the way usb.c's get_serial_callback does:
// skip the header, treat each unit whose high byte is zero and whose low
// byte's high bit is clear as ASCII, substitute '?' otherwise, and stop at
// an embedded NUL.
func DecodeSerial(raw []byte) string {
	if len(raw) < 2 {
		return ""
	}
	var b strings.Builder
	for i := 2; i+1 < len(raw); i += 2 {
		lo, hi := raw[i], raw[i+1]
		if hi != 0 || lo&0x80 != 0 {
			b.WriteByte('?')
			continue
		}
		if lo == 0 {
			break
		}
		b.WriteByte(lo)
	}
	return b.String()
}

// FormatUDID applies the long-form UDID convention: a 24-character serial
// gets a hyphen inserted between its 8th and 9th characters, yielding 25.
func FormatUDID(s string) string {
	if len(s) != 24 {
		return s
	}
	return s[:8] + "-" + s[8:]
}

func (e *Engine) startReadingSerial(ctx context.Context, rec *Record) {
	rec.state = StateReadingSerial
	rec.serialPhase = phaseLangID

	id := e.nextTransferID()
	buf := make([]byte, langIDTableLength)
	rec.pendingTransferID = id
	if err := rec.handle.SubmitControl(ctx, uint64(id), controlInVendorStd, reqGetDescriptor, uint16(descTypeString)<<8|langIDTableIndex, 0, buf, constants.ControlTransferTimeout); err != nil {
		e.doom(ctx, rec, wrapDescriptorErr(rec, "get language ID table", err))
		return
	}
	rec.pendingBuf = buf
}

const controlInVendorStd = 0x80 // direction=IN, type=standard, recipient=device

func (e *Engine) handleLangIDCompletion(ctx context.Context, rec *Record, c transport.Completion) {
	if c.TransferID != uint64(rec.pendingTransferID) {
		return
	}
	if c.Status != transport.StatusCompleted || c.N < langIDTableLength {
		e.doom(ctx, rec, wrapDescriptorErr(rec, "get language ID table", statusErr(c)))
		return
	}
	langID := uint16(c.Data[2]) | uint16(c.Data[3])<<8

	rec.serialPhase = phaseSerial
	id := e.nextTransferID()
	buf := make([]byte, serialBufferLength)
	rec.pendingTransferID = id
	idx := uint16(descTypeString)<<8 | uint16(rec.descriptor.SerialIndex)
	if err := rec.handle.SubmitControl(ctx, uint64(id), controlInVendorStd, reqGetDescriptor, idx, langID, buf, constants.ControlTransferTimeout); err != nil {
		e.doom(ctx, rec, wrapDescriptorErr(rec, "get serial string", err))
		return
	}
	rec.pendingBuf = buf
}

func (e *Engine) handleSerialCompletion(ctx context.Context, rec *Record, c transport.Completion) {
	if c.TransferID != uint64(rec.pendingTransferID) {
		return
	}
	if c.Status != transport.StatusCompleted {
		e.doom(ctx, rec, wrapDescriptorErr(rec, "get serial string", statusErr(c)))
		return
	}

	serial := DecodeSerial(c.Data[:c.N])
	rec.serial = FormatUDID(serial)

	if err := e.collaborator.DeviceAdd(rec.loc); err != nil {
		e.doom(ctx, rec, wrapIOErr(rec, "device_add refused", err))
		return
	}
	rec.added = true

	e.startRXLoops(ctx, rec)
}

func statusErr(c transport.Completion) error {
	if c.Err != nil {
		return c.Err
	}
	return errStatus(c.Status)
}
