//go:build gousb
// +build gousb

// Package transport's gousb-backed implementation. google/gousb wraps
// libusb but exposes a blocking call per operation (Control, Write,
// ReadContext) rather than libusb's raw async submit/callback pair. To
// present the same asynchronous Completion-channel shape the simulated
// transport and internal/device's dispatcher expect, every Submit* call
// here starts its own goroutine that performs the blocking gousb call and
// funnels the result onto the shared completions channel: one goroutine
// per in-flight operation, one channel drains them all.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
)

type gousbTransport struct {
	ctx         *gousb.Context
	mu          sync.Mutex
	completions chan Completion

	arrivalCb   func(DeviceDescriptor)
	departureCb func(DeviceLocation)
}

// NewGousbTransport opens a libusb context via google/gousb.
func NewGousbTransport() (Transport, error) {
	ctx := gousb.NewContext()
	return &gousbTransport{
		ctx:         ctx,
		completions: make(chan Completion, 256),
	}, nil
}

func (t *gousbTransport) ListDevices(ctx context.Context) ([]DeviceDescriptor, error) {
	devs, err := t.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool { return true })
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("gousb: enumerate devices: %w", err)
	}
	defer func() {
		for _, d := range devs {
			d.Close()
		}
	}()

	out := make([]DeviceDescriptor, 0, len(devs))
	for _, d := range devs {
		out = append(out, descriptorFromGousb(d))
	}
	return out, nil
}

func (t *gousbTransport) Open(ctx context.Context, loc DeviceLocation) (Handle, error) {
	var target *gousb.Device
	devs, err := t.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint8(desc.Bus) == loc.Bus && uint8(desc.Address) == loc.Address
	})
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("gousb: open %s: %w", loc, err)
	}
	for _, d := range devs {
		if target == nil {
			target = d
		} else {
			d.Close()
		}
	}
	if target == nil {
		return nil, fmt.Errorf("gousb: device %s not found", loc)
	}
	// Best effort: an auto-detach error does not fail Open.
	_ = target.SetAutoDetach(true)

	return &gousbHandle{
		t:      t,
		loc:    loc,
		device: target,
		ifaces: map[uint8]*gousb.Interface{},
		inEPs:  map[uint8]*gousb.InEndpoint{},
		outEPs: map[uint8]*gousb.OutEndpoint{},
	}, nil
}

// SupportsHotplug reports false: gousb does not expose libusb's hotplug
// API, so C8 falls back to its timer-driven ListDevices poll against this
// transport (a degraded-but-correct fallback path).
func (t *gousbTransport) SupportsHotplug() bool { return false }

func (t *gousbTransport) RegisterHotplug(onArrival func(DeviceDescriptor), onDeparture func(DeviceLocation)) error {
	return fmt.Errorf("gousb transport does not support hotplug callbacks")
}

func (t *gousbTransport) DeregisterHotplug() {}

func (t *gousbTransport) Completions() <-chan Completion { return t.completions }

// ControlFD has no equivalent in gousb's API; the event pump must poll
// ListDevices on a timer instead of select()ing an fd.
func (t *gousbTransport) ControlFD() (int, bool) { return 0, false }

func (t *gousbTransport) Close() error {
	return t.ctx.Close()
}

func (t *gousbTransport) emit(c Completion) { t.completions <- c }

func descriptorFromGousb(d *gousb.Device) DeviceDescriptor {
	return DeviceDescriptor{
		Bus:               uint8(d.Desc.Bus),
		Address:           uint8(d.Desc.Address),
		VendorID:          uint16(d.Desc.Vendor),
		ProductID:         uint16(d.Desc.Product),
		NumConfigurations: len(d.Desc.Configs),
		Speed:             speedFromGousb(d.Desc.Speed),
	}
}

func speedFromGousb(s gousb.Speed) SpeedClass {
	switch s {
	case gousb.SpeedLow:
		return SpeedLow
	case gousb.SpeedFull:
		return SpeedFull
	case gousb.SpeedHigh:
		return SpeedHigh
	case gousb.SpeedSuper:
		return SpeedSuper
	default:
		return SpeedUnknown
	}
}

type gousbHandle struct {
	t      *gousbTransport
	loc    DeviceLocation
	device *gousb.Device

	mu      sync.Mutex
	config  *gousb.Config
	ifaces  map[uint8]*gousb.Interface
	inEPs   map[uint8]*gousb.InEndpoint
	outEPs  map[uint8]*gousb.OutEndpoint
}

func (h *gousbHandle) Location() DeviceLocation { return h.loc }

func (h *gousbHandle) Descriptor() DeviceDescriptor { return descriptorFromGousb(h.device) }

func (h *gousbHandle) Configurations(ctx context.Context) ([]ConfigDescriptor, error) {
	out := make([]ConfigDescriptor, 0, len(h.device.Desc.Configs))
	for num, cfg := range h.device.Desc.Configs {
		ifaces := make([]InterfaceDescriptor, 0, len(cfg.Interfaces))
		for _, intf := range cfg.Interfaces {
			if len(intf.AltSettings) == 0 {
				continue
			}
			alt := intf.AltSettings[0]
			eps := make([]EndpointDescriptor, 0, len(alt.Endpoints))
			for addr, ep := range alt.Endpoints {
				eps = append(eps, EndpointDescriptor{
					Address:       uint8(addr),
					MaxPacketSize: uint16(ep.MaxPacketSize),
				})
			}
			ifaces = append(ifaces, InterfaceDescriptor{
				Number:   uint8(intf.Number),
				Class:    uint8(alt.Class),
				SubClass: uint8(alt.SubClass),
				Protocol: uint8(alt.Protocol),
				Endpoints: eps,
			})
		}
		out = append(out, ConfigDescriptor{Value: uint8(num), Interfaces: ifaces})
	}
	return out, nil
}

func (h *gousbHandle) ActiveConfiguration(ctx context.Context) (uint8, error) {
	n, err := h.device.ActiveConfigNum()
	if err != nil {
		return 0, fmt.Errorf("gousb: active configuration: %w", err)
	}
	return uint8(n), nil
}

func (h *gousbHandle) SetConfiguration(ctx context.Context, value uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cfg, err := h.device.Config(int(value))
	if err != nil {
		return fmt.Errorf("gousb: set configuration %d: %w", value, err)
	}
	if h.config != nil {
		h.config.Close()
	}
	h.config = cfg
	h.ifaces = map[uint8]*gousb.Interface{}
	h.inEPs = map[uint8]*gousb.InEndpoint{}
	h.outEPs = map[uint8]*gousb.OutEndpoint{}
	return nil
}

// DetachKernelDriver is a no-op: gousb's claim path detaches automatically
// via SetAutoDetach, enabled on each device in Open.
func (h *gousbHandle) DetachKernelDriver(ctx context.Context, iface uint8) error { return nil }

func (h *gousbHandle) ClaimInterface(ctx context.Context, iface uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.config == nil {
		return fmt.Errorf("gousb: claim interface %d before SetConfiguration", iface)
	}
	intf, err := h.config.Interface(int(iface), 0)
	if err != nil {
		return fmt.Errorf("gousb: claim interface %d: %w", iface, err)
	}
	h.ifaces[iface] = intf
	return nil
}

func (h *gousbHandle) ReleaseInterface(iface uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if intf, ok := h.ifaces[iface]; ok {
		intf.Close()
		delete(h.ifaces, iface)
	}
	return nil
}

// openInEndpoint returns the cached InEndpoint for addr, opening it against
// whichever claimed interface exposes it if this is the first use.
func (h *gousbHandle) openInEndpoint(addr uint8) (*gousb.InEndpoint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ep, ok := h.inEPs[addr]; ok {
		return ep, nil
	}
	for _, intf := range h.ifaces {
		ep, err := intf.InEndpoint(int(addr))
		if err == nil {
			h.inEPs[addr] = ep
			return ep, nil
		}
	}
	return nil, fmt.Errorf("gousb: in endpoint 0x%02x not found on any claimed interface", addr)
}

// openOutEndpoint is openInEndpoint's write-direction counterpart.
func (h *gousbHandle) openOutEndpoint(addr uint8) (*gousb.OutEndpoint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ep, ok := h.outEPs[addr]; ok {
		return ep, nil
	}
	for _, intf := range h.ifaces {
		ep, err := intf.OutEndpoint(int(addr))
		if err == nil {
			h.outEPs[addr] = ep
			return ep, nil
		}
	}
	return nil, fmt.Errorf("gousb: out endpoint 0x%02x not found on any claimed interface", addr)
}

func (h *gousbHandle) SubmitControl(ctx context.Context, transferID uint64, requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) error {
	go func() {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		done := make(chan struct{})
		var n int
		var err error
		go func() {
			n, err = h.device.Control(requestType, request, value, index, data)
			close(done)
		}()
		select {
		case <-done:
		case <-cctx.Done():
			h.t.emit(Completion{TransferID: transferID, Location: h.loc, Status: StatusTimedOut})
			return
		}
		if err != nil {
			h.t.emit(Completion{TransferID: transferID, Location: h.loc, Status: statusFromErr(err), Err: err})
			return
		}
		h.t.emit(Completion{TransferID: transferID, Location: h.loc, Status: StatusCompleted, N: n, Data: append([]byte(nil), data[:n]...)})
	}()
	return nil
}

func (h *gousbHandle) SubmitBulkRead(ctx context.Context, transferID uint64, epAddr uint8, buf []byte) error {
	go func() {
		inEP, err := h.openInEndpoint(epAddr)
		if err != nil {
			h.t.emit(Completion{TransferID: transferID, Location: h.loc, Status: StatusError, Err: err})
			return
		}
		n, err := inEP.ReadContext(ctx, buf)
		if err != nil {
			h.t.emit(Completion{TransferID: transferID, Location: h.loc, Status: statusFromErr(err), N: n, Err: err})
			return
		}
		h.t.emit(Completion{TransferID: transferID, Location: h.loc, Status: StatusCompleted, N: n, Data: append([]byte(nil), buf[:n]...)})
	}()
	return nil
}

func (h *gousbHandle) SubmitBulkWrite(ctx context.Context, transferID uint64, epAddr uint8, data []byte) error {
	go func() {
		outEP, err := h.openOutEndpoint(epAddr)
		if err != nil {
			h.t.emit(Completion{TransferID: transferID, Location: h.loc, Status: StatusError, Err: err})
			return
		}
		n, err := outEP.Write(data)
		if err != nil {
			h.t.emit(Completion{TransferID: transferID, Location: h.loc, Status: statusFromErr(err), N: n, Err: err})
			return
		}
		h.t.emit(Completion{TransferID: transferID, Location: h.loc, Status: StatusCompleted, N: n})
	}()
	return nil
}

// Cancel has no gousb-level equivalent for in-flight Control/Write calls;
// bulk reads observe the context passed to SubmitBulkRead, which callers
// cancel to unblock ReadContext early.
func (h *gousbHandle) Cancel(transferID uint64) {}

func (h *gousbHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, intf := range h.ifaces {
		intf.Close()
	}
	if h.config != nil {
		h.config.Close()
	}
	return h.device.Close()
}

func statusFromErr(err error) TransferStatus {
	if err == nil {
		return StatusCompleted
	}
	if err == context.Canceled {
		return StatusCancelled
	}
	if err == context.DeadlineExceeded {
		return StatusTimedOut
	}
	return StatusError
}
