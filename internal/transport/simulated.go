package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ControlKey identifies a scripted control-transfer response by its
// request fields, the same four values usb.c's submit_vendor_specific
// sends on the wire.
type ControlKey struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
}

// ScriptedDevice is everything a test needs to script one simulated
// device's arrival: its descriptor, its configurations (for C5), and its
// control-transfer responses (for C4/C6).
type ScriptedDevice struct {
	Descriptor        DeviceDescriptor
	Configs           []ConfigDescriptor
	ActiveConfig      uint8
	ControlResponses  map[ControlKey][]byte
	ControlErrors     map[ControlKey]error
	// RxChunks, keyed by endpoint address, are delivered one at a time to
	// successive SubmitBulkRead calls on that endpoint; once exhausted,
	// reads block until the transfer's context is cancelled.
	RxChunks map[uint8][][]byte
}

// Simulated is a scriptable in-memory Transport used by this module's
// scenario tests, driving a fleet of scripted USB devices instead of real hardware.
type Simulated struct {
	mu      sync.Mutex
	devices map[DeviceLocation]*ScriptedDevice
	handles map[DeviceLocation]*simulatedHandle

	completions chan Completion
	nextID      atomic.Uint64

	onArrival   func(DeviceDescriptor)
	onDeparture func(DeviceLocation)
	hotplug     bool

	writes []WriteRecord
}

// WriteRecord captures one bulk-out submission, in submission order, so
// tests can assert ZLP sequencing.
type WriteRecord struct {
	Location DeviceLocation
	Endpoint uint8
	Data     []byte
}

// NewSimulated creates an empty simulated transport.
func NewSimulated() *Simulated {
	return &Simulated{
		devices:     make(map[DeviceLocation]*ScriptedDevice),
		handles:     make(map[DeviceLocation]*simulatedHandle),
		completions: make(chan Completion, 256),
	}
}

// AddDevice scripts a device as present for the next ListDevices call.
func (s *Simulated) AddDevice(dev ScriptedDevice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc := DeviceLocation{Bus: dev.Descriptor.Bus, Address: dev.Descriptor.Address}
	s.devices[loc] = &dev
}

// RemoveDevice removes a device from the scripted present set, simulating
// a departure the next time ListDevices (mark-and-sweep) runs, or firing a
// hotplug departure callback directly if hotplug is enabled.
func (s *Simulated) RemoveDevice(loc DeviceLocation) {
	s.mu.Lock()
	delete(s.devices, loc)
	cb := s.onDeparture
	hp := s.hotplug
	s.mu.Unlock()
	if hp && cb != nil {
		cb(loc)
	}
}

// TriggerArrival scripts a device present AND fires the hotplug arrival
// callback, for tests of the hotplug path specifically.
func (s *Simulated) TriggerArrival(dev ScriptedDevice) {
	s.AddDevice(dev)
	s.mu.Lock()
	cb := s.onArrival
	hp := s.hotplug
	s.mu.Unlock()
	if hp && cb != nil {
		cb(dev.Descriptor)
	}
}

// EnableHotplug simulates a library that supports hotplug; tests call this
// before RegisterHotplug to exercise the hotplug branch of C8.
func (s *Simulated) EnableHotplug() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hotplug = true
}

// Writes returns every bulk write submitted so far, for asserting ZLP
// sequencing and ordering.
func (s *Simulated) Writes() []WriteRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WriteRecord, len(s.writes))
	copy(out, s.writes)
	return out
}

func (s *Simulated) ListDevices(ctx context.Context) ([]DeviceDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeviceDescriptor, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d.Descriptor)
	}
	return out, nil
}

func (s *Simulated) Open(ctx context.Context, loc DeviceLocation) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[loc]
	if !ok {
		return nil, errors.New("device not present")
	}
	h := &simulatedHandle{t: s, loc: loc, dev: dev, claimed: map[uint8]bool{}}
	s.handles[loc] = h
	return h, nil
}

func (s *Simulated) SupportsHotplug() bool { return s.hotplug }

func (s *Simulated) RegisterHotplug(onArrival func(DeviceDescriptor), onDeparture func(DeviceLocation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hotplug {
		return errors.New("hotplug not supported by simulated transport; call EnableHotplug first")
	}
	s.onArrival = onArrival
	s.onDeparture = onDeparture
	return nil
}

func (s *Simulated) DeregisterHotplug() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onArrival = nil
	s.onDeparture = nil
}

func (s *Simulated) Completions() <-chan Completion { return s.completions }

func (s *Simulated) ControlFD() (int, bool) { return 0, false }

func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = map[DeviceLocation]*ScriptedDevice{}
	return nil
}

func (s *Simulated) nextTransferID() uint64 { return s.nextID.Add(1) }

func (s *Simulated) emit(c Completion) {
	s.completions <- c
}

// simulatedHandle is the Handle returned by Simulated.Open.
type simulatedHandle struct {
	t       *Simulated
	loc     DeviceLocation
	dev     *ScriptedDevice
	claimed map[uint8]bool
	mu      sync.Mutex
}

func (h *simulatedHandle) Location() DeviceLocation     { return h.loc }
func (h *simulatedHandle) Descriptor() DeviceDescriptor { return h.dev.Descriptor }

func (h *simulatedHandle) Configurations(ctx context.Context) ([]ConfigDescriptor, error) {
	return h.dev.Configs, nil
}

func (h *simulatedHandle) ActiveConfiguration(ctx context.Context) (uint8, error) {
	return h.dev.ActiveConfig, nil
}

func (h *simulatedHandle) SetConfiguration(ctx context.Context, value uint8) error {
	h.dev.ActiveConfig = value
	return nil
}

func (h *simulatedHandle) DetachKernelDriver(ctx context.Context, iface uint8) error {
	return nil
}

func (h *simulatedHandle) ClaimInterface(ctx context.Context, iface uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.claimed[iface] = true
	return nil
}

func (h *simulatedHandle) ReleaseInterface(iface uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.claimed, iface)
	return nil
}

func (h *simulatedHandle) SubmitControl(ctx context.Context, transferID uint64, requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) error {
	key := ControlKey{RequestType: requestType, Request: request, Value: value, Index: index}
	go func() {
		resp, hasResp := h.dev.ControlResponses[key]
		err := h.dev.ControlErrors[key]

		select {
		case <-ctx.Done():
			h.t.emit(Completion{TransferID: transferID, Location: h.loc, Status: StatusCancelled})
			return
		default:
		}

		if err != nil {
			h.t.emit(Completion{TransferID: transferID, Location: h.loc, Status: StatusError, Err: err})
			return
		}
		if !hasResp {
			h.t.emit(Completion{TransferID: transferID, Location: h.loc, Status: StatusError, Err: errors.New("no scripted response for control request")})
			return
		}
		n := copy(data, resp)
		h.t.emit(Completion{TransferID: transferID, Location: h.loc, Status: StatusCompleted, N: n, Data: append([]byte(nil), resp...)})
	}()
	return nil
}

func (h *simulatedHandle) SubmitBulkRead(ctx context.Context, transferID uint64, epAddr uint8, buf []byte) error {
	go func() {
		h.mu.Lock()
		var chunk []byte
		chunks := h.dev.RxChunks[epAddr]
		if len(chunks) > 0 {
			chunk = chunks[0]
			h.dev.RxChunks[epAddr] = chunks[1:]
		}
		h.mu.Unlock()

		if chunk == nil {
			// No scripted data: block until cancelled, mirroring an idle
			// bulk IN endpoint with an infinite timeout.
			<-ctx.Done()
			h.t.emit(Completion{TransferID: transferID, Location: h.loc, Status: StatusCancelled})
			return
		}

		n := copy(buf, chunk)
		h.t.emit(Completion{TransferID: transferID, Location: h.loc, Status: StatusCompleted, N: n, Data: append([]byte(nil), buf[:n]...)})
	}()
	return nil
}

func (h *simulatedHandle) SubmitBulkWrite(ctx context.Context, transferID uint64, epAddr uint8, data []byte) error {
	h.t.mu.Lock()
	h.t.writes = append(h.t.writes, WriteRecord{Location: h.loc, Endpoint: epAddr, Data: append([]byte(nil), data...)})
	h.t.mu.Unlock()

	go func() {
		h.t.emit(Completion{TransferID: transferID, Location: h.loc, Status: StatusCompleted, N: len(data)})
	}()
	return nil
}

func (h *simulatedHandle) Cancel(transferID uint64) {
	// The simulated transport's goroutines observe ctx.Done(); callers
	// cancel via the context they passed to Submit*, so Cancel here is a
	// no-op hook kept to satisfy the Handle interface symmetrically with
	// the real gousb-backed transport (which also relies on context
	// cancellation, see gousb_transport.go).
}

func (h *simulatedHandle) Close() error { return nil }
