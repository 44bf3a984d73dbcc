package device

import (
	"context"
	"testing"
	"time"

	"github.com/usbmuxgo/usbmux/internal/constants"
	"github.com/usbmuxgo/usbmux/internal/transport"
)

type recordingCollaborator struct {
	added   []transport.DeviceLocation
	removed []transport.DeviceLocation
	data    [][]byte
}

func (c *recordingCollaborator) DeviceAdd(loc transport.DeviceLocation) error {
	c.added = append(c.added, loc)
	return nil
}
func (c *recordingCollaborator) DeviceRemove(loc transport.DeviceLocation) {
	c.removed = append(c.removed, loc)
}
func (c *recordingCollaborator) DeviceDataInput(loc transport.DeviceLocation, data []byte) {
	c.data = append(c.data, append([]byte(nil), data...))
}
func (c *recordingCollaborator) Log(level int, message string) {}
func (c *recordingCollaborator) GetTickCount() time.Time        { return time.Now() }

func muxInterface() transport.InterfaceDescriptor {
	return transport.InterfaceDescriptor{
		Class: constants.MuxInterfaceClass,
		Endpoints: []transport.EndpointDescriptor{
			{Address: 0x02, MaxPacketSize: 64},
			{Address: 0x81, MaxPacketSize: 64},
		},
	}
}

func scriptHappyDevice(loc transport.DeviceLocation) transport.ScriptedDevice {
	getModeKey := transport.ControlKey{RequestType: 0xc0, Request: constants.ReqGetMode}
	return transport.ScriptedDevice{
		Descriptor: transport.DeviceDescriptor{
			Bus: loc.Bus, Address: loc.Address,
			VendorID: constants.AppleVendorID, ProductID: constants.MobileDeviceProductMin,
			NumConfigurations: 1, SerialIndex: 3,
		},
		Configs: []transport.ConfigDescriptor{
			{Value: 1, Interfaces: []transport.InterfaceDescriptor{muxInterface()}},
		},
		ControlResponses: map[transport.ControlKey][]byte{
			getModeKey: {0, 0, 0, 0},
			{RequestType: 0xc0, Request: constants.ReqSetMode, Index: uint16(ModeInitial)}: {0},
			{RequestType: 0x80, Request: 0x06, Value: 0x0300}:                              {0x04, 0x03, 0x09, 0x04},
			{RequestType: 0x80, Request: 0x06, Value: 0x0300 | 3, Index: 0x0409}:           {0x06, 0x03, 'a', 0x00, 'b', 0x00},
		},
		RxChunks: map[uint8][][]byte{0x81: {{0x01, 0x02, 0x03}}},
	}
}

func waitForState(t *testing.T, e *Engine, loc transport.DeviceLocation, want State, timeout time.Duration) *Record {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := e.ProcessTimeout(context.Background(), 5*time.Millisecond); err != nil {
			t.Fatalf("ProcessTimeout: %v", err)
		}
		if rec, ok := e.Lookup(loc); ok && rec.State() == want {
			return rec
		}
	}
	rec, _ := e.Lookup(loc)
	if rec != nil {
		t.Fatalf("device never reached state %v, stuck at %v (doom reason: %v)", want, rec.State(), rec.DoomReason())
	}
	t.Fatalf("device never reached state %v, and is no longer tracked", want)
	return nil
}

func TestEngineHappyPathToLiveAndSend(t *testing.T) {
	sim := transport.NewSimulated()
	loc := transport.DeviceLocation{Bus: 1, Address: 5}
	sim.AddDevice(scriptHappyDevice(loc))

	collab := &recordingCollaborator{}
	e, count, err := New(context.Background(), Config{
		Transport: sim, Collaborator: collab, DesiredMode: ModeInitial,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown(context.Background())
	if count != 1 {
		t.Fatalf("Discover count = %d, want 1", count)
	}

	rec := waitForState(t, e, loc, StateLive, time.Second)

	if rec.Serial() != "ab" {
		t.Errorf("Serial() = %q, want %q", rec.Serial(), "ab")
	}
	if len(collab.added) != 1 || collab.added[0] != loc {
		t.Errorf("DeviceAdd calls = %v, want exactly one for %v", collab.added, loc)
	}

	// rx delivered through the collaborator.
	deadline := time.Now().Add(500 * time.Millisecond)
	for len(collab.data) == 0 && time.Now().Before(deadline) {
		_ = e.ProcessTimeout(context.Background(), 5*time.Millisecond)
	}
	if len(collab.data) != 1 {
		t.Fatalf("DeviceDataInput calls = %d, want 1", len(collab.data))
	}

	if err := e.Send(loc, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	deadline = time.Now().Add(500 * time.Millisecond)
	for len(sim.Writes()) == 0 && time.Now().Before(deadline) {
		_ = e.ProcessTimeout(context.Background(), 5*time.Millisecond)
	}
	writes := sim.Writes()
	if len(writes) != 1 || string(writes[0].Data) != "hello" {
		t.Fatalf("Writes() = %v, want one write of %q", writes, "hello")
	}
}

func TestEngineRediscoveryDoomsDepartedDevice(t *testing.T) {
	sim := transport.NewSimulated()
	loc := transport.DeviceLocation{Bus: 2, Address: 1}
	sim.AddDevice(scriptHappyDevice(loc))

	collab := &recordingCollaborator{}
	e, _, err := New(context.Background(), Config{Transport: sim, Collaborator: collab, DesiredMode: ModeInitial})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	waitForState(t, e, loc, StateLive, time.Second)

	sim.RemoveDevice(loc)
	e.nextRediscovery = time.Now().Add(-time.Second) // force the next Process to rediscover
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if err := e.Process(context.Background()); err != nil {
			t.Fatalf("Process: %v", err)
		}
		if _, ok := e.Lookup(loc); !ok {
			if len(collab.removed) != 1 || collab.removed[0] != loc {
				t.Fatalf("DeviceRemove calls = %v, want exactly one for %v", collab.removed, loc)
			}
			return
		}
		e.nextRediscovery = time.Now().Add(-time.Second)
		time.Sleep(time.Millisecond)
	}
	t.Fatal("device was never reaped after departure")
}
