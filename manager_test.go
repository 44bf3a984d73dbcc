package usbmux

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/usbmuxgo/usbmux/internal/constants"
	"github.com/usbmuxgo/usbmux/internal/device"
	"github.com/usbmuxgo/usbmux/internal/transport"
)

func scriptedManagerDevice(loc transport.DeviceLocation) transport.ScriptedDevice {
	iface := transport.InterfaceDescriptor{
		Class: constants.MuxInterfaceClass,
		Endpoints: []transport.EndpointDescriptor{
			{Address: 0x02, MaxPacketSize: 64},
			{Address: 0x81, MaxPacketSize: 64},
		},
	}
	return transport.ScriptedDevice{
		Descriptor: transport.DeviceDescriptor{
			Bus: loc.Bus, Address: loc.Address,
			VendorID: constants.AppleVendorID, ProductID: constants.MobileDeviceProductMin,
			NumConfigurations: 1, SerialIndex: 3,
		},
		Configs: []transport.ConfigDescriptor{
			{Value: 1, Interfaces: []transport.InterfaceDescriptor{iface}},
		},
		ControlResponses: map[transport.ControlKey][]byte{
			{RequestType: 0xc0, Request: constants.ReqGetMode}:                                     {0, 0, 0, 0},
			{RequestType: 0xc0, Request: constants.ReqSetMode, Index: uint16(device.ModeInitial)}: {0},
			{RequestType: 0x80, Request: 0x06, Value: 0x0300}:                                      {0x04, 0x03, 0x09, 0x04},
			{RequestType: 0x80, Request: 0x06, Value: 0x0300 | 3, Index: 0x0409}:                   {0x06, 0x03, 'x', 0x00, 'y', 0x00},
		},
	}
}

// waitForCallback polls until cond returns true or timeout elapses, driving
// the manager's event loop the way a host's own select/poll loop would.
func waitForCallback(t *testing.T, mgr *Manager, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		_ = mgr.ProcessTimeout(context.Background(), 5*time.Millisecond)
	}
	require.True(t, cond(), "condition never became true within %s", timeout)
}

func TestManagerDiscoversAndReportsDevice(t *testing.T) {
	sim := transport.NewSimulated()
	loc := transport.DeviceLocation{Bus: 1, Address: 9}
	sim.AddDevice(scriptedManagerDevice(loc))

	collab := NewMockCollaborator()
	mgr, err := New(context.Background(), Options{
		Collaborator: collab,
		Transport:    sim,
		DesiredMode:  int(device.ModeInitial),
	})
	require.NoError(t, err)
	defer mgr.Shutdown()

	waitForCallback(t, mgr, func() bool {
		return len(collab.DeviceAddCalls) == 1
	}, time.Second)

	dev := collab.DeviceAddCalls[0]
	require.Equal(t, "xy", dev.Serial())
	require.Equal(t, constants.MobileDeviceProductMin, dev.ProductID())
	require.Equal(t, fromTransportLoc(loc).Key(), dev.Location())
}

func TestManagerSendRejectsUnknownDevice(t *testing.T) {
	sim := transport.NewSimulated()
	collab := NewMockCollaborator()
	mgr, err := New(context.Background(), Options{Collaborator: collab, Transport: sim})
	require.NoError(t, err)
	defer mgr.Shutdown()

	ghost := &Device{mgr: mgr, loc: Location{Bus: 9, Address: 9}}
	err = mgr.Send(ghost, []byte("hi"))
	require.Error(t, err)
}

func TestManagerRequiresCollaborator(t *testing.T) {
	_, err := New(context.Background(), Options{Transport: transport.NewSimulated()})
	require.Error(t, err)
}
