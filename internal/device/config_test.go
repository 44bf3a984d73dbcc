package device

import (
	"testing"

	"github.com/usbmuxgo/usbmux/internal/constants"
	"github.com/usbmuxgo/usbmux/internal/transport"
)

func TestSelectConfiguration(t *testing.T) {
	mux := func(out, in uint8) transport.InterfaceDescriptor {
		return transport.InterfaceDescriptor{
			Class: constants.MuxInterfaceClass,
			Endpoints: []transport.EndpointDescriptor{
				{Address: out},
				{Address: in | 0x80},
			},
		}
	}

	t.Run("picks highest matching configuration", func(t *testing.T) {
		configs := []transport.ConfigDescriptor{
			{Value: 1, Interfaces: []transport.InterfaceDescriptor{mux(0x01, 0x02)}},
			{Value: 4, Interfaces: []transport.InterfaceDescriptor{mux(0x03, 0x04)}},
		}
		cfg, _, epOut, epIn, ok := SelectConfiguration(configs)
		if !ok {
			t.Fatal("expected a match")
		}
		if cfg.Value != 4 {
			t.Errorf("chose config %d, want 4", cfg.Value)
		}
		if epOut.Address != 0x03 || epIn.Address != 0x84 {
			t.Errorf("endpoints = out:%#x in:%#x, want out:0x03 in:0x84", epOut.Address, epIn.Address)
		}
	})

	t.Run("accepts reversed endpoint order", func(t *testing.T) {
		iface := transport.InterfaceDescriptor{
			Class: constants.MuxInterfaceClass,
			Endpoints: []transport.EndpointDescriptor{
				{Address: 0x81}, // IN first
				{Address: 0x01}, // OUT second
			},
		}
		configs := []transport.ConfigDescriptor{{Value: 1, Interfaces: []transport.InterfaceDescriptor{iface}}}
		_, _, epOut, epIn, ok := SelectConfiguration(configs)
		if !ok {
			t.Fatal("expected a match")
		}
		if epOut.Address != 0x01 || epIn.Address != 0x81 {
			t.Errorf("endpoints = out:%#x in:%#x, want out:0x01 in:0x81", epOut.Address, epIn.Address)
		}
	})

	t.Run("rejects interface with same-direction pair", func(t *testing.T) {
		iface := transport.InterfaceDescriptor{
			Class: constants.MuxInterfaceClass,
			Endpoints: []transport.EndpointDescriptor{
				{Address: 0x01},
				{Address: 0x02},
			},
		}
		configs := []transport.ConfigDescriptor{{Value: 1, Interfaces: []transport.InterfaceDescriptor{iface}}}
		_, _, _, _, ok := SelectConfiguration(configs)
		if ok {
			t.Error("expected no match for a same-direction endpoint pair")
		}
	})

	t.Run("no configuration matches", func(t *testing.T) {
		configs := []transport.ConfigDescriptor{
			{Value: 1, Interfaces: []transport.InterfaceDescriptor{{Class: 0x08}}},
		}
		_, _, _, _, ok := SelectConfiguration(configs)
		if ok {
			t.Error("expected no match")
		}
	})
}
