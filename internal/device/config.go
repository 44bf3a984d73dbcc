package device

import (
	"context"
	"sort"

	"github.com/usbmuxgo/usbmux/internal/constants"
	"github.com/usbmuxgo/usbmux/internal/transport"
)

// SelectConfiguration walks configurations from highest bConfigurationValue
// down, picking the first interface whose class, subclass or protocol
// matches the multiplexer triple (a disjunctive match: Apple ships
// interfaces that satisfy only one field). The chosen interface must have
// exactly two endpoints; ep_out/ep_in are assigned by direction bit,
// accepting either descriptor order. Pure function, grounded on usb.c's
// set_valid_configuration.
func SelectConfiguration(configs []transport.ConfigDescriptor) (chosen transport.ConfigDescriptor, iface transport.InterfaceDescriptor, epOut, epIn transport.EndpointDescriptor, ok bool) {
	sorted := make([]transport.ConfigDescriptor, len(configs))
	copy(sorted, configs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value > sorted[j].Value })

	for _, cfg := range sorted {
		for _, candidate := range cfg.Interfaces {
			if !matchesMultiplexer(candidate) {
				continue
			}
			if len(candidate.Endpoints) != 2 {
				continue
			}
			a, b := candidate.Endpoints[0], candidate.Endpoints[1]
			switch {
			case a.IsIn() && !b.IsIn():
				return cfg, candidate, b, a, true
			case b.IsIn() && !a.IsIn():
				return cfg, candidate, a, b, true
			default:
				continue // both same direction: not a valid bulk in/out pair
			}
		}
	}
	return transport.ConfigDescriptor{}, transport.InterfaceDescriptor{}, transport.EndpointDescriptor{}, transport.EndpointDescriptor{}, false
}

// configureDevice performs the side-effecting half of C5: detach/claim the
// chosen interface through the transport.Handle, then advance to
// reading_serial. Any failure dooms the device.
func (e *Engine) configureDevice(ctx context.Context, rec *Record) {
	configs, err := rec.handle.Configurations(ctx)
	if err != nil {
		e.doom(ctx, rec, wrapConfigErr(rec, "list configurations", err))
		return
	}

	cfg, iface, epOut, epIn, ok := SelectConfiguration(configs)
	if !ok {
		e.doom(ctx, rec, newConfigError(rec, "no configuration exposes a matching multiplexer interface"))
		return
	}

	active, err := rec.handle.ActiveConfiguration(ctx)
	if err != nil {
		e.doom(ctx, rec, wrapConfigErr(rec, "read active configuration", err))
		return
	}

	if active != cfg.Value {
		for _, i := range cfg.Interfaces {
			// Best effort: log but do not abort if detach fails.
			if derr := rec.handle.DetachKernelDriver(ctx, i.Number); derr != nil && e.logger != nil {
				e.logger.Debug("detach kernel driver failed, continuing", "location", rec.loc, "interface", i.Number, "error", derr)
			}
		}
		if err := rec.handle.SetConfiguration(ctx, cfg.Value); err != nil {
			e.doom(ctx, rec, wrapConfigErr(rec, "set configuration", err))
			return
		}
	}

	if err := rec.handle.ClaimInterface(ctx, iface.Number); err != nil {
		e.doom(ctx, rec, wrapClaimErr(rec, err))
		return
	}

	rec.activeConfig = cfg
	rec.iface = iface
	rec.epOut = epOut
	rec.epIn = epIn
	rec.maxPacketSize = epOut.MaxPacketSize
	if rec.maxPacketSize == 0 {
		rec.maxPacketSize = constants.DefaultMaxPacketSize
	}

	e.startReadingSerial(ctx, rec)
}
