package device

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/usbmuxgo/usbmux/internal/constants"
	"github.com/usbmuxgo/usbmux/internal/interfaces"
	"github.com/usbmuxgo/usbmux/internal/transport"
)

// Config configures a new Engine.
type Config struct {
	Transport    transport.Transport
	Collaborator interfaces.Collaborator
	Logger       interfaces.Logger
	Observer     interfaces.Observer
	DesiredMode  Mode
}

// Engine is the orchestration core the root package's Manager thinly wraps,
// a plain value rather than global mutable state.
// It owns the device table, discovery, per-device negotiation and
// I/O, dispatched by state from dispatchCompletion), C8 (the pump) and C9
// (shutdown/reap).
type Engine struct {
	transport    transport.Transport
	table        *Table
	collaborator interfaces.Collaborator
	logger       interfaces.Logger
	observer     interfaces.Observer
	desiredMode  Mode

	idCounter atomic.Uint64

	discoveryFailures int
	hotplugActive     bool
	nextRediscovery   time.Time

	arrivals   chan transport.DeviceDescriptor
	departures chan transport.DeviceLocation
}

// ErrDiscoveryFatal is returned by Discover once MaxConsecutiveDiscoveryFailures
// consecutive failures have occurred.
var ErrDiscoveryFatal = errors.New("discovery fatal: too many consecutive failures")

// New creates an Engine, registers hotplug if the transport supports it,
// and runs one discovery pass — the Go rendering of usb.c's usb_init.
func New(ctx context.Context, cfg Config) (*Engine, int, error) {
	e := &Engine{
		transport:    cfg.Transport,
		table:        NewTable(),
		collaborator: cfg.Collaborator,
		logger:       cfg.Logger,
		observer:     cfg.Observer,
		desiredMode:  cfg.DesiredMode,
		arrivals:     make(chan transport.DeviceDescriptor, 64),
		departures:   make(chan transport.DeviceLocation, 64),
	}
	if e.desiredMode == ModeUndetermined {
		e.desiredMode = ModeInitial
	}

	if e.transport.SupportsHotplug() {
		if err := e.transport.RegisterHotplug(e.onArrival, e.onDeparture); err == nil {
			e.hotplugActive = true
		}
	}

	count, err := e.Discover(ctx)
	if err != nil {
		return nil, 0, err
	}
	return e, count, nil
}

func (e *Engine) nextTransferID() transferID {
	return transferID(e.idCounter.Add(1))
}

// onArrival is the hotplug arrival callback; it must not block, so it only
// enqueues the descriptor for pickup inside Process/ProcessTimeout.
func (e *Engine) onArrival(desc transport.DeviceDescriptor) {
	select {
	case e.arrivals <- desc:
	default:
		if e.logger != nil {
			e.logger.Warn("hotplug arrival queue full, dropping event", "bus", desc.Bus, "address", desc.Address)
		}
	}
}

// onDeparture is the hotplug departure callback; likewise non-blocking.
func (e *Engine) onDeparture(loc transport.DeviceLocation) {
	select {
	case e.departures <- loc:
	default:
		if e.logger != nil {
			e.logger.Warn("hotplug departure queue full, dropping event", "location", loc)
		}
	}
}

// Discover runs one mark-and-sweep rediscovery pass (C3) and returns the
// number of accepted (Apple, in-range) devices in this scan's listing,
// including any whose Open failed and so are not tracked.
func (e *Engine) Discover(ctx context.Context) (int, error) {
	descs, err := e.transport.ListDevices(ctx)
	if err != nil {
		e.discoveryFailures++
		if e.discoveryFailures >= constants.MaxConsecutiveDiscoveryFailures {
			return 0, fmt.Errorf("%w: %v", ErrDiscoveryFatal, err)
		}
		return 0, err
	}
	e.discoveryFailures = 0

	e.table.BeginSweep()
	count := 0
	for _, d := range descs {
		if !constants.IsAppleDevice(d.VendorID, d.ProductID) {
			continue
		}
		loc := transport.DeviceLocation{Bus: d.Bus, Address: d.Address}
		e.table.MarkLive(loc)
		count++
		if _, ok := e.table.Lookup(loc); ok {
			continue
		}
		e.openAndNegotiate(ctx, loc, d)
	}

	for _, rec := range e.table.Sweep() {
		e.doom(ctx, rec, wrapIOErr(rec, "rediscovery", errors.New("device no longer observed")))
	}

	e.nextRediscovery = time.Now().Add(constants.RediscoveryPeriod)
	return count, nil
}

func (e *Engine) openAndNegotiate(ctx context.Context, loc transport.DeviceLocation, desc transport.DeviceDescriptor) {
	handle, err := e.transport.Open(ctx, loc)
	if err != nil {
		if e.logger != nil {
			e.logger.Info("open failed, skipping until next scan", "location", loc, "error", err)
		}
		return
	}
	rec := newRecord(loc, handle, desc, e.desiredMode)
	e.table.Insert(rec)
	e.onHandleOpen(ctx, rec)
}

// onHandleOpen begins C4's mode negotiation immediately after a successful
// open (provisional -> probing_mode).
func (e *Engine) onHandleOpen(ctx context.Context, rec *Record) {
	rec.state = StateProbingMode
	if err := e.submitGetMode(ctx, rec); err != nil {
		// GET_MODE failed to even submit: fall through to C5 in the
		// current configuration, the same fallback handleGetModeCompletion uses.
		e.proceedToConfiguring(ctx, rec)
	}
}

// FDs exposes the transport's control-plane fd, if any, for the host loop
// to select() on; the completion queue itself is a Go channel drained
// inside Process/ProcessTimeout regardless.
func (e *Engine) FDs() (fd int, ok bool) { return e.transport.ControlFD() }

// Timeout returns the capped "no rediscovery needed" duration while hotplug
// handles arrivals, and otherwise the time until the next rediscovery tick
// (zero once it is due).
func (e *Engine) Timeout() time.Duration {
	if e.hotplugActive {
		return constants.NoRediscoveryTimeout
	}
	d := time.Until(e.nextRediscovery)
	if d < 0 {
		return 0
	}
	return d
}

// Process services whatever completions and hotplug events are
// immediately available, then runs rediscovery if its deadline passed.
func (e *Engine) Process(ctx context.Context) error {
	e.drainAvailable(ctx)
	if !e.hotplugActive && time.Now().After(e.nextRediscovery) {
		if _, err := e.Discover(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ProcessTimeout is Process but willing to block up to d waiting for the
// first completion or hotplug event before returning.
func (e *Engine) ProcessTimeout(ctx context.Context, d time.Duration) error {
	e.drainOnce(ctx, d)
	return e.Process(ctx)
}

func (e *Engine) drainAvailable(ctx context.Context) {
	for {
		select {
		case desc := <-e.arrivals:
			e.handleArrival(ctx, desc)
		case loc := <-e.departures:
			e.handleDeparture(ctx, loc)
		case c := <-e.transport.Completions():
			e.dispatchCompletion(ctx, c)
		default:
			return
		}
	}
}

// drainOnce blocks up to d for a single event (completion or hotplug),
// used both by ProcessTimeout and by disconnect's bounded drain step.
func (e *Engine) drainOnce(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case desc := <-e.arrivals:
		e.handleArrival(ctx, desc)
	case loc := <-e.departures:
		e.handleDeparture(ctx, loc)
	case c := <-e.transport.Completions():
		e.dispatchCompletion(ctx, c)
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (e *Engine) handleArrival(ctx context.Context, desc transport.DeviceDescriptor) {
	if !constants.IsAppleDevice(desc.VendorID, desc.ProductID) {
		return
	}
	loc := transport.DeviceLocation{Bus: desc.Bus, Address: desc.Address}
	if _, ok := e.table.Lookup(loc); ok {
		return
	}
	e.openAndNegotiate(ctx, loc, desc)
}

func (e *Engine) handleDeparture(ctx context.Context, loc transport.DeviceLocation) {
	rec, ok := e.table.Lookup(loc)
	if !ok {
		return
	}
	e.doom(ctx, rec, wrapIOErr(rec, "hotplug departure", errors.New("device departed")))
}

func (e *Engine) dispatchCompletion(ctx context.Context, c transport.Completion) {
	rec, ok := e.table.Lookup(c.Location)
	if !ok {
		return // device gone before its completion arrived; lookup miss, not a crash
	}
	switch rec.state {
	case StateProbingMode:
		e.handleGetModeCompletion(ctx, rec, c)
	case StateSwitchingMode:
		e.handleSetModeCompletion(ctx, rec, c)
	case StateReadingSerial:
		switch rec.serialPhase {
		case phaseLangID:
			e.handleLangIDCompletion(ctx, rec, c)
		case phaseSerial:
			e.handleSerialCompletion(ctx, rec, c)
		}
	case StateLive:
		e.handleLiveCompletion(ctx, rec, c)
	case StateDoomed:
		// disconnect's bounded drain is waiting on this set to empty;
		// completions for transfers it cancelled still arrive here and
		// must be retired the same way handleLiveCompletion would.
		rec.rx.remove(transferID(c.TransferID))
		rec.tx.remove(transferID(c.TransferID))
	default:
		// configuring/gone: no completion should legitimately arrive
		// here; drop it rather than crash.
	}
}

// Autodiscover toggles periodic polling; hotplug processing (if active)
// always runs regardless, matching usb.c's autodiscover semantics.
func (e *Engine) Autodiscover(enable bool) {
	if enable {
		e.nextRediscovery = time.Now()
	} else {
		e.nextRediscovery = time.Now().Add(constants.NoRediscoveryTimeout)
	}
}

// Send submits bytes to the device at loc (C7's send).
func (e *Engine) Send(loc transport.DeviceLocation, data []byte) error {
	rec, ok := e.table.Lookup(loc)
	if !ok {
		return &Error{Kind: ErrKindIOError, Op: "send", Location: loc, Err: errors.New("device not found")}
	}
	return e.send(context.Background(), rec, data)
}

// Lookup exposes a device record by location for the root package's
// accessor methods (Serial/ProductID/Speed/...).
func (e *Engine) Lookup(loc transport.DeviceLocation) (*Record, bool) { return e.table.Lookup(loc) }

// All returns every tracked device record.
func (e *Engine) All() []*Record { return e.table.All() }

// Shutdown deregisters hotplug, disconnects every tracked device, and
// tears down the transport (usb.c's usb_shutdown).
func (e *Engine) Shutdown(ctx context.Context) {
	if e.hotplugActive {
		e.transport.DeregisterHotplug()
		e.hotplugActive = false
	}
	for _, rec := range e.table.All() {
		if rec.state != StateDoomed && rec.state != StateGone {
			e.doom(ctx, rec, wrapIOErr(rec, "shutdown", errors.New("manager shutting down")))
		}
	}
	_ = e.transport.Close()
}

func errStatus(s transport.TransferStatus) error {
	switch s {
	case transport.StatusCancelled:
		return errors.New("transfer cancelled")
	case transport.StatusNoDevice:
		return errors.New("no device")
	case transport.StatusStall:
		return errors.New("endpoint stalled")
	case transport.StatusTimedOut:
		return errors.New("transfer timed out")
	default:
		return errors.New("transfer error")
	}
}
