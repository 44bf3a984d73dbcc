package usbmux

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/usbmuxgo/usbmux/internal/constants"
	"github.com/usbmuxgo/usbmux/internal/device"
	"github.com/usbmuxgo/usbmux/internal/interfaces"
	"github.com/usbmuxgo/usbmux/internal/logging"
	"github.com/usbmuxgo/usbmux/internal/transport"
)

// Collaborator is the set of callbacks the manager invokes as devices
// arrive, depart, and produce data.
type Collaborator interface {
	DeviceAdd(dev *Device) error
	DeviceRemove(dev *Device)
	DeviceDataInput(dev *Device, data []byte)
	Log(level LogLevel, msg string)
	GetTickCount() time.Time
}

// Device is a handle to one live or recently-live USB device, scoped to
// the Manager that discovered it.
type Device struct {
	mgr *Manager
	loc Location
}

// Serial returns the device's decoded, UDID-formatted serial string.
func (d *Device) Serial() string {
	if rec, ok := d.mgr.engine.Lookup(toTransportLoc(d.loc)); ok {
		return rec.Serial()
	}
	return ""
}

// Location returns (bus<<16)|address, a stable key for map lookups.
func (d *Device) Location() uint32 { return d.loc.Key() }

// ProductID returns the device's USB product ID.
func (d *Device) ProductID() uint16 {
	if rec, ok := d.mgr.engine.Lookup(toTransportLoc(d.loc)); ok {
		return rec.ProductID()
	}
	return 0
}

// Speed returns the device's link speed in bits per second.
func (d *Device) Speed() uint64 {
	if rec, ok := d.mgr.engine.Lookup(toTransportLoc(d.loc)); ok {
		return rec.Speed()
	}
	return 0
}

// Options configures a Manager. Collaborator is required; everything else
// has a working zero-value default.
type Options struct {
	Collaborator Collaborator

	// Logger defaults to logging.Default() if nil.
	Logger *logging.Logger

	// Observer defaults to NoOpObserver{} if nil.
	Observer Observer

	// Transport overrides the host USB library, for tests; defaults to
	// the real gousb-backed transport (internal/transport.NewGousbTransport,
	// built only with -tags gousb — see internal/transport/gousb_stub.go).
	Transport transport.Transport

	// DesiredMode overrides USBMUX_DEVICE_MODE; zero means "read the
	// environment variable".
	DesiredMode int
}

// Manager is the device manager core, wired together behind a single
// external interface. It is a plain value, not global state — construct
// and discard one per process or per test.
type Manager struct {
	engine       *device.Engine
	collaborator Collaborator
	logger       *logging.Logger
}

// New initializes the USB library, registers hotplug if available, runs
// one discovery pass, and returns the Manager. The device count from that
// first pass is not returned.
func New(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Collaborator == nil {
		return nil, NewError("INIT", ErrCodeInvalidDescriptor, "Options.Collaborator is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	observer := opts.Observer
	if observer == nil {
		observer = NoOpObserver{}
	}

	tr := opts.Transport
	if tr == nil {
		var err error
		tr, err = transport.NewGousbTransport()
		if err != nil {
			return nil, WrapError("INIT", err)
		}
	}

	desiredMode := device.Mode(opts.DesiredMode)
	if desiredMode == device.ModeUndetermined {
		desiredMode = device.DesiredModeFromEnv(os.Getenv(constants.EnvDeviceMode))
	}

	m := &Manager{logger: logger}
	m.collaborator = opts.Collaborator

	eng, _, err := device.New(ctx, device.Config{
		Transport:    tr,
		Collaborator: &collaboratorAdapter{m: m},
		Logger:       &loggerAdapter{l: logger},
		Observer:     &observerAdapter{o: observer},
		DesiredMode:  desiredMode,
	})
	if err != nil {
		return nil, translateEngineErr("INIT", err)
	}
	m.engine = eng

	return m, nil
}

// Shutdown tears down every tracked device and the underlying transport.
func (m *Manager) Shutdown() {
	m.engine.Shutdown(context.Background())
}

// Discover forces a rediscovery scan and returns the accepted device count.
func (m *Manager) Discover(ctx context.Context) (int, error) {
	n, err := m.engine.Discover(ctx)
	if err != nil {
		return n, translateEngineErr("DISCOVER", err)
	}
	return n, nil
}

// FDs returns the transport's control-plane file descriptors for a host
// event loop to select() on.
func (m *Manager) FDs() []PollFD {
	if fd, ok := m.engine.FDs(); ok {
		return []PollFD{{FD: fd, Events: PollRead, Tag: "USB"}}
	}
	return nil
}

// Timeout returns how long the caller may safely block before calling
// Process/ProcessTimeout again.
func (m *Manager) Timeout() time.Duration { return m.engine.Timeout() }

// Process services whatever is immediately available, then runs
// rediscovery if its deadline has passed.
func (m *Manager) Process(ctx context.Context) error {
	if err := m.engine.Process(ctx); err != nil {
		return translateEngineErr("PROCESS", err)
	}
	return nil
}

// ProcessTimeout is Process but willing to block up to d for the first event.
func (m *Manager) ProcessTimeout(ctx context.Context, d time.Duration) error {
	if err := m.engine.ProcessTimeout(ctx, d); err != nil {
		return translateEngineErr("PROCESS", err)
	}
	return nil
}

// Autodiscover toggles periodic polling (hotplug, if active, always runs).
func (m *Manager) Autodiscover(enable bool) { m.engine.Autodiscover(enable) }

// Send submits bytes to dev. Sends never block: the underlying transfer is
// asynchronous, its outcome observed only through Metrics/Observer.
func (m *Manager) Send(dev *Device, data []byte) error {
	if err := m.engine.Send(toTransportLoc(dev.loc), data); err != nil {
		return translateEngineErr("SEND", err)
	}
	return nil
}

func toTransportLoc(loc Location) transport.DeviceLocation {
	return transport.DeviceLocation{Bus: loc.Bus, Address: loc.Address}
}

func fromTransportLoc(loc transport.DeviceLocation) Location {
	return Location{Bus: loc.Bus, Address: loc.Address}
}

// collaboratorAdapter implements internal/interfaces.Collaborator by
// wrapping the public, *Device-facing Collaborator. It is the package
// boundary internal/device's design note (§9) calls for: internal/device
// never imports this package, so this adapter lives here instead.
type collaboratorAdapter struct {
	m *Manager
}

func (a *collaboratorAdapter) DeviceAdd(loc transport.DeviceLocation) error {
	return a.m.collaborator.DeviceAdd(&Device{mgr: a.m, loc: fromTransportLoc(loc)})
}

func (a *collaboratorAdapter) DeviceRemove(loc transport.DeviceLocation) {
	a.m.collaborator.DeviceRemove(&Device{mgr: a.m, loc: fromTransportLoc(loc)})
}

func (a *collaboratorAdapter) DeviceDataInput(loc transport.DeviceLocation, data []byte) {
	a.m.collaborator.DeviceDataInput(&Device{mgr: a.m, loc: fromTransportLoc(loc)}, data)
}

func (a *collaboratorAdapter) Log(level int, message string) {
	a.m.collaborator.Log(LogLevel(level), message)
}

func (a *collaboratorAdapter) GetTickCount() time.Time {
	return a.m.collaborator.GetTickCount()
}

// loggerAdapter satisfies internal/interfaces.Logger with *logging.Logger,
// whose method set already matches field-for-field.
type loggerAdapter struct {
	l *logging.Logger
}

func (a *loggerAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *loggerAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *loggerAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *loggerAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }

// observerAdapter bridges the public, DeviceErrorCode-typed Observer onto
// internal/interfaces.Observer's plain-string doom reason.
type observerAdapter struct {
	o Observer
}

func (a *observerAdapter) ObserveRxTransfer(bytes, latencyNs uint64, success bool) {
	a.o.ObserveRxTransfer(bytes, latencyNs, success)
}
func (a *observerAdapter) ObserveTxTransfer(bytes, latencyNs uint64, success bool) {
	a.o.ObserveTxTransfer(bytes, latencyNs, success)
}
func (a *observerAdapter) ObserveModeSwitch(accepted bool) { a.o.ObserveModeSwitch(accepted) }
func (a *observerAdapter) ObserveDeviceAttached()           { a.o.ObserveDeviceAttached() }
func (a *observerAdapter) ObserveDeviceDoomed(reason string) {
	a.o.ObserveDeviceDoomed(DeviceErrorCode(reason))
}

// translateEngineErr maps internal/device's narrow ErrorKind onto the
// public DeviceErrorCode, at the one package boundary the split exists
// to protect (see internal/device/errors.go).
func translateEngineErr(op string, err error) error {
	var de *device.Error
	if !errors.As(err, &de) {
		return WrapError(op, err)
	}
	code := ErrCodeIOError
	switch de.Kind {
	case device.ErrKindInvalidDescriptor:
		code = ErrCodeInvalidDescriptor
	case device.ErrKindConfigurationFailed:
		code = ErrCodeConfigurationFailed
	case device.ErrKindClaimFailed:
		code = ErrCodeClaimFailed
	case device.ErrKindIOError:
		code = ErrCodeIOError
	case device.ErrKindTimeout:
		code = ErrCodeTimeout
	case device.ErrKindCancelled:
		code = ErrCodeCancelled
	case device.ErrKindModeRefused:
		code = ErrCodeModeRefused
	}
	return &Error{Op: op, Location: fromTransportLoc(de.Location), Code: code, Msg: de.Error(), Inner: de.Err}
}

var _ interfaces.Collaborator = (*collaboratorAdapter)(nil)
var _ interfaces.Logger = (*loggerAdapter)(nil)
var _ interfaces.Observer = (*observerAdapter)(nil)
