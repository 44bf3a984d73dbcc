package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/usbmuxgo/usbmux/internal/transport"
)

// fakeHandle is a minimal transport.Handle for unit-testing Engine methods
// without routing through the full Simulated transport's goroutine/channel
// plumbing.
type fakeHandle struct {
	loc           transport.DeviceLocation
	desc          transport.DeviceDescriptor
	readSubmitErr error
	failFirstN    int // fail this many leading SubmitBulkRead calls, then succeed
	readCalls     int
	closed        bool
	released      []uint8
}

func (f *fakeHandle) Location() transport.DeviceLocation     { return f.loc }
func (f *fakeHandle) Descriptor() transport.DeviceDescriptor { return f.desc }
func (f *fakeHandle) Configurations(ctx context.Context) ([]transport.ConfigDescriptor, error) {
	return nil, nil
}
func (f *fakeHandle) ActiveConfiguration(ctx context.Context) (uint8, error) { return 0, nil }
func (f *fakeHandle) SetConfiguration(ctx context.Context, value uint8) error { return nil }
func (f *fakeHandle) DetachKernelDriver(ctx context.Context, iface uint8) error { return nil }
func (f *fakeHandle) ClaimInterface(ctx context.Context, iface uint8) error   { return nil }
func (f *fakeHandle) SubmitControl(ctx context.Context, transferID uint64, requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) error {
	return nil
}
func (f *fakeHandle) SubmitBulkRead(ctx context.Context, transferID uint64, epAddr uint8, buf []byte) error {
	f.readCalls++
	if f.readCalls <= f.failFirstN {
		return errors.New("submission refused")
	}
	return f.readSubmitErr
}
func (f *fakeHandle) SubmitBulkWrite(ctx context.Context, transferID uint64, epAddr uint8, data []byte) error {
	return nil
}
func (f *fakeHandle) Cancel(transferID uint64)            {}
func (f *fakeHandle) ReleaseInterface(iface uint8) error { f.released = append(f.released, iface); return nil }
func (f *fakeHandle) Close() error                       { f.closed = true; return nil }

func TestStartRXLoopsDoomsOnZeroSuccesses(t *testing.T) {
	loc := transport.DeviceLocation{Bus: 1, Address: 1}
	handle := &fakeHandle{loc: loc, readSubmitErr: errors.New("submission refused")}
	rec := newRecord(loc, handle, transport.DeviceDescriptor{}, ModeInitial)
	rec.epIn = transport.EndpointDescriptor{Address: 0x81}

	e := &Engine{table: NewTable(), collaborator: &recordingCollaborator{}}
	e.table.Insert(rec)

	e.startRXLoops(context.Background(), rec)

	if rec.State() != StateGone {
		t.Fatalf("state = %v, want %v (doom runs disconnect synchronously)", rec.State(), StateGone)
	}
	if !handle.closed {
		t.Error("expected handle to be closed after dooming with zero rx successes")
	}
	if handle.readCalls != 3 {
		t.Errorf("SubmitBulkRead called %d times, want 3 (ParallelReadLoops)", handle.readCalls)
	}
}

func TestStartRXLoopsPromotesOnPartialSuccess(t *testing.T) {
	loc := transport.DeviceLocation{Bus: 1, Address: 2}
	handle := &fakeHandle{loc: loc, failFirstN: 1} // 1 of 3 fails, 2 succeed
	e := &Engine{table: NewTable(), collaborator: &recordingCollaborator{}}
	rec := newRecord(loc, handle, transport.DeviceDescriptor{}, ModeInitial)
	rec.epIn = transport.EndpointDescriptor{Address: 0x81}
	e.table.Insert(rec)

	e.startRXLoops(context.Background(), rec)

	if rec.State() != StateLive {
		t.Fatalf("state = %v, want %v (>=1 of N successes must promote to live)", rec.State(), StateLive)
	}
}
