package device

import (
	"context"
	"errors"
	"time"

	"github.com/usbmuxgo/usbmux/internal/constants"
	"github.com/usbmuxgo/usbmux/internal/transport"
)

// startRXLoops submits N=3 parallel bulk-read transfers on the device's
// chosen IN endpoint and promotes the device to live as soon as at least
// one submission succeeds (the tolerant reading of the "partial rx-loop
// startup" open question — see DESIGN.md). Zero successes is fatal.
func (e *Engine) startRXLoops(ctx context.Context, rec *Record) {
	succeeded := 0
	for i := 0; i < constants.ParallelReadLoops; i++ {
		if e.submitRead(ctx, rec) {
			succeeded++
		}
	}

	if succeeded == 0 {
		e.doom(ctx, rec, wrapIOErr(rec, "start read loops", errors.New("zero of N read submissions succeeded")))
		return
	}
	if succeeded < constants.ParallelReadLoops && e.logger != nil {
		e.logger.Warn("device live with degraded read loop count", "location", rec.loc, "succeeded", succeeded, "wanted", constants.ParallelReadLoops)
	}

	rec.state = StateLive
	if e.observer != nil {
		e.observer.ObserveDeviceAttached()
	}
}

func (e *Engine) submitRead(ctx context.Context, rec *Record) bool {
	id := e.nextTransferID()
	readCtx, cancel := context.WithCancel(ctx)
	buf := make([]byte, constants.MaxReceiveUnit)
	if err := rec.handle.SubmitBulkRead(readCtx, uint64(id), rec.epIn.Address, buf); err != nil {
		cancel()
		return false
	}
	rec.rx.addRx(id, rec.epIn.Address, cancel)
	rec.rxBuffers[id] = buf
	return true
}

// send allocates a transfer over the caller-owned bytes and submits it;
// if len(data) is a positive multiple of wMaxPacketSize, a zero-length
// packet is queued to follow this transfer's own completion (not its
// submission), which is what actually guarantees wire ordering against
// gousb's per-endpoint serialization — see transfer.go's pendingTransfer.needsZLP.
func (e *Engine) send(ctx context.Context, rec *Record, data []byte) error {
	if rec.state != StateLive {
		return wrapIOErr(rec, "send", errors.New("device not live"))
	}

	needsZLP := len(data) > 0 && rec.maxPacketSize > 0 && len(data)%int(rec.maxPacketSize) == 0

	id := e.nextTransferID()
	writeCtx, cancel := context.WithCancel(ctx)
	if err := rec.handle.SubmitBulkWrite(writeCtx, uint64(id), rec.epOut.Address, data); err != nil {
		cancel()
		return wrapIOErr(rec, "submit bulk write", err)
	}
	rec.tx.addTx(id, rec.epOut.Address, needsZLP, cancel)
	return nil
}

func (e *Engine) submitZLP(ctx context.Context, rec *Record) {
	id := e.nextTransferID()
	writeCtx, cancel := context.WithCancel(ctx)
	if err := rec.handle.SubmitBulkWrite(writeCtx, uint64(id), rec.epOut.Address, nil); err != nil {
		cancel()
		if e.logger != nil {
			e.logger.Warn("ZLP submission failed", "location", rec.loc, "error", err)
		}
		return
	}
	rec.tx.addTx(id, rec.epOut.Address, false, cancel)
}

// handleLiveCompletion dispatches a completion for a device already in
// StateLive to the rx or tx half of C7.
func (e *Engine) handleLiveCompletion(ctx context.Context, rec *Record, c transport.Completion) {
	if rec.rx.containsRx(transferID(c.TransferID)) {
		e.handleRxCompletion(ctx, rec, c)
		return
	}
	if t, ok := rec.tx.lookupTx(transferID(c.TransferID)); ok {
		e.handleTxCompletion(ctx, rec, c, t)
		return
	}
	// Stale completion for an already-removed transfer (e.g. arrived after
	// a forced free during disconnect's bounded drain); ignore.
}

func (e *Engine) handleRxCompletion(ctx context.Context, rec *Record, c transport.Completion) {
	id := transferID(c.TransferID)
	buf := rec.rxBuffers[id]
	delete(rec.rxBuffers, id)
	rec.rx.remove(id)

	start := time.Now()
	if c.Status != transport.StatusCompleted {
		if e.observer != nil {
			e.observer.ObserveRxTransfer(0, 0, false)
		}
		e.doom(ctx, rec, wrapIOErr(rec, "bulk read", statusErr(c)))
		return
	}

	e.collaborator.DeviceDataInput(rec.loc, c.Data)
	if e.observer != nil {
		e.observer.ObserveRxTransfer(uint64(c.N), uint64(time.Since(start).Nanoseconds()), true)
	}

	// Resubmit on the same buffer's endpoint to keep N outstanding.
	if !e.submitRead(ctx, rec) {
		e.doom(ctx, rec, wrapIOErr(rec, "resubmit bulk read", errors.New("resubmission failed")))
		return
	}
	_ = buf
}

func (e *Engine) handleTxCompletion(ctx context.Context, rec *Record, c transport.Completion, t *pendingTransfer) {
	rec.tx.remove(t.id)

	if c.Status != transport.StatusCompleted {
		if e.observer != nil {
			e.observer.ObserveTxTransfer(0, 0, false)
		}
		e.doom(ctx, rec, wrapIOErr(rec, "bulk write", statusErr(c)))
		return
	}
	if e.observer != nil {
		e.observer.ObserveTxTransfer(uint64(c.N), 0, true)
	}

	if t.needsZLP {
		e.submitZLP(ctx, rec)
	}
}

// doom transitions a device to StateDoomed, recording the reason and
// notifying the collaborator; the reaper finalizes it once its transfer
// sets drain. Every component calls this single shared entry point on
// failure.
func (e *Engine) doom(ctx context.Context, rec *Record, reason error) {
	if rec.state == StateDoomed || rec.state == StateGone {
		return
	}
	wasAdded := rec.added
	rec.state = StateDoomed
	rec.doomReason = reason

	if e.logger != nil {
		e.logger.Warn("device doomed", "location", rec.loc, "reason", reason)
	}
	if wasAdded {
		e.collaborator.DeviceRemove(rec.loc)
	}
	if e.observer != nil {
		e.observer.ObserveDeviceDoomed(doomReasonString(reason))
	}

	e.disconnect(ctx, rec)
}

func doomReasonString(err error) string {
	var de *Error
	if errors.As(err, &de) {
		switch de.Kind {
		case ErrKindConfigurationFailed:
			return "configuration failed"
		case ErrKindClaimFailed:
			return "claim failed"
		case ErrKindInvalidDescriptor:
			return "invalid descriptor"
		case ErrKindIOError:
			return "io error"
		case ErrKindTimeout:
			return "timeout"
		case ErrKindCancelled:
			return "cancelled"
		case ErrKindModeRefused:
			return "mode refused"
		}
	}
	return "unknown"
}

// disconnect implements C9's per-device teardown: cancel every outstanding
// transfer, pump completions for up to DisconnectDrainBound waiting for
// both sets to empty, then force-free any stragglers, release the
// interface, close the handle, and remove the record.
func (e *Engine) disconnect(ctx context.Context, rec *Record) {
	rec.rx.CancelAll()
	rec.tx.CancelAll()

	deadline := time.Now().Add(constants.DisconnectDrainBound)
	for rec.rx.Len()+rec.tx.Len() > 0 && time.Now().Before(deadline) {
		e.drainOnce(ctx, constants.DisconnectDrainStep)
	}

	if leaked := rec.rx.Len() + rec.tx.Len(); leaked > 0 {
		rxLeaked := rec.rx.forceFree()
		txLeaked := rec.tx.forceFree()
		if e.logger != nil {
			e.logger.Warn("disconnect: force-freed leaked transfers", "location", rec.loc, "rx", rxLeaked, "tx", txLeaked)
		}
	}

	if rec.iface.Number != 0 || len(rec.activeConfig.Interfaces) > 0 {
		_ = rec.handle.ReleaseInterface(rec.iface.Number)
	}
	if rec.handle != nil {
		_ = rec.handle.Close()
	}

	rec.state = StateGone
	e.table.Remove(rec.loc)
}
