package device

import "context"

// transferID is a process-wide monotonically increasing arena index (never
// a raw pointer), avoiding a cyclic device<->transfer pointer reference.
type transferID uint64

type transferKind int

const (
	transferRx transferKind = iota
	transferTx
)

type pendingTransfer struct {
	id     transferID
	kind   transferKind
	cancel context.CancelFunc
	epAddr uint8

	// needsZLP marks a tx transfer whose completion must trigger an
	// immediate follow-up zero-length-packet write: submitted only after
	// THIS transfer's own completion is observed, which guarantees wire
	// ordering without requiring Handle.SubmitBulkWrite itself to block.
	needsZLP bool
}

// TransferSet tracks outstanding transfers for one device, split into rx
// and tx halves. Inserting before submission and removing inside the
// completion callback makes the set a conservative over-approximation of
// in-flight work, generalized from fixed-size per-tag tracking into an
// open-ended map since USB transfer counts are dynamic.
type TransferSet struct {
	rx map[transferID]*pendingTransfer
	tx map[transferID]*pendingTransfer
}

// NewTransferSet creates an empty set.
func NewTransferSet() *TransferSet {
	return &TransferSet{rx: map[transferID]*pendingTransfer{}, tx: map[transferID]*pendingTransfer{}}
}

func (s *TransferSet) addRx(id transferID, epAddr uint8, cancel context.CancelFunc) {
	s.rx[id] = &pendingTransfer{id: id, kind: transferRx, epAddr: epAddr, cancel: cancel}
}

func (s *TransferSet) addTx(id transferID, epAddr uint8, needsZLP bool, cancel context.CancelFunc) {
	s.tx[id] = &pendingTransfer{id: id, kind: transferTx, epAddr: epAddr, needsZLP: needsZLP, cancel: cancel}
}

func (s *TransferSet) remove(id transferID) {
	delete(s.rx, id)
	delete(s.tx, id)
}

func (s *TransferSet) containsRx(id transferID) bool { _, ok := s.rx[id]; return ok }

func (s *TransferSet) lookupTx(id transferID) (*pendingTransfer, bool) { t, ok := s.tx[id]; return t, ok }

// Len returns the total outstanding transfer count (rx + tx).
func (s *TransferSet) Len() int { return len(s.rx) + len(s.tx) }

// CancelAll requests cancellation of every outstanding transfer; each still
// completes (with StatusCancelled) through the normal completion path.
func (s *TransferSet) CancelAll() {
	for _, t := range s.rx {
		if t.cancel != nil {
			t.cancel()
		}
	}
	for _, t := range s.tx {
		if t.cancel != nil {
			t.cancel()
		}
	}
}

// forceFree drops every entry without cancelling, for the bounded-drain
// escape hatch in C9 when the host library never delivers a completion.
func (s *TransferSet) forceFree() (leaked int) {
	leaked = s.Len()
	s.rx = map[transferID]*pendingTransfer{}
	s.tx = map[transferID]*pendingTransfer{}
	return leaked
}
