package device

import "github.com/usbmuxgo/usbmux/internal/transport"

// Table is the device registry (C1): insert, lookup-by-key, iterate,
// remove, plus the mark-and-sweep liveness pass rediscovery drives.
// Guarded by no lock — the pump is never re-entered.
type Table struct {
	records map[transport.DeviceLocation]*Record
}

// NewTable creates an empty device table.
func NewTable() *Table {
	return &Table{records: map[transport.DeviceLocation]*Record{}}
}

func (t *Table) Insert(rec *Record)                             { t.records[rec.loc] = rec }
func (t *Table) Lookup(loc transport.DeviceLocation) (*Record, bool) { r, ok := t.records[loc]; return r, ok }
func (t *Table) Remove(loc transport.DeviceLocation)             { delete(t.records, loc) }
func (t *Table) All() []*Record {
	out := make([]*Record, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r)
	}
	return out
}

// BeginSweep clears every record's "seen this scan" mark, the first half of
// mark-and-sweep (GLOSSARY "Mark-and-sweep").
func (t *Table) BeginSweep() {
	for _, r := range t.records {
		r.seenThisScan = false
	}
}

// MarkLive records that loc was re-observed during the current scan.
func (t *Table) MarkLive(loc transport.DeviceLocation) {
	if r, ok := t.records[loc]; ok {
		r.seenThisScan = true
	}
}

// Sweep returns every record that is still alive (not doomed or gone) but
// was not re-observed this scan — these are newly doomed and must be
// reaped by the caller.
func (t *Table) Sweep() []*Record {
	var doomed []*Record
	for _, r := range t.records {
		if !r.seenThisScan && r.state.IsAlive() {
			doomed = append(doomed, r)
		}
	}
	return doomed
}
