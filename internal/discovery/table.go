// Package discovery announces this host's presence on the LAN and maintains
// the table of known peers.
package discovery

import (
	"sync"
	"time"

	"kvmshare/internal/protocol"
)

// PeerRecord describes one discovered peer. Records are advisory: a peer may
// be gone by the time a connection is attempted.
type PeerRecord struct {
	// Addr is the peer's IP address as seen on the wire
	Addr string
	// TCPPort is the control port the peer announced
	TCPPort int
	// PeerID is the peer's beacon id
	PeerID [protocol.BeaconIDSize]byte
	// LastSeen is when the last valid announcement arrived
	LastSeen time.Time
}

// Table is the process-wide peer table. The discovery component owns it; all
// other components only receive snapshots.
type Table struct {
	mu     sync.RWMutex
	peers  map[string]PeerRecord
	onSeen func(PeerRecord)
}

// NewTable returns an empty table. onSeen, if non-nil, is called whenever a
// peer is inserted for the first time.
func NewTable(onSeen func(PeerRecord)) *Table {
	return &Table{
		peers:  make(map[string]PeerRecord),
		onSeen: onSeen,
	}
}

// Upsert inserts or refreshes a record and reports whether it was new.
func (t *Table) Upsert(rec PeerRecord) bool {
	t.mu.Lock()
	_, known := t.peers[rec.Addr]
	t.peers[rec.Addr] = rec
	t.mu.Unlock()

	if !known && t.onSeen != nil {
		t.onSeen(rec)
	}
	return !known
}

// Snapshot returns a point-in-time copy of all records.
func (t *Table) Snapshot() []PeerRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PeerRecord, 0, len(t.peers))
	for _, rec := range t.peers {
		out = append(out, rec)
	}
	return out
}

// Len returns the number of known peers.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}
