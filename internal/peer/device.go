package peer

import (
	"sync"

	"github.com/google/uuid"
)

// Device is the caller-facing handle of a live peer.
//
// The handle keeps only the peer's address and generation; Peer resolves the
// record through the store. Once detached (peer orphaned or purged) the handle
// stays readable through Snapshot, which then returns the state captured at
// detach time.
type Device struct {
	address    string
	id         uuid.UUID
	generation uint64
	store      *Store

	mu       sync.RWMutex
	detached bool
	last     Snapshot
}

// Address returns the device address
func (d *Device) Address() string { return d.address }

// ID returns the identifier of the peer the handle was created for
func (d *Device) ID() uuid.UUID { return d.id }

// Peer resolves the attached peer. It reports false once the handle has been
// detached or its peer purged.
func (d *Device) Peer() (*Peer, bool) {
	if d == nil || d.store == nil {
		return nil, false
	}
	return d.store.PeerForDevice(d)
}

// Attached reports whether the handle still resolves to a live peer
func (d *Device) Attached() bool {
	_, ok := d.Peer()
	return ok
}

// Snapshot returns the live peer state, or the state captured when the handle
// was detached.
func (d *Device) Snapshot() Snapshot {
	if p, ok := d.Peer(); ok {
		return p.Snapshot()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last
}

func (d *Device) detach(last Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.detached {
		return
	}
	d.detached = true
	d.last = last
}

func (d *Device) isDetached() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.detached
}
