package peer

import (
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/btevents/internal/bridge"
	"github.com/srg/btevents/internal/errhandler"
)

// entry is replaced, never mutated, so lock-free readers always see a
// consistent peer/device pair.
type entry struct {
	peer   *Peer
	device *Device
}

// Store maps device addresses to peers and reconciles peers with their device
// handles. There is at most one entry per address; reads are lock-free and
// writes are serialized by mu.
type Store struct {
	mu         sync.Mutex
	entries    *hashmap.Map[string, *entry]
	generation atomic.Uint64
	logger     *logrus.Logger
}

// NewStore creates an empty store
func NewStore(logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{
		entries: hashmap.New[string, *entry](),
		logger:  logger,
	}
}

// PeerFor returns the peer for the device identified by info, creating and
// registering it on first sighting. Repeated calls for the same address
// return the same peer until it is purged.
func (s *Store) PeerFor(info bridge.PeerInfo) (*Peer, error) {
	addr, err := info.Address()
	if err != nil {
		return nil, errhandler.Wrap(errhandler.NameMalformedPayload, "payload has no device identity", "peer_for", err)
	}

	if e, ok := s.entries.Get(addr); ok {
		return e.peer, nil
	}

	id, err := info.Identifier()
	if err != nil {
		return nil, errhandler.Wrap(errhandler.NameMalformedPayload, "payload has an invalid identifier", "peer_for", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries.Get(addr); ok {
		return e.peer, nil
	}

	p := newPeer(id, addr, s.generation.Add(1))
	p.Apply(info)
	s.entries.Set(addr, &entry{peer: p})

	s.logger.WithFields(logrus.Fields{
		"address": addr,
		"peer_id": id,
	}).Debug("Registered peer")

	return p, nil
}

// Lookup returns the registered peer for address, live or orphaned
func (s *Store) Lookup(address string) (*Peer, bool) {
	addr, err := bridge.NormalizeAddress(address)
	if err != nil {
		return nil, false
	}
	e, ok := s.entries.Get(addr)
	if !ok {
		return nil, false
	}
	return e.peer, true
}

// DeviceFor returns the device handle attached to p, creating it if the peer
// is live and has none. It reports false for orphaned or purged peers.
func (s *Store) DeviceFor(p *Peer) (*Device, bool) {
	if p == nil {
		return nil, false
	}

	if e, ok := s.entries.Get(p.address); ok && e.peer == p && e.device != nil {
		return e.device, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries.Get(p.address)
	if !ok || e.peer != p || p.IsOrphan() {
		return nil, false
	}
	if e.device != nil {
		return e.device, true
	}

	d := &Device{
		address:    p.address,
		id:         p.id,
		generation: p.generation,
		store:      s,
	}
	s.entries.Set(p.address, &entry{peer: p, device: d})

	s.logger.WithField("address", p.address).Debug("Attached device handle")
	return d, true
}

// PeerForDevice resolves the live peer behind d
func (s *Store) PeerForDevice(d *Device) (*Peer, bool) {
	if d == nil {
		return nil, false
	}
	e, ok := s.entries.Get(d.address)
	if !ok || e.device != d || d.isDetached() || e.peer.IsOrphan() {
		return nil, false
	}
	return e.peer, true
}

// IsLive reports whether p is registered and has a device handle attached
func (s *Store) IsLive(p *Peer) bool {
	if p == nil {
		return false
	}
	e, ok := s.entries.Get(p.address)
	return ok && e.peer == p && e.device != nil && !p.IsOrphan()
}

// Resolve returns the live device handle for address
func (s *Store) Resolve(address string) (*Device, bool) {
	p, ok := s.Lookup(address)
	if !ok || !s.IsLive(p) {
		return nil, false
	}
	return s.DeviceFor(p)
}

// SetBattery updates one battery reading of p and marks the readings
// modified for the current delivery cycle.
func (s *Store) SetBattery(p *Peer, kind bridge.BatteryKind, value int) {
	if p == nil {
		return
	}
	if !p.setBattery(kind, value) {
		s.logger.WithFields(logrus.Fields{
			"address": p.address,
			"kind":    kind,
		}).Warn("Ignoring unknown battery kind")
	}
}

// MarkOrphan detaches p's device handle. The peer stays registered, battery
// history included, until it is purged.
func (s *Store) MarkOrphan(p *Peer) {
	if p == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries.Get(p.address); ok && e.peer == p && e.device != nil {
		e.device.detach(p.Snapshot())
		s.entries.Set(p.address, &entry{peer: p})
	}
	p.setOrphan()

	s.logger.WithField("address", p.address).Debug("Orphaned peer")
}

// Purge removes the peer d was created for. Purging twice, or purging through
// a handle whose peer was already replaced, does nothing.
func (s *Store) Purge(d *Device) bool {
	if d == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries.Get(d.address)
	if !ok || e.peer.generation != d.generation {
		return false
	}

	d.detach(e.peer.Snapshot())
	s.entries.Del(d.address)

	s.logger.WithField("address", d.address).Debug("Purged peer")
	return true
}

// PurgePeer removes p when it never had a device handle
func (s *Store) PurgePeer(p *Peer) bool {
	if p == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries.Get(p.address)
	if !ok || e.peer != p {
		return false
	}
	if e.device != nil {
		e.device.detach(p.Snapshot())
	}
	s.entries.Del(p.address)
	return true
}

// Renew replaces an orphaned peer with a fresh one for a new sighting of the
// same address. Telemetry history carries over. A peer that is not orphaned
// is returned unchanged.
func (s *Store) Renew(p *Peer, info bridge.PeerInfo) (*Peer, error) {
	if p == nil {
		return s.PeerFor(info)
	}
	if !p.IsOrphan() {
		return p, nil
	}

	s.PurgePeer(p)

	fresh, err := s.PeerFor(info)
	if err != nil {
		return nil, err
	}
	fresh.inherit(p)
	return fresh, nil
}

// Len returns the number of registered peers
func (s *Store) Len() int {
	return s.entries.Len()
}

// Devices returns the handles of all live peers
func (s *Store) Devices() []*Device {
	out := make([]*Device, 0, s.entries.Len())
	s.entries.Range(func(_ string, e *entry) bool {
		if e.device != nil && !e.peer.IsOrphan() {
			out = append(out, e.device)
		}
		return true
	})
	return out
}
