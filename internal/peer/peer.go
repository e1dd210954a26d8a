// Package peer keeps the in-process model of known Bluetooth Classic devices.
//
// Each physical device has one Peer, the low-level record fed by the native
// stack, and while the peer is live, one Device, the handle handed to
// observers and facade callers. A Device does not own its Peer: it resolves
// it through the Store by address and generation, so a purged peer can never
// be reached through a stale handle.
package peer

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/srg/btevents/internal/bridge"
)

// BatteryUnknown marks a battery reading the device never reported
const BatteryUnknown = -1

// BatteryInfo holds the four battery readings a peer can report, in percent.
// Modified is set whenever a reading is written during the current delivery
// cycle, even if the value did not change.
type BatteryInfo struct {
	Modified bool `json:"modified"`

	Single   int `json:"single"`
	Combined int `json:"combined"`
	Left     int `json:"left"`
	Right    int `json:"right"`
}

// NewBatteryInfo returns a reading with every level unknown
func NewBatteryInfo() BatteryInfo {
	return BatteryInfo{
		Single:   BatteryUnknown,
		Combined: BatteryUnknown,
		Left:     BatteryUnknown,
		Right:    BatteryUnknown,
	}
}

// Get returns the level for kind and whether it is known
func (b BatteryInfo) Get(kind bridge.BatteryKind) (int, bool) {
	var v int
	switch kind {
	case bridge.BatterySingle:
		v = b.Single
	case bridge.BatteryCombined:
		v = b.Combined
	case bridge.BatteryLeft:
		v = b.Left
	case bridge.BatteryRight:
		v = b.Right
	default:
		return BatteryUnknown, false
	}
	return v, v != BatteryUnknown
}

func (b *BatteryInfo) set(kind bridge.BatteryKind, v int) bool {
	switch kind {
	case bridge.BatterySingle:
		b.Single = v
	case bridge.BatteryCombined:
		b.Combined = v
	case bridge.BatteryLeft:
		b.Left = v
	case bridge.BatteryRight:
		b.Right = v
	default:
		return false
	}
	b.Modified = true
	return true
}

// String lists the known readings, e.g. "left:60%,right:55%", or
// "unknown" when there are none.
func (b BatteryInfo) String() string {
	parts := []struct {
		name string
		v    int
	}{
		{"single", b.Single}, {"combined", b.Combined}, {"left", b.Left}, {"right", b.Right},
	}
	out := ""
	for _, p := range parts {
		if p.v == BatteryUnknown {
			continue
		}
		if out != "" {
			out += ","
		}
		out += fmt.Sprintf("%s:%d%%", p.name, p.v)
	}
	if out == "" {
		return "unknown"
	}
	return out
}

// sameLevels compares readings, ignoring Modified
func (b BatteryInfo) sameLevels(o BatteryInfo) bool {
	return b.Single == o.Single && b.Combined == o.Combined && b.Left == o.Left && b.Right == o.Right
}

// Snapshot is a copy of a peer's state, safe to keep after the peer is gone
type Snapshot struct {
	ID        uuid.UUID   `json:"id"`
	Address   string      `json:"address"`
	Name      string      `json:"name,omitempty"`
	Class     uint32      `json:"class,omitempty"`
	RSSI      int         `json:"rssi,omitempty"`
	Paired    bool        `json:"paired"`
	Connected bool        `json:"connected"`
	Battery   BatteryInfo `json:"battery"`
}

// Peer is the low-level record of one physical device.
type Peer struct {
	id         uuid.UUID
	address    string
	generation uint64

	mu        sync.RWMutex
	name      string
	class     uint32
	rssi      int
	paired    bool
	connected bool
	battery   BatteryInfo
	published BatteryInfo // levels at the last delivered battery delta
	orphan    bool
}

func newPeer(id uuid.UUID, address string, generation uint64) *Peer {
	return &Peer{
		id:         id,
		address:    address,
		generation: generation,
		battery:    NewBatteryInfo(),
		published:  NewBatteryInfo(),
	}
}

// ID returns the stable identifier
func (p *Peer) ID() uuid.UUID { return p.id }

// Address returns the normalized device address
func (p *Peer) Address() string { return p.address }

// Generation distinguishes this peer from earlier peers with the same address
func (p *Peer) Generation() uint64 { return p.generation }

// IsOrphan reports whether the peer's device handle has been released
func (p *Peer) IsOrphan() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.orphan
}

// Battery returns the current battery readings
func (p *Peer) Battery() BatteryInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.battery
}

// Snapshot copies the peer's state
func (p *Peer) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return Snapshot{
		ID:        p.id,
		Address:   p.address,
		Name:      p.name,
		Class:     p.class,
		RSSI:      p.rssi,
		Paired:    p.paired,
		Connected: p.connected,
		Battery:   p.battery,
	}
}

// Apply copies the optional attributes present in info onto the peer and
// reports whether any of them changed.
func (p *Peer) Apply(info bridge.PeerInfo) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	changed := false
	if v, ok := info.Name(); ok && v != p.name {
		p.name, changed = v, true
	}
	if v, ok := info.Class(); ok && v != p.class {
		p.class, changed = v, true
	}
	if v, ok := info.RSSI(); ok && v != p.rssi {
		p.rssi, changed = v, true
	}
	if v, ok := info.Paired(); ok && v != p.paired {
		p.paired, changed = v, true
	}
	if v, ok := info.Connected(); ok && v != p.connected {
		p.connected, changed = v, true
	}
	return changed
}

// TakeBatteryDelta closes the current delivery cycle. It returns the battery
// readings with Modified set only when a reading was written this cycle and
// the levels differ from the last delivered ones; delivered reports the same.
func (p *Peer) TakeBatteryDelta() (info BatteryInfo, delivered bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info = p.battery
	delivered = p.battery.Modified && !p.battery.sameLevels(p.published)
	info.Modified = delivered

	if delivered {
		p.published = p.battery
		p.published.Modified = false
	}
	p.battery.Modified = false
	return info, delivered
}

func (p *Peer) setBattery(kind bridge.BatteryKind, v int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.battery.set(kind, v)
}

func (p *Peer) setOrphan() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orphan = true
}

// inherit copies telemetry history from an orphaned predecessor
func (p *Peer) inherit(old *Peer) {
	old.mu.RLock()
	battery, published := old.battery, old.published
	name, class := old.name, old.class
	old.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.battery, p.published = battery, published
	if p.name == "" {
		p.name = name
	}
	if p.class == 0 {
		p.class = class
	}
}
