// Package devicehandler turns raw per-device bridge callbacks into debounced
// Added / Updated / Removed events.
//
// Every raw callback resolves its peer through the store, is classified into
// one of the three actions and enqueued under the peer's address. When the
// debounce window of that address closes, the single coalesced action is
// applied to the store and then published.
package devicehandler

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/btevents/internal/bridge"
	"github.com/srg/btevents/internal/errhandler"
	"github.com/srg/btevents/internal/events"
	"github.com/srg/btevents/internal/peer"
	"github.com/srg/btevents/internal/pending"
)

// change records what a pending mutation carries
type change uint8

const (
	changeProperties change = 1 << iota
	changeBattery
)

type payload struct {
	info    bridge.PeerInfo
	changes change
}

func mergePayload(older, newer payload) payload {
	info := make(bridge.PeerInfo, len(older.info)+len(newer.info))
	for k, v := range older.info {
		info[k] = v
	}
	for k, v := range newer.info {
		info[k] = v
	}
	return payload{info: info, changes: older.changes | newer.changes}
}

// raw is the kind of bridge callback being classified
type raw int

const (
	rawDiscovered raw = iota
	rawPairingCompleted
	rawConnected
	rawDisconnected
	rawUnpaired
	rawUpdated
	rawBattery
)

// classify maps a raw callback onto a normalized action. Sightings of a peer
// that is not live yet, or whose removal is still pending, are additions so
// that they supersede the removal.
func classify(r raw, live, removing bool) events.Action {
	switch r {
	case rawDiscovered, rawPairingCompleted, rawConnected:
		if live && !removing {
			return events.Updated
		}
		return events.Added
	case rawDisconnected, rawUnpaired:
		return events.Removed
	default:
		return events.Updated
	}
}

// Options configures a Handler
type Options struct {
	Delay  time.Duration
	Clock  pending.Clock
	Logger *logrus.Logger
}

// Handler is the raw delegate registered with the bridge. It implements
// bridge.PeerDelegate and bridge.BatteryDelegate.
type Handler struct {
	bridge    bridge.Bridge
	store     *peer.Store
	publisher events.Publisher
	queue     *pending.Queue[payload]
	reporter  *errhandler.Reporter
	logger    *logrus.Logger
}

var (
	_ bridge.PeerDelegate    = (*Handler)(nil)
	_ bridge.BatteryDelegate = (*Handler)(nil)
)

// New creates a handler. It receives nothing until Start registers it.
func New(b bridge.Bridge, store *peer.Store, publisher events.Publisher, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	h := &Handler{
		bridge:    b,
		store:     store,
		publisher: publisher,
		reporter:  errhandler.NewReporter(opts.Logger),
		logger:    opts.Logger,
	}
	h.queue = pending.New(h.flush, pending.Options[payload]{
		Delay:  opts.Delay,
		Clock:  opts.Clock,
		Merge:  mergePayload,
		Logger: opts.Logger,
	})
	return h
}

// Start registers the handler with the bridge
func (h *Handler) Start() error {
	if !h.bridge.AddDelegate(h) {
		return errhandler.CreateError(errhandler.NameBridgeUnavailable, "bridge refused the device delegate", "device_handler_start")
	}
	h.logger.Debug("Device event handler started")
	return nil
}

// Stop unregisters the handler and discards mutations still waiting for
// their window.
func (h *Handler) Stop() {
	h.bridge.RemoveDelegate(h)
	h.queue.Close()
	h.logger.Debug("Device event handler stopped")
}

// Drain flushes all pending mutations immediately
func (h *Handler) Drain() {
	h.queue.Drain()
}

// Wait blocks until flushes already started have completed
func (h *Handler) Wait() {
	h.queue.Wait()
}

func (h *Handler) PeerDiscovered(info bridge.PeerInfo) {
	h.receive("peer_discovered", rawDiscovered, info)
}

func (h *Handler) PeerUpdated(info bridge.PeerInfo) {
	h.receive("peer_updated", rawUpdated, info)
}

func (h *Handler) PeerConnected(info bridge.PeerInfo, code bridge.ErrorCode) {
	if !code.OK() {
		h.reporter.Report(callbackFailed("peer_connected", info, code))
		return
	}
	h.receive("peer_connected", rawConnected, info.With(bridge.KeyConnected, true))
}

func (h *Handler) PeerDisconnected(info bridge.PeerInfo, code bridge.ErrorCode) {
	if !code.OK() {
		// the link is gone either way
		h.logger.WithFields(logrus.Fields{
			"address": info[bridge.KeyAddress],
			"code":    int(code),
		}).Debug("Disconnected with error")
	}
	h.receive("peer_disconnected", rawDisconnected, info.With(bridge.KeyConnected, false))
}

func (h *Handler) PeerUnpaired(info bridge.PeerInfo) {
	h.receive("peer_unpaired", rawUnpaired, info.With(bridge.KeyPaired, false))
}

func (h *Handler) PeerPairingCompleted(info bridge.PeerInfo, code bridge.ErrorCode) {
	if !code.OK() {
		h.reporter.Report(callbackFailed("peer_pairing_completed", info, code))
		return
	}
	h.receive("peer_pairing_completed", rawPairingCompleted, info.With(bridge.KeyPaired, true))
}

func (h *Handler) BatteryChanged(info bridge.PeerInfo, kind bridge.BatteryKind, percent int) {
	h.reporter.Go("battery_changed", func() error {
		if percent < 0 || percent > 100 {
			return errhandler.CreateError(errhandler.NameMalformedPayload,
				fmt.Sprintf("battery level %d out of range", percent), "battery_changed")
		}
		p, err := h.store.PeerFor(info)
		if err != nil {
			return err
		}
		h.store.SetBattery(p, kind, percent)
		h.enqueue(p, classify(rawBattery, true, false), payload{info: bridge.NewPeerInfo(p.Address()), changes: changeBattery})
		return nil
	})
}

// receive runs on the bridge's callback context; failures are reported and
// never propagate back into it.
func (h *Handler) receive(op string, r raw, info bridge.PeerInfo) {
	h.reporter.Go(op, func() error {
		p, err := h.store.PeerFor(info)
		if err != nil {
			return err
		}
		h.enqueue(p, classify(r, h.store.IsLive(p), h.removalPending(p.Address())), payload{info: info, changes: changeProperties})
		return nil
	})
}

func (h *Handler) removalPending(address string) bool {
	m, ok := h.queue.Pending(address)
	return ok && m.Action == events.Removed
}

func (h *Handler) enqueue(p *peer.Peer, action events.Action, pl payload) {
	if !h.queue.Enqueue(p.Address(), action, pl) {
		h.logger.WithField("address", p.Address()).Debug("Handler stopped, event ignored")
	}
}

func callbackFailed(op string, info bridge.PeerInfo, code bridge.ErrorCode) error {
	return errhandler.CreateError(errhandler.NameOperationFailed,
		fmt.Sprintf("%v reported error code %d", info[bridge.KeyAddress], int(code)), op)
}

// flush applies the coalesced mutation of one address to the store and
// publishes the result. The action is reconciled with the peer's current
// state: an addition of a peer that became live in the meantime is published
// as an update, and updates or removals of peers that never became live are
// not published at all.
func (h *Handler) flush(address string, m pending.Mutation[payload]) {
	log := h.logger.WithFields(logrus.Fields{
		"address": address,
		"action":  m.Action,
	})

	switch m.Action {
	case events.Added:
		h.flushAdded(log, m.Payload)
	case events.Updated:
		h.flushUpdated(log, address, m.Payload)
	case events.Removed:
		h.flushRemoved(log, address, m.Payload)
	}
}

func (h *Handler) flushAdded(log *logrus.Entry, pl payload) {
	p, err := h.store.PeerFor(pl.info)
	if err != nil {
		h.reporter.Report(err)
		return
	}

	if h.store.IsLive(p) {
		log.Debug("Peer already live, publishing as update")
		h.publishUpdate(log, p, pl)
		return
	}

	if p.IsOrphan() {
		if p, err = h.store.Renew(p, pl.info); err != nil {
			h.reporter.Report(err)
			return
		}
	}
	p.Apply(pl.info)

	d, ok := h.store.DeviceFor(p)
	if !ok {
		h.reporter.Report(errhandler.CreateError(errhandler.NameOperationFailed, "peer could not be attached", "flush_added"))
		return
	}

	battery, _ := p.TakeBatteryDelta()
	log.WithField("peer_id", p.ID()).Debug("Publishing device")
	h.publisher.PublishDeviceEvent(d, events.Added, events.DeviceEventData{Battery: battery})
}

func (h *Handler) flushUpdated(log *logrus.Entry, address string, pl payload) {
	p, ok := h.store.Lookup(address)
	if !ok || !h.store.IsLive(p) {
		log.Debug("Update for a device that is not live, not published")
		return
	}
	h.publishUpdate(log, p, pl)
}

func (h *Handler) publishUpdate(log *logrus.Entry, p *peer.Peer, pl payload) {
	changed := false
	if pl.changes&changeProperties != 0 {
		changed = p.Apply(pl.info)
	}
	battery, delivered := p.TakeBatteryDelta()

	if !changed && !delivered {
		log.Debug("Nothing changed, update suppressed")
		return
	}

	d, ok := h.store.DeviceFor(p)
	if !ok {
		return
	}
	h.publisher.PublishDeviceEvent(d, events.Updated, events.DeviceEventData{Battery: battery})
}

func (h *Handler) flushRemoved(log *logrus.Entry, address string, pl payload) {
	p, ok := h.store.Lookup(address)
	if !ok {
		return
	}

	if !h.store.IsLive(p) {
		// never published, or already released by its owner
		h.store.PurgePeer(p)
		log.Debug("Removed a device that was not live, not published")
		return
	}

	d, _ := h.store.DeviceFor(p)
	p.Apply(pl.info)
	battery, _ := p.TakeBatteryDelta()

	h.store.MarkOrphan(p)
	h.store.Purge(d)

	h.publisher.PublishDeviceEvent(d, events.Removed, events.DeviceEventData{Battery: battery})
}
