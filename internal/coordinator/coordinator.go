// Package coordinator owns the event pipeline: it starts the device event
// handler and the adapter source on top of a bridge, keeps the observer
// registry and fans normalized events out to observers.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/btevents/internal/adaptersource"
	"github.com/srg/btevents/internal/bridge"
	"github.com/srg/btevents/internal/devicehandler"
	"github.com/srg/btevents/internal/errhandler"
	"github.com/srg/btevents/internal/events"
	"github.com/srg/btevents/internal/peer"
	"github.com/srg/btevents/internal/pending"
	"github.com/srg/btevents/internal/registry"
)

// State is the lifecycle state of a Coordinator
type State int32

const (
	StateUninitialized State = iota
	StateReady
	// StateFailed: the last Initialize failed and was rolled back; it may be retried
	StateFailed
	// StateBroken: a failed Initialize could not be rolled back; only
	// Shutdown leaves this state
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateBroken:
		return "broken"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Options configures a Coordinator
type Options struct {
	Debounce     time.Duration
	PollInterval time.Duration
	Clock        pending.Clock
	Logger       *logrus.Logger
}

// Coordinator implements events.Publisher for the components it starts.
type Coordinator struct {
	bridge   bridge.Bridge
	opts     Options
	logger   *logrus.Logger
	reporter *errhandler.Reporter

	observers *registry.Set
	store     atomic.Pointer[peer.Store]
	state     atomic.Int32

	lifecycleMu sync.Mutex
	opened      bool
	handler     *devicehandler.Handler
	adapter     atomic.Pointer[adaptersource.Source]

	// publishMu makes fan-out passes mutually exclusive
	publishMu sync.Mutex
}

var (
	_ events.Publisher = (*Coordinator)(nil)
	_ events.Gate      = (*Coordinator)(nil)
)

// New creates an uninitialized coordinator for b
func New(b bridge.Bridge, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	c := &Coordinator{
		bridge:    b,
		opts:      opts,
		logger:    opts.Logger,
		reporter:  errhandler.NewReporter(opts.Logger),
		observers: registry.NewWeak(),
	}
	c.store.Store(peer.NewStore(opts.Logger))
	return c
}

// State returns the lifecycle state
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Ready reports whether events are being published
func (c *Coordinator) Ready() bool {
	return c.State() == StateReady
}

// Store returns the peer store of the current initialization
func (c *Coordinator) Store() *peer.Store {
	return c.store.Load()
}

// Bridge returns the bridge the coordinator runs on
func (c *Coordinator) Bridge() bridge.Bridge {
	return c.bridge
}

// AdapterState returns the last adapter snapshot; ok is false when the
// coordinator is not initialized.
func (c *Coordinator) AdapterState() (events.AdapterState, bool) {
	src := c.adapter.Load()
	if src == nil || !c.Ready() {
		return events.AdapterState{}, false
	}
	return src.State(), true
}

// Initialize opens the bridge, checks permission, seeds the store with the
// paired devices and starts the device handler and adapter source.
//
// It is idempotent once successful. A failed attempt is rolled back and may
// be retried; if the rollback itself fails the coordinator is broken and
// Initialize keeps failing with ErrBrokenState until Shutdown.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	switch c.State() {
	case StateReady:
		return nil
	case StateBroken:
		return errhandler.CreateError(errhandler.NameBrokenState, "a previous initialization could not be rolled back", "initialize")
	}

	err := errhandler.Run("initialize", func() error { return c.start(ctx) })
	if err == nil {
		c.state.Store(int32(StateReady))
		// catch up on adapter changes deferred while starting
		if src := c.adapter.Load(); src != nil {
			src.Refresh()
		}
		c.logger.WithField("observers", c.observers.Len()).Info("Coordinator initialized")
		return nil
	}

	if rbErr := c.rollback(); rbErr != nil {
		c.state.Store(int32(StateBroken))
		c.logger.WithError(rbErr).Error("Rollback after failed initialization failed")
		return errhandler.Wrap(errhandler.NameBrokenState, "rollback failed: "+rbErr.Error(), "initialize", err)
	}

	c.state.Store(int32(StateFailed))
	c.logger.WithError(err).Warn("Coordinator initialization failed")
	return err
}

func (c *Coordinator) start(ctx context.Context) error {
	if err := c.bridge.Open(ctx); err != nil {
		return errhandler.Wrap(errhandler.NameBridgeUnavailable, "cannot open bridge", "initialize", err)
	}
	c.opened = true

	status, err := c.bridge.PermissionStatus()
	if err != nil {
		return errhandler.Wrap(errhandler.NameBridgeUnavailable, "cannot query permission", "initialize", err)
	}
	switch status {
	case bridge.PermissionDenied, bridge.PermissionRestricted:
		return errhandler.CreateError(errhandler.NamePermissionDenied, "bluetooth access is "+status.String(), "initialize")
	case bridge.PermissionUnsupported:
		return errhandler.CreateError(errhandler.NameBridgeUnavailable, "bluetooth is not supported", "initialize")
	}

	store := peer.NewStore(c.logger)
	c.seed(store)
	c.store.Store(store)

	c.handler = devicehandler.New(c.bridge, store, c, devicehandler.Options{
		Delay:  c.opts.Debounce,
		Clock:  c.opts.Clock,
		Logger: c.logger,
	})
	if err := c.handler.Start(); err != nil {
		return err
	}

	src := adaptersource.New(c.bridge, c, adaptersource.Options{
		PollInterval: c.opts.PollInterval,
		Logger:       c.logger,
	})
	c.adapter.Store(src)
	return src.Start(ctx)
}

// seed registers the bridge's paired devices as live peers. A bridge that
// cannot list them starts with an empty store.
func (c *Coordinator) seed(store *peer.Store) {
	infos, err := c.bridge.PairedDevices()
	if err != nil {
		c.reporter.Report(errhandler.Wrap(errhandler.NameOperationFailed, "cannot list paired devices", "seed", err))
		return
	}
	for _, info := range infos {
		p, err := store.PeerFor(info)
		if err != nil {
			c.reporter.Report(err)
			continue
		}
		store.DeviceFor(p)
	}
	c.logger.WithField("devices", store.Len()).Debug("Seeded peer store")
}

// rollback undoes a partial start; it must leave the bridge closed
func (c *Coordinator) rollback() error {
	c.stopComponents()
	c.store.Store(peer.NewStore(c.logger))

	if !c.opened {
		return nil
	}
	if err := c.bridge.Close(); err != nil {
		return err
	}
	c.opened = false
	return nil
}

func (c *Coordinator) stopComponents() {
	if src := c.adapter.Swap(nil); src != nil {
		src.Stop()
	}
	if c.handler != nil {
		c.handler.Stop()
		c.handler = nil
	}
}

// Shutdown stops publishing, discards pending device mutations and closes
// the bridge. Observers stay registered. The coordinator can be initialized
// again afterwards.
func (c *Coordinator) Shutdown() error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.State() == StateUninitialized && !c.opened {
		return nil
	}

	c.state.Store(int32(StateUninitialized))
	err := c.rollback()
	if err != nil {
		c.state.Store(int32(StateBroken))
		return errhandler.Wrap(errhandler.NameBrokenState, "cannot close bridge", "shutdown", err)
	}
	c.logger.Info("Coordinator stopped")
	return nil
}

// Drain publishes pending device mutations without waiting for their
// debounce window.
func (c *Coordinator) Drain() {
	c.lifecycleMu.Lock()
	h := c.handler
	c.lifecycleMu.Unlock()

	if h != nil {
		h.Drain()
	}
}

// AddObserver registers o. o must implement events.AdapterObserver,
// events.DeviceObserver or both, and be comparable. Adding a member again
// reports false. Pointer observers are held weakly: registration alone does
// not keep o alive.
func (c *Coordinator) AddObserver(o any) (bool, error) {
	if !events.IsObserver(o) {
		return false, errhandler.CreateError(errhandler.NameInvalidObserver,
			fmt.Sprintf("%T handles no event kind", o), "add_observer")
	}
	added, err := c.observers.Add(o)
	if err != nil {
		return false, errhandler.Wrap(errhandler.NameInvalidObserver, "observer rejected", "add_observer", err)
	}
	if added {
		c.logger.WithField("observer", fmt.Sprintf("%T", o)).Debug("Observer added")
	}
	return added, nil
}

// RemoveObserver unregisters o and reports whether it was a member. An
// in-flight fan-out may still deliver to o.
func (c *Coordinator) RemoveObserver(o any) bool {
	removed := c.observers.Remove(o)
	if removed {
		c.logger.WithField("observer", fmt.Sprintf("%T", o)).Debug("Observer removed")
	}
	return removed
}

// Observers returns a copy of the registered observers in registration order
func (c *Coordinator) Observers() []any {
	return c.observers.Snapshot()
}

// PublishAdapterEvent delivers state to every adapter observer
func (c *Coordinator) PublishAdapterEvent(state events.AdapterState) {
	if !c.Ready() {
		c.logger.Debug("Not initialized, adapter event dropped")
		return
	}

	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	for _, o := range c.observers.Snapshot() {
		if ob, ok := o.(events.AdapterObserver); ok {
			c.deliver("adapter_event", o, func() { ob.HandleAdapterEvent(state) })
		}
	}
}

// PublishDeviceEvent delivers a device event to every device observer.
// Added and Updated events require an attached handle; Removed events carry
// the handle that was just detached.
func (c *Coordinator) PublishDeviceEvent(device *peer.Device, action events.Action, data events.DeviceEventData) {
	if !c.Ready() {
		c.logger.Debug("Not initialized, device event dropped")
		return
	}
	if device == nil || !action.Valid() {
		c.reporter.Report(errhandler.CreateError(errhandler.NameMalformedPayload,
			fmt.Sprintf("invalid device event (action %d)", int(action)), "publish_device_event"))
		return
	}
	if action != events.Removed && !device.Attached() {
		c.logger.WithFields(logrus.Fields{
			"address": device.Address(),
			"action":  action,
		}).Warn("Device handle is detached, event dropped")
		return
	}

	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"address": device.Address(),
		"action":  action,
	}).Debug("Publishing device event")

	for _, o := range c.observers.Snapshot() {
		if ob, ok := o.(events.DeviceObserver); ok {
			c.deliver("device_event", o, func() { ob.HandleDeviceEvent(device, action, data) })
		}
	}
}

// deliver calls one observer; a panic is reported and does not stop the pass
func (c *Coordinator) deliver(op string, o any, call func()) {
	err := errhandler.Run(op, func() error {
		call()
		return nil
	})
	if err != nil {
		c.reporter.Report(errhandler.Wrap(errhandler.NameObserverPanic, fmt.Sprintf("observer %T failed", o), op, err))
	}
}
