// Package btshim is the call surface outside callers use: it initializes the
// process-wide coordinator, answers adapter and permission queries, and
// resolves and releases device handles by address.
//
// Every call returns an explicit (value, error) pair or a zero value; none
// panics on a missing or failed coordinator.
package btshim

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/btevents/internal/bridge"
	"github.com/srg/btevents/internal/bridge/bluez"
	"github.com/srg/btevents/internal/bridge/goble"
	"github.com/srg/btevents/internal/coordinator"
	"github.com/srg/btevents/internal/errhandler"
	"github.com/srg/btevents/internal/events"
	"github.com/srg/btevents/internal/peer"
	"github.com/srg/btevents/pkg/config"
)

// NewBridge creates the bridge selected by cfg.Bridge
func NewBridge(cfg *config.Config, logger *logrus.Logger) (bridge.Bridge, error) {
	switch cfg.Bridge {
	case config.BridgeBlueZ:
		return bluez.New(bluez.Options{HCIID: cfg.HCIID, Logger: logger}), nil
	case config.BridgeGoBLE:
		return goble.New(goble.Options{HCIID: cfg.HCIID, Logger: logger}), nil
	default:
		return nil, fmt.Errorf("unknown bridge %q", cfg.Bridge)
	}
}

// CoordinatorOptions maps cfg onto coordinator options
func CoordinatorOptions(cfg *config.Config, logger *logrus.Logger) coordinator.Options {
	return coordinator.Options{
		Debounce:     cfg.Debounce,
		PollInterval: cfg.AdapterPollInterval,
		Logger:       logger,
	}
}

// Configure creates the shared coordinator on b. It returns the existing
// coordinator, unchanged, when one was already set up.
func Configure(b bridge.Bridge, opts coordinator.Options) *coordinator.Coordinator {
	return coordinator.Setup(func() *coordinator.Coordinator {
		return coordinator.New(b, opts)
	})
}

// shared returns the configured coordinator, creating one on the default
// BlueZ bridge when nothing was configured.
func shared() *coordinator.Coordinator {
	return coordinator.Setup(func() *coordinator.Coordinator {
		cfg := config.DefaultConfig()
		logger := cfg.NewLogger()
		b := bluez.New(bluez.Options{HCIID: cfg.HCIID, Logger: logger})
		return coordinator.New(b, CoordinatorOptions(cfg, logger))
	})
}

// ready returns the shared coordinator when it publishes events
func ready(op string) (*coordinator.Coordinator, error) {
	c, ok := coordinator.Shared()
	if !ok || !c.Ready() {
		return nil, errhandler.CreateError(errhandler.NameNotInitialized, "coordinator is not initialized", op)
	}
	return c, nil
}

// InitializeCoordinator initializes the shared coordinator. It is a no-op
// once successful; failures are returned as is and not retried.
func InitializeCoordinator(ctx context.Context) error {
	return shared().Initialize(ctx)
}

// Shutdown stops the shared coordinator and forgets it
func Shutdown() error {
	return coordinator.Teardown()
}

// HostControllerAddress returns the local adapter address, or "" when it is
// unknown or the coordinator is not initialized.
func HostControllerAddress() string {
	c, err := ready("host_controller_address")
	if err != nil {
		return ""
	}
	if state, ok := c.AdapterState(); ok && state.Address != "" {
		return state.Address
	}
	addr, err := c.Bridge().HostControllerAddress()
	if err != nil {
		return ""
	}
	return addr
}

// AdapterState returns the last published adapter snapshot; ok is false
// before initialization.
func AdapterState() (state events.AdapterState, ok bool) {
	c, err := ready("adapter_state")
	if err != nil {
		return events.AdapterState{}, false
	}
	return c.AdapterState()
}

// PairedDevices returns live handles for the bridge's paired devices.
// Entries without a usable address are skipped.
func PairedDevices() ([]*peer.Device, error) {
	return errhandler.Call("paired_devices", func() ([]*peer.Device, error) {
		c, err := ready("paired_devices")
		if err != nil {
			return nil, err
		}

		infos, err := c.Bridge().PairedDevices()
		if err != nil {
			return nil, errhandler.Wrap(errhandler.NameOperationFailed, "cannot list paired devices", "paired_devices", err)
		}

		store := c.Store()
		out := make([]*peer.Device, 0, len(infos))
		for _, info := range infos {
			d, ok := liveHandle(store, info)
			if ok {
				out = append(out, d)
			}
		}
		return out, nil
	}).Unwrap()
}

func liveHandle(store *peer.Store, info bridge.PeerInfo) (*peer.Device, bool) {
	p, err := store.PeerFor(info)
	if err != nil {
		return nil, false
	}
	if p.IsOrphan() {
		if p, err = store.Renew(p, info); err != nil {
			return nil, false
		}
	}
	return store.DeviceFor(p)
}

// PermissionStatus reports the process's Bluetooth authorization
func PermissionStatus() (bridge.PermissionStatus, error) {
	return errhandler.Call("permission_status", func() (bridge.PermissionStatus, error) {
		return shared().Bridge().PermissionStatus()
	}).Unwrap()
}

// ResolveKnownDevice returns the live handle for address. known is false for
// unknown, released or malformed addresses.
func ResolveKnownDevice(address string) (device *peer.Device, known bool) {
	c, ok := coordinator.Shared()
	if !ok {
		return nil, false
	}
	addr, err := bridge.NormalizeAddress(address)
	if err != nil {
		return nil, false
	}
	return c.Store().Resolve(addr)
}

// ReleaseDevice orphans the peer behind d. The peer's battery history is kept
// until the peer is purged; d stops resolving.
func ReleaseDevice(d *peer.Device) {
	c, ok := coordinator.Shared()
	if !ok || d == nil {
		return
	}
	store := c.Store()
	if p, ok := store.PeerForDevice(d); ok {
		store.MarkOrphan(p)
	}
}

// AddObserver registers o with the shared coordinator
func AddObserver(o any) (bool, error) {
	return shared().AddObserver(o)
}

// RemoveObserver unregisters o from the shared coordinator
func RemoveObserver(o any) bool {
	c, ok := coordinator.Shared()
	if !ok {
		return false
	}
	return c.RemoveObserver(o)
}
