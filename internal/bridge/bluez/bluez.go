// Package bluez implements bridge.Bridge on top of the BlueZ D-Bus API.
//
// The object tree is read once with GetManagedObjects and then kept current
// from InterfacesAdded, InterfacesRemoved and PropertiesChanged signals.
// Queries are answered from that cache; signals are translated into raw
// delegate callbacks.
package bluez

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/btevents/internal/bridge"
	"github.com/srg/btevents/internal/errhandler"
	"github.com/srg/btevents/internal/groutine"
)

const (
	service            = "org.bluez"
	adapterIface       = "org.bluez.Adapter1"
	deviceIface        = "org.bluez.Device1"
	batteryIface       = "org.bluez.Battery1"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
	propertiesIface    = "org.freedesktop.DBus.Properties"

	signalBuffer = 64
)

// ManagedObjects is the reply of ObjectManager.GetManagedObjects
type ManagedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Options configures the bridge
type Options struct {
	// HCIID selects the adapter, /org/bluez/hci<HCIID>
	HCIID  int
	Logger *logrus.Logger
	// Dial opens the bus connection; defaults to dbus.ConnectSystemBus
	Dial func() (*dbus.Conn, error)
}

// Bridge is the BlueZ bridge.Bridge
type Bridge struct {
	*bridge.Delegates

	adapterPath dbus.ObjectPath
	dial        func() (*dbus.Conn, error)
	logger      *logrus.Logger

	mu      sync.RWMutex
	loaded  bool
	adapter map[string]dbus.Variant
	devices map[dbus.ObjectPath]map[string]dbus.Variant
	battery map[dbus.ObjectPath]int

	conn    *dbus.Conn
	signals chan *dbus.Signal
	cancel  context.CancelFunc
	group   groutine.Group
}

var _ bridge.Bridge = (*Bridge)(nil)

// New creates a closed bridge
func New(opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	dial := opts.Dial
	if dial == nil {
		dial = func() (*dbus.Conn, error) { return dbus.ConnectSystemBus() }
	}
	return &Bridge{
		Delegates:   bridge.NewDelegates(logger),
		adapterPath: dbus.ObjectPath(fmt.Sprintf("/org/bluez/hci%d", opts.HCIID)),
		dial:        dial,
		logger:      logger,
		devices:     make(map[dbus.ObjectPath]map[string]dbus.Variant),
		battery:     make(map[dbus.ObjectPath]int),
	}
}

// AdapterPath returns the object path of the selected adapter
func (b *Bridge) AdapterPath() dbus.ObjectPath {
	return b.adapterPath
}

// Open connects to the system bus, loads the object tree and subscribes to
// BlueZ signals.
func (b *Bridge) Open(ctx context.Context) error {
	b.mu.Lock()
	if b.conn != nil {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	conn, err := b.dial()
	if err != nil {
		return errhandler.Wrap(errhandler.NameBridgeUnavailable, "system bus unavailable", "bluez_open", err)
	}

	var objects ManagedObjects
	if err := conn.Object(service, "/").CallWithContext(ctx, objectManagerIface+".GetManagedObjects", 0).Store(&objects); err != nil {
		_ = conn.Close()
		return openError(err)
	}

	if err := b.load(objects); err != nil {
		_ = conn.Close()
		return err
	}

	if err := subscribe(conn); err != nil {
		_ = conn.Close()
		return errhandler.Wrap(errhandler.NameBridgeUnavailable, "failed to subscribe to bluez signals", "bluez_open", err)
	}

	signals := make(chan *dbus.Signal, signalBuffer)
	conn.Signal(signals)

	listenCtx, cancel := context.WithCancel(context.Background())

	b.mu.Lock()
	b.conn = conn
	b.signals = signals
	b.cancel = cancel
	b.mu.Unlock()

	b.group.Go(listenCtx, "bluez-signals", func(ctx context.Context) {
		b.listen(ctx, signals)
	})

	b.logger.WithFields(logrus.Fields{
		"adapter": b.adapterPath,
		"devices": b.deviceCount(),
	}).Info("BlueZ bridge opened")
	return nil
}

func subscribe(conn *dbus.Conn) error {
	rules := [][]dbus.MatchOption{
		{dbus.WithMatchSender(service), dbus.WithMatchInterface(objectManagerIface), dbus.WithMatchMember("InterfacesAdded")},
		{dbus.WithMatchSender(service), dbus.WithMatchInterface(objectManagerIface), dbus.WithMatchMember("InterfacesRemoved")},
		{dbus.WithMatchSender(service), dbus.WithMatchInterface(propertiesIface), dbus.WithMatchMember("PropertiesChanged")},
	}
	for _, rule := range rules {
		if err := conn.AddMatchSignal(rule...); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) listen(ctx context.Context, signals <-chan *dbus.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			b.handleSignal(sig)
		}
	}
}

// Close unsubscribes and closes the bus connection
func (b *Bridge) Close() error {
	b.mu.Lock()
	conn, signals, cancel := b.conn, b.signals, b.cancel
	b.conn, b.signals, b.cancel = nil, nil, nil
	b.loaded = false
	b.mu.Unlock()

	if conn == nil {
		return nil
	}

	cancel()
	conn.RemoveSignal(signals)
	b.group.Wait()

	if err := conn.Close(); err != nil {
		return fmt.Errorf("failed to close system bus connection: %w", err)
	}
	b.logger.WithField("adapter", b.adapterPath).Info("BlueZ bridge closed")
	return nil
}

// load replaces the cached object tree with objects
func (b *Bridge) load(objects ManagedObjects) error {
	ifaces, ok := objects[b.adapterPath]
	if !ok || ifaces[adapterIface] == nil {
		return errhandler.CreateError(errhandler.NameBridgeUnavailable,
			fmt.Sprintf("adapter %s not found", b.adapterPath), "bluez_open")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.adapter = copyProps(ifaces[adapterIface])
	b.devices = make(map[dbus.ObjectPath]map[string]dbus.Variant)
	b.battery = make(map[dbus.ObjectPath]int)
	for path, ifaces := range objects {
		if !b.ownsDevice(path) {
			continue
		}
		if props, ok := ifaces[deviceIface]; ok {
			b.devices[path] = copyProps(props)
		}
		if props, ok := ifaces[batteryIface]; ok {
			if pct, ok := percentage(props); ok {
				b.battery[path] = pct
			}
		}
	}
	b.loaded = true
	return nil
}

func (b *Bridge) ownsDevice(path dbus.ObjectPath) bool {
	return strings.HasPrefix(string(path), string(b.adapterPath)+"/")
}

func (b *Bridge) deviceCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.devices)
}

func (b *Bridge) HostControllerAddress() (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.loaded {
		return "", errhandler.CreateError(errhandler.NameBridgeUnavailable, "bridge is not open", "host_controller_address")
	}
	addr, _ := b.adapter["Address"].Value().(string)
	if addr == "" {
		return "", nil
	}
	return bridge.NormalizeAddress(addr)
}

func (b *Bridge) AdapterFlags() (bridge.AdapterFlags, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.loaded {
		return bridge.AdapterFlags{}, errhandler.CreateError(errhandler.NameBridgeUnavailable, "bridge is not open", "adapter_flags")
	}
	return bridge.AdapterFlags{
		Powered:      boolProp(b.adapter, "Powered"),
		Discoverable: boolProp(b.adapter, "Discoverable"),
		Discovering:  boolProp(b.adapter, "Discovering"),
		Pairable:     boolProp(b.adapter, "Pairable"),
	}, nil
}

// PairedDevices returns the paired devices of the adapter ordered by address
func (b *Bridge) PairedDevices() ([]bridge.PeerInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.loaded {
		return nil, errhandler.CreateError(errhandler.NameBridgeUnavailable, "bridge is not open", "paired_devices")
	}

	var out []bridge.PeerInfo
	for _, props := range b.devices {
		if !boolProp(props, "Paired") {
			continue
		}
		if info, ok := peerInfo(props); ok {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i][bridge.KeyAddress].(string) < out[j][bridge.KeyAddress].(string)
	})
	return out, nil
}

// PermissionStatus reports Authorized while open. A closed bridge probes the
// bus: access denied maps to Denied, a missing BlueZ service to Unsupported.
func (b *Bridge) PermissionStatus() (bridge.PermissionStatus, error) {
	b.mu.RLock()
	open := b.conn != nil
	b.mu.RUnlock()
	if open {
		return bridge.PermissionAuthorized, nil
	}

	conn, err := b.dial()
	if err != nil {
		return bridge.PermissionUnsupported, nil
	}
	defer conn.Close()

	call := conn.Object(service, "/").Call(objectManagerIface+".GetManagedObjects", 0)
	return permissionFor(call.Err)
}

// AddDelegate registers a raw delegate
func (b *Bridge) AddDelegate(d any) bool {
	return b.Delegates.Add(d)
}

// RemoveDelegate unregisters a raw delegate
func (b *Bridge) RemoveDelegate(d any) bool {
	return b.Delegates.Remove(d)
}

func copyProps(props map[string]dbus.Variant) map[string]dbus.Variant {
	cp := make(map[string]dbus.Variant, len(props))
	for k, v := range props {
		cp[k] = v
	}
	return cp
}

func boolProp(props map[string]dbus.Variant, key string) bool {
	v, ok := props[key]
	if !ok {
		return false
	}
	b, _ := v.Value().(bool)
	return b
}
