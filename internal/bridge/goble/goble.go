// Package goble implements bridge.Bridge on top of a go-ble scanning device.
//
// It is the LE-only fallback for hosts without BlueZ: advertisements stand in
// for discovery and property updates, battery service data for battery
// telemetry. It reports no paired devices and never raises connection or
// pairing callbacks.
package goble

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/btevents/internal/bridge"
	"github.com/srg/btevents/internal/errhandler"
	"github.com/srg/btevents/internal/groutine"
)

// BatteryServiceUUID is the GATT Battery Service; its service data carries
// the level in the first byte.
var BatteryServiceUUID = ble.MustParse("180F")

// DeviceFactory creates the go-ble device for an HCI index (can be
// overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newDevice

// Options configures the bridge
type Options struct {
	HCIID  int
	Logger *logrus.Logger
}

type sighting struct {
	name string
	rssi int
}

// Bridge is the go-ble bridge.Bridge
type Bridge struct {
	*bridge.Delegates

	hciID  int
	logger *logrus.Logger

	mu       sync.RWMutex
	dev      ble.Device
	scanning bool
	seen     map[string]sighting
	cancel   context.CancelFunc
	group    groutine.Group
}

var _ bridge.Bridge = (*Bridge)(nil)

// New creates a closed bridge
func New(opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Bridge{
		Delegates: bridge.NewDelegates(logger),
		hciID:     opts.HCIID,
		logger:    logger,
		seen:      make(map[string]sighting),
	}
}

// Open creates the device and starts a duplicate-reporting scan that runs
// until Close.
func (b *Bridge) Open(ctx context.Context) error {
	b.mu.Lock()
	if b.dev != nil {
		b.mu.Unlock()
		return nil
	}

	dev, err := DeviceFactory(b.hciID)
	if err != nil {
		b.mu.Unlock()
		return normalizeError(err)
	}

	scanCtx, cancel := context.WithCancel(context.Background())
	b.dev = dev
	b.cancel = cancel
	b.scanning = true
	b.seen = make(map[string]sighting)
	b.mu.Unlock()

	b.group.Go(scanCtx, "goble-scan", func(ctx context.Context) {
		b.scan(ctx, dev)
	})

	b.logger.WithField("hci", b.hciID).Info("go-ble bridge opened")
	b.NotifyInquiryStateChanged(bridge.InquiryInquiring)
	return nil
}

func (b *Bridge) scan(ctx context.Context, dev ble.Device) {
	err := dev.Scan(ctx, true, b.handleAdvertisement)

	b.mu.Lock()
	b.scanning = false
	b.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		b.logger.WithError(normalizeError(err)).Error("Scan stopped")
	}
	b.NotifyInquiryStateChanged(bridge.InquiryIdle)
}

// Close stops scanning and releases the device
func (b *Bridge) Close() error {
	b.mu.Lock()
	dev, cancel := b.dev, b.cancel
	b.dev, b.cancel = nil, nil
	b.mu.Unlock()

	if dev == nil {
		return nil
	}

	cancel()
	b.group.Wait()

	if err := dev.Stop(); err != nil {
		return normalizeError(err)
	}
	b.logger.WithField("hci", b.hciID).Info("go-ble bridge closed")
	return nil
}

// handleAdvertisement turns an advertisement into discovered, updated and
// battery callbacks. Repeated advertisements with the same name and RSSI are
// not reported again.
func (b *Bridge) handleAdvertisement(adv ble.Advertisement) {
	if adv == nil || adv.Addr() == nil {
		return
	}
	addr, err := bridge.NormalizeAddress(adv.Addr().String())
	if err != nil {
		b.logger.WithError(err).Debug("Advertisement without usable address ignored")
		return
	}

	current := sighting{name: adv.LocalName(), rssi: adv.RSSI()}
	info := bridge.NewPeerInfo(addr).With(bridge.KeyRSSI, current.rssi)

	b.mu.Lock()
	prev, known := b.seen[addr]
	if current.name == "" {
		current.name = prev.name
	}
	b.seen[addr] = current
	b.mu.Unlock()

	if current.name != "" {
		info[bridge.KeyName] = current.name
	}

	switch {
	case !known:
		b.NotifyPeerDiscovered(info)
	case prev != current:
		b.NotifyPeerUpdated(info)
	}

	for _, sd := range adv.ServiceData() {
		if !sd.UUID.Equal(BatteryServiceUUID) || len(sd.Data) == 0 {
			continue
		}
		b.NotifyBatteryChanged(info, bridge.BatterySingle, int(sd.Data[0]))
	}
}

// HostControllerAddress returns the local address when the platform device
// exposes one, otherwise "".
func (b *Bridge) HostControllerAddress() (string, error) {
	b.mu.RLock()
	dev := b.dev
	b.mu.RUnlock()
	if dev == nil {
		return "", errhandler.CreateError(errhandler.NameBridgeUnavailable, "bridge is not open", "host_controller_address")
	}

	withAddr, ok := dev.(interface{ Address() ble.Addr })
	if !ok || withAddr.Address() == nil {
		return "", nil
	}
	return bridge.NormalizeAddress(withAddr.Address().String())
}

// AdapterFlags reports Powered while open and Discovering while scanning
func (b *Bridge) AdapterFlags() (bridge.AdapterFlags, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.dev == nil {
		return bridge.AdapterFlags{}, errhandler.CreateError(errhandler.NameBridgeUnavailable, "bridge is not open", "adapter_flags")
	}
	return bridge.AdapterFlags{Powered: true, Discovering: b.scanning}, nil
}

// PairedDevices is always empty: go-ble has no bonding database
func (b *Bridge) PairedDevices() ([]bridge.PeerInfo, error) {
	return []bridge.PeerInfo{}, nil
}

func (b *Bridge) PermissionStatus() (bridge.PermissionStatus, error) {
	return permissionStatus(), nil
}

func (b *Bridge) AddDelegate(d any) bool {
	return b.Delegates.Add(d)
}

func (b *Bridge) RemoveDelegate(d any) bool {
	return b.Delegates.Remove(d)
}

// normalizeError maps go-ble failures onto the pipeline's error names
func normalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case isPermissionError(err), strings.Contains(msg, "operation not permitted"), strings.Contains(msg, "unauthorized"):
		return errhandler.Wrap(errhandler.NamePermissionDenied, "bluetooth access refused", "goble_open", err)
	case strings.Contains(msg, "is bluetooth turned on"), strings.Contains(msg, "bluetooth is turned off"):
		return errhandler.Wrap(errhandler.NameBridgeUnavailable, "bluetooth is turned off", "goble_open", err)
	}
	return errhandler.Wrap(errhandler.NameBridgeUnavailable, "go-ble device unavailable", "goble_open", err)
}
