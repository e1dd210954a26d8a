package testutils

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/btevents/internal/bridge"
)

// FakeBridge is a scriptable bridge.Bridge. Tests configure its answers
// through the exported fields (guarded by Lock/Unlock when changed while the
// pipeline runs) and raise raw callbacks with the emitter methods.
type FakeBridge struct {
	*bridge.Delegates

	mu sync.Mutex

	Address    string
	Flags      bridge.AdapterFlags
	Paired     []bridge.PeerInfo
	Permission bridge.PermissionStatus

	OpenErr       error
	CloseErr      error
	AddressErr    error
	FlagsErr      error
	PairedErr     error
	PermissionErr error

	OpenCalls  int
	CloseCalls int
	opened     bool
}

var _ bridge.Bridge = (*FakeBridge)(nil)

// NewFakeBridge returns a powered, authorized bridge with no paired devices
func NewFakeBridge(logger *logrus.Logger) *FakeBridge {
	return &FakeBridge{
		Delegates:  bridge.NewDelegates(logger),
		Address:    "00:1A:7D:DA:71:13",
		Flags:      bridge.AdapterFlags{Powered: true, Pairable: true},
		Permission: bridge.PermissionAuthorized,
	}
}

func (b *FakeBridge) Lock()   { b.mu.Lock() }
func (b *FakeBridge) Unlock() { b.mu.Unlock() }

func (b *FakeBridge) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.OpenCalls++
	if b.OpenErr != nil {
		return b.OpenErr
	}
	b.opened = true
	return nil
}

func (b *FakeBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CloseCalls++
	b.opened = false
	return b.CloseErr
}

// IsOpen reports whether Open succeeded and Close was not called since
func (b *FakeBridge) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}

func (b *FakeBridge) HostControllerAddress() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Address, b.AddressErr
}

func (b *FakeBridge) AdapterFlags() (bridge.AdapterFlags, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Flags, b.FlagsErr
}

func (b *FakeBridge) PairedDevices() ([]bridge.PeerInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PairedErr != nil {
		return nil, b.PairedErr
	}
	out := make([]bridge.PeerInfo, len(b.Paired))
	copy(out, b.Paired)
	return out, nil
}

func (b *FakeBridge) PermissionStatus() (bridge.PermissionStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Permission, b.PermissionErr
}

func (b *FakeBridge) AddDelegate(d any) bool    { return b.Delegates.Add(d) }
func (b *FakeBridge) RemoveDelegate(d any) bool { return b.Delegates.Remove(d) }

// SetFlags changes the adapter flags without notifying delegates, as a
// driver whose change is only visible to polling would.
func (b *FakeBridge) SetFlags(f bridge.AdapterFlags) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Flags = f
}

// ChangeFlags changes the adapter flags and raises AdapterStateChanged
func (b *FakeBridge) ChangeFlags(f bridge.AdapterFlags) {
	b.SetFlags(f)
	b.NotifyAdapterStateChanged()
}

func (b *FakeBridge) Discovered(info bridge.PeerInfo) { b.NotifyPeerDiscovered(info) }
func (b *FakeBridge) Updated(info bridge.PeerInfo)    { b.NotifyPeerUpdated(info) }
func (b *FakeBridge) Unpaired(info bridge.PeerInfo)   { b.NotifyPeerUnpaired(info) }

func (b *FakeBridge) Connected(info bridge.PeerInfo) {
	b.NotifyPeerConnected(info, 0)
}

func (b *FakeBridge) Disconnected(info bridge.PeerInfo) {
	b.NotifyPeerDisconnected(info, 0)
}

func (b *FakeBridge) PairingCompleted(info bridge.PeerInfo) {
	b.NotifyPeerPairingCompleted(info, 0)
}

func (b *FakeBridge) Battery(info bridge.PeerInfo, kind bridge.BatteryKind, percent int) {
	b.NotifyBatteryChanged(info, kind, percent)
}

func (b *FakeBridge) Inquiry(state bridge.InquiryState) {
	b.mu.Lock()
	b.Flags.Discovering = state.Discovering()
	b.mu.Unlock()
	b.NotifyInquiryStateChanged(state)
}
