package bridge

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/btevents/internal/errhandler"
	"github.com/srg/btevents/internal/registry"
)

// Delegates is the raw delegate registry and dispatcher bridge
// implementations embed. Each Notify* call delivers to every registered
// delegate implementing the matching callback interface, in registration
// order. A panicking delegate is recovered and reported so the native
// callback context keeps running.
type Delegates struct {
	set      *registry.Set
	reporter *errhandler.Reporter
}

// NewDelegates creates an empty dispatcher
func NewDelegates(logger *logrus.Logger) *Delegates {
	return &Delegates{
		set:      registry.New(),
		reporter: errhandler.NewReporter(logger),
	}
}

// Add registers d if it implements at least one callback interface
func (ds *Delegates) Add(d any) bool {
	if !isDelegate(d) {
		return false
	}
	changed, err := ds.set.Add(d)
	if err != nil {
		ds.reporter.Report(errhandler.Wrap(errhandler.NameInvalidObserver, "delegate rejected", "add_delegate", err))
		return false
	}
	return changed
}

// Remove unregisters d
func (ds *Delegates) Remove(d any) bool {
	return ds.set.Remove(d)
}

// Len returns the number of registered delegates
func (ds *Delegates) Len() int {
	return ds.set.Len()
}

func isDelegate(d any) bool {
	switch d.(type) {
	case PeerDelegate, InquiryDelegate, AdapterDelegate, BatteryDelegate:
		return true
	}
	return false
}

func (ds *Delegates) NotifyPeerDiscovered(info PeerInfo) {
	for _, d := range registry.Snapshot[PeerDelegate](ds.set) {
		ds.reporter.Go("peer_discovered", func() error { d.PeerDiscovered(info); return nil })
	}
}

func (ds *Delegates) NotifyPeerUpdated(info PeerInfo) {
	for _, d := range registry.Snapshot[PeerDelegate](ds.set) {
		ds.reporter.Go("peer_updated", func() error { d.PeerUpdated(info); return nil })
	}
}

func (ds *Delegates) NotifyPeerConnected(info PeerInfo, code ErrorCode) {
	for _, d := range registry.Snapshot[PeerDelegate](ds.set) {
		ds.reporter.Go("peer_connected", func() error { d.PeerConnected(info, code); return nil })
	}
}

func (ds *Delegates) NotifyPeerDisconnected(info PeerInfo, code ErrorCode) {
	for _, d := range registry.Snapshot[PeerDelegate](ds.set) {
		ds.reporter.Go("peer_disconnected", func() error { d.PeerDisconnected(info, code); return nil })
	}
}

func (ds *Delegates) NotifyPeerUnpaired(info PeerInfo) {
	for _, d := range registry.Snapshot[PeerDelegate](ds.set) {
		ds.reporter.Go("peer_unpaired", func() error { d.PeerUnpaired(info); return nil })
	}
}

func (ds *Delegates) NotifyPeerPairingCompleted(info PeerInfo, code ErrorCode) {
	for _, d := range registry.Snapshot[PeerDelegate](ds.set) {
		ds.reporter.Go("peer_pairing_completed", func() error { d.PeerPairingCompleted(info, code); return nil })
	}
}

func (ds *Delegates) NotifyInquiryStateChanged(state InquiryState) {
	for _, d := range registry.Snapshot[InquiryDelegate](ds.set) {
		ds.reporter.Go("inquiry_state_changed", func() error { d.InquiryStateChanged(state); return nil })
	}
}

func (ds *Delegates) NotifyAdapterStateChanged() {
	for _, d := range registry.Snapshot[AdapterDelegate](ds.set) {
		ds.reporter.Go("adapter_state_changed", func() error { d.AdapterStateChanged(); return nil })
	}
}

func (ds *Delegates) NotifyBatteryChanged(info PeerInfo, kind BatteryKind, percent int) {
	for _, d := range registry.Snapshot[BatteryDelegate](ds.set) {
		ds.reporter.Go("battery_changed", func() error { d.BatteryChanged(info, kind, percent); return nil })
	}
}
