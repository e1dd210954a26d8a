package testutils

import (
	"fmt"
	"sync"

	"github.com/srg/btevents/internal/bridge"
)

// RawCall is one raw callback captured by RawRecorder
type RawCall struct {
	Method  string
	Info    bridge.PeerInfo
	Code    bridge.ErrorCode
	Inquiry bridge.InquiryState
	Kind    bridge.BatteryKind
	Percent int
}

// String renders the call as "Method ADDRESS", or just the method for
// adapter-level callbacks.
func (c RawCall) String() string {
	if c.Info == nil {
		return c.Method
	}
	addr, _ := c.Info.Address()
	return fmt.Sprintf("%s %s", c.Method, addr)
}

// RawRecorder implements every raw bridge delegate interface and records the
// calls it receives, so bridge implementations can be tested without the
// event pipeline.
type RawRecorder struct {
	mu    sync.Mutex
	calls []RawCall
}

var (
	_ bridge.PeerDelegate    = (*RawRecorder)(nil)
	_ bridge.InquiryDelegate = (*RawRecorder)(nil)
	_ bridge.AdapterDelegate = (*RawRecorder)(nil)
	_ bridge.BatteryDelegate = (*RawRecorder)(nil)
)

func (r *RawRecorder) record(c RawCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *RawRecorder) PeerDiscovered(info bridge.PeerInfo) {
	r.record(RawCall{Method: "PeerDiscovered", Info: info})
}

func (r *RawRecorder) PeerUpdated(info bridge.PeerInfo) {
	r.record(RawCall{Method: "PeerUpdated", Info: info})
}

func (r *RawRecorder) PeerConnected(info bridge.PeerInfo, code bridge.ErrorCode) {
	r.record(RawCall{Method: "PeerConnected", Info: info, Code: code})
}

func (r *RawRecorder) PeerDisconnected(info bridge.PeerInfo, code bridge.ErrorCode) {
	r.record(RawCall{Method: "PeerDisconnected", Info: info, Code: code})
}

func (r *RawRecorder) PeerUnpaired(info bridge.PeerInfo) {
	r.record(RawCall{Method: "PeerUnpaired", Info: info})
}

func (r *RawRecorder) PeerPairingCompleted(info bridge.PeerInfo, code bridge.ErrorCode) {
	r.record(RawCall{Method: "PeerPairingCompleted", Info: info, Code: code})
}

func (r *RawRecorder) InquiryStateChanged(state bridge.InquiryState) {
	r.record(RawCall{Method: "InquiryStateChanged", Inquiry: state})
}

func (r *RawRecorder) AdapterStateChanged() {
	r.record(RawCall{Method: "AdapterStateChanged"})
}

func (r *RawRecorder) BatteryChanged(info bridge.PeerInfo, kind bridge.BatteryKind, percent int) {
	r.record(RawCall{Method: "BatteryChanged", Info: info, Kind: kind, Percent: percent})
}

// Calls returns a copy of the recorded calls
func (r *RawRecorder) Calls() []RawCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RawCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// Methods returns the String form of every recorded call
func (r *RawRecorder) Methods() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// Reset forgets recorded calls
func (r *RawRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
