package testutils

import (
	"sync"

	"github.com/srg/btevents/internal/events"
	"github.com/srg/btevents/internal/peer"
	"github.com/stretchr/testify/mock"
)

// DeviceEvent is one recorded device notification. Snapshot is taken at
// delivery time.
type DeviceEvent struct {
	Device   *peer.Device
	Action   events.Action
	Data     events.DeviceEventData
	Snapshot peer.Snapshot
}

// RecordingObserver records every event it receives
type RecordingObserver struct {
	mu      sync.Mutex
	adapter []events.AdapterState
	devices []DeviceEvent
}

func NewRecordingObserver() *RecordingObserver {
	return &RecordingObserver{}
}

func (o *RecordingObserver) HandleAdapterEvent(state events.AdapterState) {
	o.mu.Lock()
	o.adapter = append(o.adapter, state)
	o.mu.Unlock()
}

func (o *RecordingObserver) HandleDeviceEvent(device *peer.Device, action events.Action, data events.DeviceEventData) {
	ev := DeviceEvent{Device: device, Action: action, Data: data}
	if device != nil {
		ev.Snapshot = device.Snapshot()
	}
	o.mu.Lock()
	o.devices = append(o.devices, ev)
	o.mu.Unlock()
}

// AdapterEvents returns a copy of the recorded adapter states
func (o *RecordingObserver) AdapterEvents() []events.AdapterState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]events.AdapterState(nil), o.adapter...)
}

// DeviceEvents returns a copy of the recorded device events
func (o *RecordingObserver) DeviceEvents() []DeviceEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]DeviceEvent(nil), o.devices...)
}

// DeviceEventsFor returns the recorded events for address
func (o *RecordingObserver) DeviceEventsFor(address string) []DeviceEvent {
	var out []DeviceEvent
	for _, ev := range o.DeviceEvents() {
		if ev.Snapshot.Address == address {
			out = append(out, ev)
		}
	}
	return out
}

// Actions returns the recorded device actions in delivery order
func (o *RecordingObserver) Actions() []events.Action {
	evs := o.DeviceEvents()
	out := make([]events.Action, len(evs))
	for i, ev := range evs {
		out[i] = ev.Action
	}
	return out
}

func (o *RecordingObserver) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.adapter = nil
	o.devices = nil
}

// DeviceOnlyObserver handles device events and nothing else
type DeviceOnlyObserver struct {
	mu      sync.Mutex
	actions []events.Action
}

func (o *DeviceOnlyObserver) HandleDeviceEvent(_ *peer.Device, action events.Action, _ events.DeviceEventData) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.actions = append(o.actions, action)
}

func (o *DeviceOnlyObserver) Actions() []events.Action {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]events.Action(nil), o.actions...)
}

// AdapterOnlyObserver handles adapter events and nothing else
type AdapterOnlyObserver struct {
	mu     sync.Mutex
	states []events.AdapterState
}

func (o *AdapterOnlyObserver) HandleAdapterEvent(state events.AdapterState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func (o *AdapterOnlyObserver) States() []events.AdapterState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]events.AdapterState(nil), o.states...)
}

// MockObserver is a testify mock implementing both observer interfaces
type MockObserver struct {
	mock.Mock
}

func (m *MockObserver) HandleAdapterEvent(state events.AdapterState) {
	m.Called(state)
}

func (m *MockObserver) HandleDeviceEvent(device *peer.Device, action events.Action, data events.DeviceEventData) {
	m.Called(device, action, data)
}
