// Package events defines the normalized events delivered to observers.
package events

import (
	"fmt"
	"strings"

	"github.com/srg/btevents/internal/peer"
)

// Action is the normalized effect of a burst of raw device callbacks
type Action int

const (
	Added   Action = 1
	Updated Action = 2
	Removed Action = 3
)

func (a Action) String() string {
	switch a {
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("unknown(%d)", int(a))
	}
}

// Valid reports whether a is one of the three normalized actions
func (a Action) Valid() bool {
	return a >= Added && a <= Removed
}

func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("invalid action %d", int(a))
	}
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "added":
		*a = Added
	case "updated":
		*a = Updated
	case "removed":
		*a = Removed
	default:
		return fmt.Errorf("invalid action %q", string(b))
	}
	return nil
}

// AdapterState is the snapshot of the local controller published on change
type AdapterState struct {
	Address      string `json:"address,omitempty"`
	Powered      bool   `json:"powered"`
	Discoverable bool   `json:"discoverable"`
	Discovering  bool   `json:"discovering"`
	Pairable     bool   `json:"pairable"`
}

// DeviceEventData accompanies a device event. Battery.Modified is set only
// when the readings changed since the last delivered event.
type DeviceEventData struct {
	Battery peer.BatteryInfo `json:"battery"`
}

// AdapterObserver handles adapter state changes
type AdapterObserver interface {
	HandleAdapterEvent(state AdapterState)
}

// DeviceObserver handles normalized device events. The device of a Removed
// event is already detached; its Snapshot returns the last known state.
type DeviceObserver interface {
	HandleDeviceEvent(device *peer.Device, action Action, data DeviceEventData)
}

// Publisher is the sink the producing components deliver to
type Publisher interface {
	PublishAdapterEvent(state AdapterState)
	PublishDeviceEvent(device *peer.Device, action Action, data DeviceEventData)
}

// Gate is implemented by publishers that drop events until they are ready
type Gate interface {
	Ready() bool
}

// Accepting reports whether p currently delivers events. Publishers without
// a Gate always do.
func Accepting(p Publisher) bool {
	g, ok := p.(Gate)
	return !ok || g.Ready()
}

// IsObserver reports whether o handles at least one event kind
func IsObserver(o any) bool {
	switch o.(type) {
	case AdapterObserver, DeviceObserver:
		return true
	}
	return false
}
