package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/srg/btevents/internal/peer"
)

// Kind tells adapter and device envelopes apart
type Kind string

const (
	KindAdapter Kind = "adapter"
	KindDevice  Kind = "device"
)

// Envelope is the serialized form of one published event
type Envelope struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"ts"`

	Adapter *AdapterState `json:"adapter,omitempty"`

	Action  Action            `json:"action,omitempty"`
	Device  *peer.Snapshot    `json:"device,omitempty"`
	Battery *peer.BatteryInfo `json:"battery,omitempty"`
}

// NewAdapterEnvelope wraps an adapter state change
func NewAdapterEnvelope(ts time.Time, state AdapterState) Envelope {
	return Envelope{
		Kind:      KindAdapter,
		Timestamp: ts,
		Adapter:   &state,
	}
}

// NewDeviceEnvelope wraps a device event. The battery section is included
// only when it carries a delivered change.
func NewDeviceEnvelope(ts time.Time, device *peer.Device, action Action, data DeviceEventData) Envelope {
	env := Envelope{
		Kind:      KindDevice,
		Timestamp: ts,
		Action:    action,
	}
	if device != nil {
		snap := device.Snapshot()
		env.Device = &snap
	}
	if data.Battery.Modified {
		b := data.Battery
		env.Battery = &b
	}
	return env
}

// MarshalLine encodes the envelope as a single JSON line with a trailing newline
func (e Envelope) MarshalLine() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", e.Kind, err)
	}
	return append(b, '\n'), nil
}

// String renders a short human readable description
func (e Envelope) String() string {
	switch e.Kind {
	case KindAdapter:
		if e.Adapter == nil {
			return "adapter"
		}
		a := e.Adapter
		return fmt.Sprintf("adapter %s powered=%t discoverable=%t discovering=%t pairable=%t",
			orDash(a.Address), a.Powered, a.Discoverable, a.Discovering, a.Pairable)
	case KindDevice:
		if e.Device == nil {
			return fmt.Sprintf("device %s", e.Action)
		}
		s := fmt.Sprintf("device %s %s", e.Action, e.Device.Address)
		if e.Device.Name != "" {
			s += fmt.Sprintf(" %q", e.Device.Name)
		}
		if e.Battery != nil {
			s += " battery=" + e.Battery.String()
		}
		return s
	default:
		return string(e.Kind)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
