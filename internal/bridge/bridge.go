// Package bridge defines the contract of the native Bluetooth stack the event
// pipeline consumes: adapter state queries, paired-device enumeration,
// permission status, and the raw delegate callback surface.
//
// Implementations live in subpackages (bluez, goble). The pipeline never
// talks to a radio directly.
package bridge

import (
	"context"
	"fmt"
)

// PermissionStatus is the authorization state of the process with respect to
// the Bluetooth stack.
type PermissionStatus int

const (
	PermissionNotDetermined PermissionStatus = iota
	PermissionAuthorized
	PermissionDenied
	PermissionRestricted
	PermissionUnsupported
)

func (s PermissionStatus) String() string {
	switch s {
	case PermissionNotDetermined:
		return "not-determined"
	case PermissionAuthorized:
		return "authorized"
	case PermissionDenied:
		return "denied"
	case PermissionRestricted:
		return "restricted"
	case PermissionUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText renders the status as its string form
func (s PermissionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// InquiryState is the device inquiry (classic discovery) state of the adapter.
type InquiryState int

const (
	InquiryIdle InquiryState = iota
	InquiryInquiring
	InquiryUpdating
)

func (s InquiryState) String() string {
	switch s {
	case InquiryIdle:
		return "idle"
	case InquiryInquiring:
		return "inquiring"
	case InquiryUpdating:
		return "updating"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Discovering reports whether the state means a scan is running
func (s InquiryState) Discovering() bool {
	return s == InquiryInquiring || s == InquiryUpdating
}

// ErrorCode is the status code attached to connect, disconnect and pairing
// callbacks. Zero means success.
type ErrorCode int

// OK reports whether the code denotes success
func (c ErrorCode) OK() bool {
	return c == 0
}

// AdapterFlags is a point-in-time reading of the local adapter.
type AdapterFlags struct {
	Powered      bool
	Discoverable bool
	Discovering  bool
	Pairable     bool
}

// BatteryKind selects one of the battery readings a peer can report.
type BatteryKind int

const (
	BatterySingle BatteryKind = iota
	BatteryCombined
	BatteryLeft
	BatteryRight
)

func (k BatteryKind) String() string {
	switch k {
	case BatterySingle:
		return "single"
	case BatteryCombined:
		return "combined"
	case BatteryLeft:
		return "left"
	case BatteryRight:
		return "right"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Bridge is the native stack as seen by the pipeline.
//
// Calls other than AddDelegate/RemoveDelegate may block on the driver and
// are not retried by callers.
type Bridge interface {
	// Open checks that the stack is usable and starts raw callback delivery.
	Open(ctx context.Context) error
	// Close stops callback delivery and releases native resources.
	Close() error

	HostControllerAddress() (string, error)
	AdapterFlags() (AdapterFlags, error)
	PairedDevices() ([]PeerInfo, error)
	PermissionStatus() (PermissionStatus, error)

	// AddDelegate registers a raw delegate. The delegate is asked for the
	// callback interfaces it implements (PeerDelegate, InquiryDelegate,
	// AdapterDelegate, BatteryDelegate); it reports false if d implements none.
	AddDelegate(d any) bool
	RemoveDelegate(d any) bool
}

// PeerDelegate receives per-device callbacks
type PeerDelegate interface {
	PeerDiscovered(info PeerInfo)
	PeerUpdated(info PeerInfo)
	PeerConnected(info PeerInfo, code ErrorCode)
	PeerDisconnected(info PeerInfo, code ErrorCode)
	PeerUnpaired(info PeerInfo)
	PeerPairingCompleted(info PeerInfo, code ErrorCode)
}

// InquiryDelegate receives inquiry state changes
type InquiryDelegate interface {
	InquiryStateChanged(state InquiryState)
}

// AdapterDelegate is told that adapter flags may have changed; it reads them
// back through Bridge.AdapterFlags.
type AdapterDelegate interface {
	AdapterStateChanged()
}

// BatteryDelegate receives battery telemetry for a peer
type BatteryDelegate interface {
	BatteryChanged(info PeerInfo, kind BatteryKind, percent int)
}
