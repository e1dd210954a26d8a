package bridge

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
)

// Keys understood in a PeerInfo payload
const (
	KeyAddress    = "address"
	KeyIdentifier = "identifier"
	KeyName       = "name"
	KeyClass      = "class"
	KeyRSSI       = "rssi"
	KeyPaired     = "paired"
	KeyConnected  = "connected"
)

// peerNamespace seeds identifiers derived from addresses when the native
// stack does not provide one.
var peerNamespace = uuid.MustParse("9b3c4c3e-6a0f-4d36-8f9e-0f1d2c3b4a59")

// PeerInfo is the identity payload the native stack attaches to every device
// callback. Only the address is required.
type PeerInfo map[string]any

// NewPeerInfo builds a payload for address
func NewPeerInfo(address string) PeerInfo {
	return PeerInfo{KeyAddress: address}
}

// With returns a copy of the payload with key set to value
func (p PeerInfo) With(key string, value any) PeerInfo {
	cp := make(PeerInfo, len(p)+1)
	for k, v := range p {
		cp[k] = v
	}
	cp[key] = value
	return cp
}

// Address returns the normalized (upper-case, colon separated) device
// address. It fails when the payload carries no parseable address.
func (p PeerInfo) Address() (string, error) {
	raw, ok := p[KeyAddress].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("payload has no %q", KeyAddress)
	}
	return NormalizeAddress(raw)
}

// Identifier returns the stable identifier for the peer. A payload without an
// identifier gets one derived from its address, so the same device always
// maps to the same identifier.
func (p PeerInfo) Identifier() (uuid.UUID, error) {
	switch v := p[KeyIdentifier].(type) {
	case uuid.UUID:
		return v, nil
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid %q: %w", KeyIdentifier, err)
		}
		return id, nil
	}

	addr, err := p.Address()
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.NewSHA1(peerNamespace, []byte(addr)), nil
}

// Name returns the device name if present
func (p PeerInfo) Name() (string, bool) {
	v, ok := p[KeyName].(string)
	return v, ok
}

// Class returns the class-of-device if present
func (p PeerInfo) Class() (uint32, bool) {
	switch v := p[KeyClass].(type) {
	case uint32:
		return v, true
	case int:
		return uint32(v), true
	}
	return 0, false
}

// RSSI returns the signal strength if present
func (p PeerInfo) RSSI() (int, bool) {
	switch v := p[KeyRSSI].(type) {
	case int:
		return v, true
	case int16:
		return int(v), true
	}
	return 0, false
}

// Paired returns the pairing flag if present
func (p PeerInfo) Paired() (bool, bool) {
	v, ok := p[KeyPaired].(bool)
	return v, ok
}

// Connected returns the connection flag if present
func (p PeerInfo) Connected() (bool, bool) {
	v, ok := p[KeyConnected].(bool)
	return v, ok
}

// NormalizeAddress parses a Bluetooth device address in any of the forms
// net.ParseMAC accepts ("aa-bb-..", "aabb.ccdd.eeff") and renders it as
// "AA:BB:CC:DD:EE:FF".
func NormalizeAddress(raw string) (string, error) {
	mac, err := net.ParseMAC(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid device address %q: %w", raw, err)
	}
	if len(mac) != 6 {
		return "", fmt.Errorf("invalid device address %q: want 6 octets, got %d", raw, len(mac))
	}
	return strings.ToUpper(mac.String()), nil
}
