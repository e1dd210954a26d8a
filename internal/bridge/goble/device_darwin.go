//go:build darwin

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
	"github.com/srg/btevents/internal/bridge"
)

func newDevice(_ int) (ble.Device, error) {
	return darwin.NewDevice()
}

// CoreBluetooth prompts on first use; the process is treated as authorized
// and a refusal surfaces from Open.
func permissionStatus() bridge.PermissionStatus {
	return bridge.PermissionAuthorized
}

func isPermissionError(error) bool {
	return false
}
