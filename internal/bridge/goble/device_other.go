//go:build !linux && !darwin

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
	"github.com/srg/btevents/internal/bridge"
)

func newDevice(_ int) (ble.Device, error) {
	return nil, fmt.Errorf("go-ble has no device implementation for %s", runtime.GOOS)
}

func permissionStatus() bridge.PermissionStatus {
	return bridge.PermissionUnsupported
}

func isPermissionError(error) bool {
	return false
}
