//go:build linux

package goble

import (
	"errors"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/srg/btevents/internal/bridge"
	"golang.org/x/sys/unix"
)

func newDevice(hciID int) (ble.Device, error) {
	return linux.NewDevice(ble.OptDeviceID(hciID))
}

// permissionStatus reports Authorized for root; raw HCI sockets need it, and
// capability grants cannot be checked without opening the socket.
func permissionStatus() bridge.PermissionStatus {
	if unix.Geteuid() == 0 {
		return bridge.PermissionAuthorized
	}
	return bridge.PermissionNotDetermined
}

func isPermissionError(err error) bool {
	return errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES)
}
