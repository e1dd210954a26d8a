package bluez

import (
	"errors"

	"github.com/godbus/dbus/v5"
	"github.com/srg/btevents/internal/bridge"
	"github.com/srg/btevents/internal/errhandler"
)

const (
	errAccessDenied   = "org.freedesktop.DBus.Error.AccessDenied"
	errServiceUnknown = "org.freedesktop.DBus.Error.ServiceUnknown"
	errNameHasNoOwner = "org.freedesktop.DBus.Error.NameHasNoOwner"
	errNotAuthorized  = "org.bluez.Error.NotAuthorized"
)

func dbusErrorName(err error) string {
	var de dbus.Error
	if errors.As(err, &de) {
		return de.Name
	}
	var pde *dbus.Error
	if errors.As(err, &pde) && pde != nil {
		return pde.Name
	}
	return ""
}

// permissionFor maps the result of a probe call to a permission status.
// Errors that say nothing about permission are returned as is.
func permissionFor(err error) (bridge.PermissionStatus, error) {
	if err == nil {
		return bridge.PermissionAuthorized, nil
	}
	switch dbusErrorName(err) {
	case errAccessDenied:
		return bridge.PermissionDenied, nil
	case errNotAuthorized:
		return bridge.PermissionRestricted, nil
	case errServiceUnknown, errNameHasNoOwner:
		return bridge.PermissionUnsupported, nil
	}
	return bridge.PermissionNotDetermined, err
}

// openError classifies a failed GetManagedObjects during Open
func openError(err error) error {
	status, _ := permissionFor(err)
	switch status {
	case bridge.PermissionDenied, bridge.PermissionRestricted:
		return errhandler.Wrap(errhandler.NamePermissionDenied, "bluez refused access", "bluez_open", err)
	}
	return errhandler.Wrap(errhandler.NameBridgeUnavailable, "bluez object tree unavailable", "bluez_open", err)
}
