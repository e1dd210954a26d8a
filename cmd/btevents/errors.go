package main

import (
	"errors"

	"github.com/srg/btevents/internal/errhandler"
)

// Command-level errors
var (
	// ErrNoAdapterState indicates the coordinator initialized but has not
	// read the adapter yet.
	ErrNoAdapterState = errors.New("adapter state unavailable")
)

// FormatUserError turns pipeline errors into a message for the terminal.
// Unknown errors are printed as is.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, errhandler.ErrPermissionDenied):
		return "bluetooth access denied; run with sufficient privileges or grant access (" + err.Error() + ")"
	case errors.Is(err, errhandler.ErrBrokenState):
		return "bluetooth stack left in an inconsistent state; restart the program (" + err.Error() + ")"
	case errors.Is(err, errhandler.ErrBridgeUnavailable):
		return "bluetooth unavailable; check that the adapter is present and the service is running (" + err.Error() + ")"
	}
	return err.Error()
}
