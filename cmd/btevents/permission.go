package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/btevents/internal/bridge"
	"github.com/srg/btevents/pkg/btshim"
)

// permissionCmd represents the permission command
var permissionCmd = &cobra.Command{
	Use:   "permission",
	Short: "Show Bluetooth permission status",
	Long: `Show whether this process may use the Bluetooth stack.

Exits with an error when access is denied or restricted.`,
	Args: cobra.NoArgs,
	RunE: runPermission,
}

func runPermission(cmd *cobra.Command, _ []string) error {
	if _, _, err := configureShim(cmd); err != nil {
		return err
	}
	defer func() { _ = btshim.Shutdown() }()

	status, err := btshim.PermissionStatus()
	if err != nil {
		return fmt.Errorf("failed to query permission status: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), status)

	switch status {
	case bridge.PermissionDenied, bridge.PermissionRestricted:
		return fmt.Errorf("bluetooth access is %s", status)
	}
	return nil
}
