package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "btevents",
	Short: "Bluetooth Classic event monitor",
	Long: `Bluetooth Classic event monitor that provides:

- A normalized, debounced stream of device events (added, updated, removed)
- Adapter power, discoverable and discovery state changes
- Battery telemetry for connected peers
- Paired device listing and permission diagnostics

Events come from BlueZ over D-Bus, or from a go-ble scanning device on hosts
without BlueZ.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("btevents {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(permissionCmd)
	rootCmd.AddCommand(adapterCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output (same as --log-level debug)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("bridge", "", "Bluetooth bridge (bluez, goble); overrides the config file")
	rootCmd.PersistentFlags().Int("hci", -1, "Adapter index; overrides the config file")
	rootCmd.PersistentFlags().Duration("debounce", 0, "Device event debounce window; overrides the config file")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
