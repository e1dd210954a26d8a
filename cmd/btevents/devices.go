package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/btevents/internal/peer"
	"github.com/srg/btevents/pkg/btshim"
)

// devicesCmd represents the devices command
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List paired devices",
	Long: `List the devices paired with the adapter, with their connection state
and last known battery levels.`,
	Args: cobra.NoArgs,
	RunE: runDevices,
}

var devicesFormat string

func init() {
	devicesCmd.Flags().StringVarP(&devicesFormat, "format", "f", "table", "Output format (table, json)")
}

func runDevices(cmd *cobra.Command, _ []string) error {
	if devicesFormat != "table" && devicesFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", devicesFormat)
	}

	if _, _, err := initialize(cmd); err != nil {
		return err
	}
	defer func() { _ = btshim.Shutdown() }()

	devices, err := btshim.PairedDevices()
	if err != nil {
		return err
	}

	snapshots := make([]peer.Snapshot, 0, len(devices))
	for _, d := range devices {
		snapshots = append(snapshots, d.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Address < snapshots[j].Address
	})

	if devicesFormat == "json" {
		return displayJSON(cmd.OutOrStdout(), snapshots)
	}
	return displayDevicesTable(cmd.OutOrStdout(), snapshots)
}

// displayJSON writes v as indented JSON
func displayJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func displayDevicesTable(w io.Writer, snapshots []peer.Snapshot) error {
	if len(snapshots) == 0 {
		_, err := fmt.Fprintln(w, "No paired devices")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tNAME\tCONNECTED\tBATTERY")
	for _, s := range snapshots {
		name := s.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", s.Address, name, s.Connected, s.Battery)
	}
	return tw.Flush()
}
