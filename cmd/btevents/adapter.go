package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/btevents/pkg/btshim"
)

// adapterCmd represents the adapter command
var adapterCmd = &cobra.Command{
	Use:   "adapter",
	Short: "Show the host controller address and adapter state",
	Args:  cobra.NoArgs,
	RunE:  runAdapter,
}

var adapterJSON bool

func init() {
	adapterCmd.Flags().BoolVar(&adapterJSON, "json", false, "Print the adapter state as JSON")
}

func runAdapter(cmd *cobra.Command, _ []string) error {
	cfg, _, err := initialize(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = btshim.Shutdown() }()

	state, ok := btshim.AdapterState()
	if !ok {
		return ErrNoAdapterState
	}
	if state.Address == "" {
		state.Address = btshim.HostControllerAddress()
	}

	if adapterJSON {
		return displayJSON(cmd.OutOrStdout(), state)
	}

	address := state.Address
	if address == "" {
		address = "unknown"
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Address:\t%s\n", address)
	fmt.Fprintf(tw, "Bridge:\t%s\n", cfg.Bridge)
	fmt.Fprintf(tw, "Powered:\t%t\n", state.Powered)
	fmt.Fprintf(tw, "Discoverable:\t%t\n", state.Discoverable)
	fmt.Fprintf(tw, "Discovering:\t%t\n", state.Discovering)
	fmt.Fprintf(tw, "Pairable:\t%t\n", state.Pairable)
	return tw.Flush()
}
