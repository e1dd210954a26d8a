package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/btevents/internal/events"
	"github.com/srg/btevents/internal/journal"
	"github.com/srg/btevents/internal/sink"
	"github.com/srg/btevents/pkg/btshim"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print device and adapter events",
	Long: `Initialize the event pipeline and print every normalized event until
interrupted.

Device events are debounced per device: a burst of raw callbacks within the
debounce window is reported as a single added, updated or removed event.
Adapter events are printed when the powered, discoverable, discovering or
pairable flags change.`,
	Example: `  btevents watch
  btevents watch --json --duration 30s
  btevents watch --journal events.jsonl --bridge goble`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var (
	watchJSON     bool
	watchJournal  string
	watchDuration time.Duration
)

func init() {
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "Print events as JSON lines")
	watchCmd.Flags().StringVar(&watchJournal, "journal", "", "Write the most recent events as JSON lines to this file on exit")
	watchCmd.Flags().DurationVarP(&watchDuration, "duration", "d", 0, "Stop after this long (0 for indefinite)")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := configureShim(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = btshim.Shutdown() }()

	buffer, err := sink.New(cfg.SinkCapacity, logger)
	if err != nil {
		return err
	}
	if _, err := btshim.AddObserver(buffer); err != nil {
		return err
	}

	var j *journal.Journal
	if watchJournal != "" {
		j = journal.New(cfg.JournalSize, logger)
		if _, err := btshim.AddObserver(j); err != nil {
			return err
		}
	}

	ctx, cancel := interruptContext(cmd.Context())
	defer cancel()
	if watchDuration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, watchDuration)
		defer stop()
	}

	if err := btshim.InitializeCoordinator(ctx); err != nil {
		return err
	}
	if addr := btshim.HostControllerAddress(); addr != "" && !watchJSON {
		fmt.Fprintf(cmd.OutOrStdout(), "Watching adapter %s (bridge %s)\n", addr, cfg.Bridge)
	}

	printer := newEventPrinter(cmd.OutOrStdout(), watchJSON)
	buffer.Run(ctx, func(env events.Envelope) {
		if err := printer.Print(env); err != nil {
			logger.WithError(err).Warn("Failed to print event")
		}
	})

	m := buffer.Metrics()
	logger.WithFields(logrus.Fields{
		"received":    m.Received.Load(),
		"delivered":   m.Delivered.Load(),
		"overwritten": m.Overwritten.Load(),
	}).Info("Watch stopped")

	if j != nil {
		if err := writeJournal(j, watchJournal); err != nil {
			return err
		}
	}
	return nil
}

func writeJournal(j *journal.Journal, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create journal file: %w", err)
	}
	defer f.Close()

	if _, err := j.WriteTo(f); err != nil {
		return fmt.Errorf("failed to write journal: %w", err)
	}
	return nil
}
