// Package adaptersource publishes adapter state changes.
package adaptersource

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/btevents/internal/bridge"
	"github.com/srg/btevents/internal/errhandler"
	"github.com/srg/btevents/internal/events"
	"github.com/srg/btevents/internal/groutine"
)

// DefaultPollInterval is used when Options.PollInterval is zero
const DefaultPollInterval = 2 * time.Second

type Options struct {
	// PollInterval is how often flags are re-read in addition to bridge
	// notifications. Negative disables polling.
	PollInterval time.Duration
	Logger       *logrus.Logger
}

// Source observes the adapter through bridge notifications and polling and
// publishes an AdapterState whenever the snapshot differs from the last one
// published. It implements bridge.InquiryDelegate and bridge.AdapterDelegate.
type Source struct {
	bridge    bridge.Bridge
	publisher events.Publisher
	interval  time.Duration
	logger    *logrus.Logger
	reporter  *errhandler.Reporter

	// refreshMu serializes read-compare-publish cycles
	refreshMu sync.Mutex

	mu      sync.RWMutex
	last    events.AdapterState
	started bool
	cancel  context.CancelFunc
	group   groutine.Group
}

var (
	_ bridge.InquiryDelegate = (*Source)(nil)
	_ bridge.AdapterDelegate = (*Source)(nil)
)

func New(b bridge.Bridge, publisher events.Publisher, opts Options) *Source {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Source{
		bridge:    b,
		publisher: publisher,
		interval:  opts.PollInterval,
		logger:    opts.Logger,
		reporter:  errhandler.NewReporter(opts.Logger),
	}
}

// Start records the current adapter state as the baseline, without
// publishing it, then subscribes to bridge notifications and starts polling.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	baseline, err := s.read(events.AdapterState{})
	if err != nil {
		return errhandler.Wrap(errhandler.NameBridgeUnavailable, "cannot read adapter state", "adapter_source_start", err)
	}

	if !s.bridge.AddDelegate(s) {
		return errhandler.CreateError(errhandler.NameBridgeUnavailable, "bridge refused the adapter delegate", "adapter_source_start")
	}

	pollCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.last = baseline
	s.started = true
	s.cancel = cancel
	s.mu.Unlock()

	if s.interval > 0 {
		s.group.Go(pollCtx, "adapter-poll", s.poll)
	}

	s.logger.WithFields(logrus.Fields{
		"address": baseline.Address,
		"powered": baseline.Powered,
	}).Info("Adapter source started")
	return nil
}

// Stop unsubscribes and waits for the poll loop to exit
func (s *Source) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	s.bridge.RemoveDelegate(s)
	cancel()
	s.group.Wait()
	s.logger.Debug("Adapter source stopped")
}

// State returns the last published (or baseline) adapter state
func (s *Source) State() events.AdapterState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Source) InquiryStateChanged(state bridge.InquiryState) {
	s.logger.WithField("inquiry", state).Debug("Inquiry state changed")
	s.Refresh()
}

func (s *Source) AdapterStateChanged() {
	s.Refresh()
}

// Refresh reads the adapter state and publishes it if it differs from the
// last published snapshot. Intermediate transitions that were never observed
// do not produce events. While the publisher is not ready nothing is read, so
// the first Refresh after it becomes ready reports the change against the
// baseline.
func (s *Source) Refresh() {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.RLock()
	started, prev := s.started, s.last
	s.mu.RUnlock()
	if !started {
		return
	}
	if !events.Accepting(s.publisher) {
		s.logger.Debug("Publisher not ready, adapter refresh deferred")
		return
	}

	next, err := s.read(prev)
	if err != nil {
		s.reporter.Report(errhandler.Wrap(errhandler.NameOperationFailed, "cannot read adapter state", "adapter_refresh", err))
		return
	}
	if next == prev {
		return
	}

	s.mu.Lock()
	s.last = next
	s.mu.Unlock()

	entry := s.logger.WithFields(logrus.Fields{
		"address":      next.Address,
		"powered":      next.Powered,
		"discoverable": next.Discoverable,
		"discovering":  next.Discovering,
	})
	if next.Powered != prev.Powered {
		entry.Info("Adapter power changed")
	} else {
		entry.Debug("Adapter state changed")
	}

	s.publisher.PublishAdapterEvent(next)
}

// read builds a snapshot from the bridge. The host controller address is
// re-read on power-on and whenever it is not known yet; otherwise prev's
// address is kept.
func (s *Source) read(prev events.AdapterState) (events.AdapterState, error) {
	flags, err := s.bridge.AdapterFlags()
	if err != nil {
		return events.AdapterState{}, err
	}

	next := events.AdapterState{
		Address:      prev.Address,
		Powered:      flags.Powered,
		Discoverable: flags.Discoverable,
		Discovering:  flags.Discovering,
		Pairable:     flags.Pairable,
	}

	if flags.Powered && (!prev.Powered || prev.Address == "") {
		addr, err := s.bridge.HostControllerAddress()
		if err != nil {
			s.reporter.Report(errhandler.Wrap(errhandler.NameOperationFailed, "cannot read host controller address", "adapter_read", err))
		} else {
			next.Address = addr
		}
	}
	return next, nil
}

func (s *Source) poll(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh()
		}
	}
}
