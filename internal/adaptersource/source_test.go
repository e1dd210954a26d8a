package adaptersource_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srg/btevents/internal/adaptersource"
	"github.com/srg/btevents/internal/bridge"
	"github.com/srg/btevents/internal/errhandler"
	"github.com/srg/btevents/internal/events"
	"github.com/srg/btevents/internal/peer"
	"github.com/srg/btevents/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type publisher struct {
	*testutils.RecordingObserver
}

func (p publisher) PublishAdapterEvent(state events.AdapterState) {
	p.HandleAdapterEvent(state)
}

func (p publisher) PublishDeviceEvent(d *peer.Device, action events.Action, data events.DeviceEventData) {
	p.HandleDeviceEvent(d, action, data)
}

type SourceTestSuite struct {
	suite.Suite
	helper   *testutils.TestHelper
	bridge   *testutils.FakeBridge
	recorder *testutils.RecordingObserver
	source   *adaptersource.Source
}

func (s *SourceTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.bridge = testutils.NewFakeBridge(s.helper.Logger)
	s.recorder = testutils.NewRecordingObserver()
	s.source = adaptersource.New(s.bridge, publisher{s.recorder}, adaptersource.Options{
		PollInterval: -1,
		Logger:       s.helper.Logger,
	})
	s.Require().NoError(s.source.Start(context.Background()))
}

func (s *SourceTestSuite) TearDownTest() {
	s.source.Stop()
}

func (s *SourceTestSuite) TestBaselineIsNotPublished() {
	s.Empty(s.recorder.AdapterEvents())

	state := s.source.State()
	s.True(state.Powered)
	s.True(state.Pairable)
	s.Equal("00:1A:7D:DA:71:13", state.Address)
}

func (s *SourceTestSuite) TestChangeIsPublished() {
	s.bridge.ChangeFlags(bridge.AdapterFlags{Powered: true, Pairable: true, Discoverable: true})

	got := s.recorder.AdapterEvents()
	s.Require().Len(got, 1)
	s.True(got[0].Discoverable)
	s.Equal("00:1A:7D:DA:71:13", got[0].Address)
}

func (s *SourceTestSuite) TestIdenticalSnapshotsAreSuppressed() {
	s.bridge.NotifyAdapterStateChanged()
	s.source.Refresh()
	s.source.Refresh()

	s.Empty(s.recorder.AdapterEvents())
}

func (s *SourceTestSuite) TestUnobservedFlipIsSilent() {
	s.bridge.SetFlags(bridge.AdapterFlags{Powered: false})
	s.bridge.SetFlags(bridge.AdapterFlags{Powered: true, Pairable: true})
	s.source.Refresh()

	s.Empty(s.recorder.AdapterEvents(), "true->false->true without an intermediate publish is no change")
}

func (s *SourceTestSuite) TestEachObservedTransitionIsPublished() {
	s.bridge.ChangeFlags(bridge.AdapterFlags{Powered: false})
	s.bridge.ChangeFlags(bridge.AdapterFlags{Powered: true, Pairable: true})

	got := s.recorder.AdapterEvents()
	s.Require().Len(got, 2)
	s.False(got[0].Powered)
	s.True(got[1].Powered)
}

func (s *SourceTestSuite) TestPowerOnRereadsAddress() {
	s.bridge.ChangeFlags(bridge.AdapterFlags{Powered: false})

	s.bridge.Lock()
	s.bridge.Address = "00:1A:7D:DA:71:99"
	s.bridge.Unlock()

	s.bridge.ChangeFlags(bridge.AdapterFlags{Powered: false, Discoverable: true})
	s.Equal("00:1A:7D:DA:71:13", s.recorder.AdapterEvents()[1].Address, "address is kept while powered off")

	s.bridge.ChangeFlags(bridge.AdapterFlags{Powered: true})
	got := s.recorder.AdapterEvents()
	s.Require().Len(got, 3)
	s.Equal("00:1A:7D:DA:71:99", got[2].Address)
}

func (s *SourceTestSuite) TestAddressFailureKeepsPreviousAddress() {
	s.bridge.ChangeFlags(bridge.AdapterFlags{Powered: false})

	s.bridge.Lock()
	s.bridge.AddressErr = errors.New("no controller")
	s.bridge.Unlock()

	s.bridge.ChangeFlags(bridge.AdapterFlags{Powered: true})
	got := s.recorder.AdapterEvents()
	s.Require().Len(got, 2)
	s.Equal("00:1A:7D:DA:71:13", got[1].Address)
}

func (s *SourceTestSuite) TestInquiryStateIsTracked() {
	s.bridge.Inquiry(bridge.InquiryInquiring)
	s.bridge.Inquiry(bridge.InquiryUpdating)
	s.bridge.Inquiry(bridge.InquiryIdle)

	got := s.recorder.AdapterEvents()
	s.Require().Len(got, 2, "inquiring->updating does not change the discovering flag")
	s.True(got[0].Discovering)
	s.False(got[1].Discovering)
}

func (s *SourceTestSuite) TestFlagReadFailureIsContained() {
	s.bridge.Lock()
	s.bridge.FlagsErr = errors.New("driver busy")
	s.bridge.Unlock()

	s.NotPanics(s.source.Refresh)
	s.Empty(s.recorder.AdapterEvents())
}

func (s *SourceTestSuite) TestStopUnsubscribes() {
	s.source.Stop()
	s.Zero(s.bridge.Len())

	s.bridge.ChangeFlags(bridge.AdapterFlags{})
	s.source.Refresh()
	s.Empty(s.recorder.AdapterEvents())
}

func TestSourceTestSuite(t *testing.T) {
	suite.Run(t, new(SourceTestSuite))
}

func TestStart_Failure(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	b := testutils.NewFakeBridge(helper.Logger)
	b.FlagsErr = errors.New("no adapter")

	src := adaptersource.New(b, publisher{testutils.NewRecordingObserver()}, adaptersource.Options{Logger: helper.Logger})
	err := src.Start(context.Background())

	require.ErrorIs(t, err, errhandler.ErrBridgeUnavailable)
	assert.Zero(t, b.Len(), "failed start must not leave a delegate registered")
}

func TestPolling(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	b := testutils.NewFakeBridge(helper.Logger)
	rec := testutils.NewRecordingObserver()

	src := adaptersource.New(b, publisher{rec}, adaptersource.Options{
		PollInterval: 5 * time.Millisecond,
		Logger:       helper.Logger,
	})
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	b.SetFlags(bridge.AdapterFlags{Powered: true, Pairable: true, Discovering: true})

	testutils.Eventually(t, time.Second, func() bool { return len(rec.AdapterEvents()) == 1 }, "poll loop publishes the change")
}

// gatedPublisher drops events until ready is set, like the coordinator
// before initialization completes
type gatedPublisher struct {
	publisher
	ready atomic.Bool
}

func (p *gatedPublisher) Ready() bool { return p.ready.Load() }

func (p *gatedPublisher) PublishAdapterEvent(state events.AdapterState) {
	if p.Ready() {
		p.publisher.PublishAdapterEvent(state)
	}
}

func TestChangeBeforePublisherIsReadyIsNotLost(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	b := testutils.NewFakeBridge(helper.Logger)
	rec := testutils.NewRecordingObserver()
	pub := &gatedPublisher{publisher: publisher{rec}}

	src := adaptersource.New(b, pub, adaptersource.Options{PollInterval: -1, Logger: helper.Logger})
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	b.ChangeFlags(bridge.AdapterFlags{Powered: true, Pairable: true, Discovering: true})
	assert.Empty(t, rec.AdapterEvents())
	assert.False(t, src.State().Discovering, "a dropped change MUST NOT become the last published state")

	pub.ready.Store(true)
	src.Refresh()

	got := rec.AdapterEvents()
	require.Len(t, got, 1)
	assert.True(t, got[0].Discovering)
	assert.True(t, src.State().Discovering)
}
