package goble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/btevents/internal/bridge"
	"github.com/srg/btevents/internal/errhandler"
	"github.com/srg/btevents/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type GoBLETestSuite struct {
	suite.Suite
	device   *testutils.FakeBLEDevice
	bridge   *Bridge
	recorder *testutils.RawRecorder
	factory  func(int) (ble.Device, error)
}

func (s *GoBLETestSuite) SetupTest() {
	s.factory = DeviceFactory
	s.device = testutils.NewFakeBLEDevice()
	DeviceFactory = func(int) (ble.Device, error) { return s.device, nil }

	s.bridge = New(Options{Logger: testutils.NewTestHelper(s.T()).Logger})
	s.recorder = &testutils.RawRecorder{}
	s.Require().True(s.bridge.AddDelegate(s.recorder))

	s.Require().NoError(s.bridge.Open(context.Background()))
	<-s.device.Scanning()
}

func (s *GoBLETestSuite) TearDownTest() {
	s.NoError(s.bridge.Close())
	DeviceFactory = s.factory
}

func (s *GoBLETestSuite) advertise(adv ble.Advertisement) {
	s.device.Push(adv)
}

func (s *GoBLETestSuite) waitCalls(n int) []testutils.RawCall {
	testutils.Eventually(s.T(), time.Second, func() bool {
		return len(s.recorder.Calls()) >= n
	}, "raw callbacks")
	return s.recorder.Calls()
}

func (s *GoBLETestSuite) TestOpenReportsScanning() {
	calls := s.recorder.Calls()
	s.Require().Len(calls, 1)
	s.Equal("InquiryStateChanged", calls[0].Method)
	s.Equal(bridge.InquiryInquiring, calls[0].Inquiry)

	flags, err := s.bridge.AdapterFlags()
	s.Require().NoError(err)
	s.Equal(bridge.AdapterFlags{Powered: true, Discovering: true}, flags)

	s.NoError(s.bridge.Open(context.Background()), "second open is a no-op")
}

func (s *GoBLETestSuite) TestFirstAdvertisementDiscovers() {
	s.recorder.Reset()
	s.advertise(testutils.NewAdvertisementBuilder().
		WithAddress("aa:bb:cc:00:00:01").
		WithName("Tag").
		WithRSSI(-70).
		Build())

	calls := s.waitCalls(1)
	s.Equal("PeerDiscovered AA:BB:CC:00:00:01", calls[0].String())
	name, _ := calls[0].Info.Name()
	s.Equal("Tag", name)
	rssi, _ := calls[0].Info.RSSI()
	s.Equal(-70, rssi)
}

func (s *GoBLETestSuite) TestRepeatedAdvertisements() {
	ad := testutils.NewAdvertisementBuilder().WithAddress("AA:BB:CC:00:00:02").WithName("Tag")
	s.recorder.Reset()

	s.advertise(ad.Build())
	s.advertise(ad.Build())
	s.advertise(ad.WithRSSI(-30).Build())
	s.advertise(testutils.NewAdvertisementBuilder().WithAddress("AA:BB:CC:00:00:02").WithRSSI(-30).Build())

	calls := s.waitCalls(2)
	testutils.Eventually(s.T(), time.Second, func() bool { return s.device.Pending() == 0 }, "advertisements delivered")

	s.Equal([]string{
		"PeerDiscovered AA:BB:CC:00:00:02",
		"PeerUpdated AA:BB:CC:00:00:02",
	}, s.recorder.Methods(), "identical advertisements are not reported again")
	name, _ := calls[1].Info.Name()
	s.Equal("Tag", name)
}

func (s *GoBLETestSuite) TestBatteryServiceData() {
	s.recorder.Reset()
	s.advertise(testutils.NewAdvertisementBuilder().
		WithAddress("AA:BB:CC:00:00:03").
		WithServiceData("180D", []byte{0x01}).
		WithBattery(77).
		Build())

	calls := s.waitCalls(2)
	s.Equal("PeerDiscovered", calls[0].Method)
	s.Equal("BatteryChanged AA:BB:CC:00:00:03", calls[1].String())
	s.Equal(bridge.BatterySingle, calls[1].Kind)
	s.Equal(77, calls[1].Percent)
}

func (s *GoBLETestSuite) TestAdvertisementWithoutAddressIgnored() {
	s.recorder.Reset()
	s.advertise(testutils.NewAdvertisementBuilder().WithName("ghost").Build())
	s.advertise(testutils.NewAdvertisementBuilder().WithAddress("AA:BB:CC:00:00:04").Build())

	calls := s.waitCalls(1)
	s.Equal("PeerDiscovered AA:BB:CC:00:00:04", calls[0].String())
}

func (s *GoBLETestSuite) TestQueries() {
	paired, err := s.bridge.PairedDevices()
	s.NoError(err)
	s.Empty(paired)

	addr, err := s.bridge.HostControllerAddress()
	s.NoError(err)
	s.Empty(addr, "the fake device exposes no address")
}

func (s *GoBLETestSuite) TestCloseStopsScan() {
	s.recorder.Reset()
	s.Require().NoError(s.bridge.Close())

	s.Equal(1, s.device.StopCalls())
	calls := s.recorder.Calls()
	s.Require().Len(calls, 1)
	s.Equal(bridge.InquiryIdle, calls[0].Inquiry)

	_, err := s.bridge.AdapterFlags()
	s.ErrorIs(err, errhandler.ErrBridgeUnavailable)
}

func TestGoBLETestSuite(t *testing.T) {
	suite.Run(t, new(GoBLETestSuite))
}

func TestOpen_FactoryFailure(t *testing.T) {
	orig := DeviceFactory
	defer func() { DeviceFactory = orig }()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"powered off", errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), errhandler.ErrBridgeUnavailable},
		{"no permission", errors.New("can't init hci: operation not permitted"), errhandler.ErrPermissionDenied},
		{"other", errors.New("no such device"), errhandler.ErrBridgeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			DeviceFactory = func(int) (ble.Device, error) { return nil, tt.err }

			err := New(Options{}).Open(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err, "cause is preserved")
		})
	}
}

func TestClosedBridge(t *testing.T) {
	b := New(Options{})
	_, err := b.HostControllerAddress()
	assert.ErrorIs(t, err, errhandler.ErrBridgeUnavailable)
	assert.NoError(t, b.Close())
}
