package events_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/srg/btevents/internal/bridge"
	"github.com/srg/btevents/internal/events"
	"github.com/srg/btevents/internal/peer"
	"github.com/srg/btevents/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAction_Text(t *testing.T) {
	for _, a := range []events.Action{events.Added, events.Updated, events.Removed} {
		b, err := a.MarshalText()
		require.NoError(t, err)

		var back events.Action
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, a, back)
	}

	_, err := events.Action(0).MarshalText()
	assert.Error(t, err)

	var a events.Action
	assert.Error(t, a.UnmarshalText([]byte("moved")))
	assert.Equal(t, "unknown(9)", events.Action(9).String())
}

func TestAction_WireValues(t *testing.T) {
	assert.EqualValues(t, 1, events.Added)
	assert.EqualValues(t, 2, events.Updated)
	assert.EqualValues(t, 3, events.Removed)
}

func TestIsObserver(t *testing.T) {
	assert.True(t, events.IsObserver(testutils.NewRecordingObserver()))
	assert.True(t, events.IsObserver(&testutils.AdapterOnlyObserver{}))
	assert.True(t, events.IsObserver(&testutils.DeviceOnlyObserver{}))
	assert.False(t, events.IsObserver(42))
	assert.False(t, events.IsObserver(nil))
}

func TestDeviceEnvelope(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := peer.NewStore(nil)
	p, err := store.PeerFor(bridge.NewPeerInfo("aa:bb:cc:dd:ee:ff").
		With(bridge.KeyName, "Buds").
		With(bridge.KeyConnected, true))
	require.NoError(t, err)
	d, _ := store.DeviceFor(p)

	battery := peer.NewBatteryInfo()
	battery.Modified = true
	battery.Left = 60

	env := events.NewDeviceEnvelope(ts, d, events.Updated, events.DeviceEventData{Battery: battery})

	testutils.NewJSONAsserter(t).AssertEnvelope(env, `{
		"kind": "device",
		"action": "updated",
		"device": {
			"id": "<<PRESENCE>>",
			"address": "AA:BB:CC:DD:EE:FF",
			"name": "Buds",
			"connected": true,
			"paired": false
		},
		"battery": {"modified": true, "left": 60, "right": -1}
	}`)

	assert.Equal(t, `device updated AA:BB:CC:DD:EE:FF "Buds" battery=left:60%`, env.String())

	line, err := env.MarshalLine()
	require.NoError(t, err)
	var decoded events.Envelope
	require.NoError(t, json.Unmarshal(line, &decoded))
	assert.Equal(t, events.Updated, decoded.Action)
	assert.True(t, decoded.Timestamp.Equal(ts))
}

func TestAdapterEnvelope(t *testing.T) {
	env := events.NewAdapterEnvelope(time.Now(), events.AdapterState{Powered: true, Pairable: true})

	assert.Equal(t, "adapter - powered=true discoverable=false discovering=false pairable=true", env.String())

	line, err := env.MarshalLine()
	require.NoError(t, err)
	assert.NotContains(t, string(line), `"action"`)
	assert.NotContains(t, string(line), `"device"`)
}
