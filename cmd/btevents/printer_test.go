package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/srg/btevents/internal/events"
	"github.com/srg/btevents/internal/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnvelopes() []events.Envelope {
	ts := time.Date(2024, 5, 1, 12, 30, 15, 250_000_000, time.UTC)
	battery := peer.NewBatteryInfo()
	battery.Single = 80
	battery.Modified = true

	return []events.Envelope{
		events.NewAdapterEnvelope(ts, events.AdapterState{Address: "00:1A:7D:DA:71:13", Powered: true}),
		{
			Kind:      events.KindDevice,
			Timestamp: ts,
			Action:    events.Updated,
			Device:    &peer.Snapshot{Address: "AA:BB:CC:00:00:01", Name: "Headset", Battery: battery},
			Battery:   &battery,
		},
	}
}

func TestEventPrinter_Text(t *testing.T) {
	var out bytes.Buffer
	p := newEventPrinter(&out, false)

	for _, env := range testEnvelopes() {
		require.NoError(t, p.Print(env))
	}

	assert.Equal(t,
		"12:30:15.250 adapter 00:1A:7D:DA:71:13 powered=true discoverable=false discovering=false pairable=false\n"+
			"12:30:15.250 device updated AA:BB:CC:00:00:01 \"Headset\" battery=single:80%\n",
		out.String(), "non-terminal output MUST NOT contain color codes")
}

func TestEventPrinter_JSON(t *testing.T) {
	var out bytes.Buffer
	p := newEventPrinter(&out, true)

	envs := testEnvelopes()
	for _, env := range envs {
		require.NoError(t, p.Print(env))
	}

	dec := json.NewDecoder(&out)
	for _, want := range envs {
		var got events.Envelope
		require.NoError(t, dec.Decode(&got))
		assert.Equal(t, want.Kind, got.Kind)
		assert.Equal(t, want.Action, got.Action)
		assert.True(t, want.Timestamp.Equal(got.Timestamp))
	}
	assert.False(t, dec.More())
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, isTerminal(&bytes.Buffer{}))
}
