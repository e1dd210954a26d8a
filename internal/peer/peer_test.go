package peer_test

import (
	"testing"

	"github.com/srg/btevents/internal/bridge"
	"github.com/srg/btevents/internal/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatteryInfo_Get(t *testing.T) {
	b := peer.NewBatteryInfo()
	_, ok := b.Get(bridge.BatterySingle)
	assert.False(t, ok)

	b.Right = 30
	v, ok := b.Get(bridge.BatteryRight)
	assert.True(t, ok)
	assert.Equal(t, 30, v)

	_, ok = b.Get(bridge.BatteryKind(99))
	assert.False(t, ok)
}

func TestBatteryInfo_String(t *testing.T) {
	b := peer.NewBatteryInfo()
	assert.Equal(t, "unknown", b.String())

	b.Left = 60
	b.Right = 55
	assert.Equal(t, "left:60%,right:55%", b.String())
}

func TestPeer_Apply(t *testing.T) {
	store := peer.NewStore(nil)
	p, err := store.PeerFor(bridge.NewPeerInfo("aa:bb:cc:dd:ee:ff"))
	require.NoError(t, err)

	assert.True(t, p.Apply(bridge.NewPeerInfo("aa:bb:cc:dd:ee:ff").With(bridge.KeyConnected, true)))
	assert.False(t, p.Apply(bridge.NewPeerInfo("aa:bb:cc:dd:ee:ff").With(bridge.KeyConnected, true)), "unchanged values report no change")
	assert.True(t, p.Snapshot().Connected)
}

func TestPeer_TakeBatteryDelta(t *testing.T) {
	store := peer.NewStore(nil)
	p, err := store.PeerFor(bridge.NewPeerInfo("aa:bb:cc:dd:ee:ff"))
	require.NoError(t, err)

	t.Run("nothing written", func(t *testing.T) {
		_, delivered := p.TakeBatteryDelta()
		assert.False(t, delivered)
	})

	t.Run("changed value is delivered once", func(t *testing.T) {
		store.SetBattery(p, bridge.BatterySingle, 70)
		store.SetBattery(p, bridge.BatterySingle, 75)
		assert.True(t, p.Battery().Modified)

		info, delivered := p.TakeBatteryDelta()
		assert.True(t, delivered)
		assert.True(t, info.Modified)
		assert.Equal(t, 75, info.Single)

		_, delivered = p.TakeBatteryDelta()
		assert.False(t, delivered, "the cycle is closed after delivery")
		assert.False(t, p.Battery().Modified)
	})

	t.Run("rewriting the same value marks modified but is not delivered", func(t *testing.T) {
		store.SetBattery(p, bridge.BatterySingle, 75)
		assert.True(t, p.Battery().Modified)

		info, delivered := p.TakeBatteryDelta()
		assert.False(t, delivered)
		assert.False(t, info.Modified)
	})

	t.Run("change then revert within one cycle is not delivered", func(t *testing.T) {
		store.SetBattery(p, bridge.BatterySingle, 10)
		store.SetBattery(p, bridge.BatterySingle, 75)

		_, delivered := p.TakeBatteryDelta()
		assert.False(t, delivered)
	})
}
