package registry_test

import (
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/srg/btevents/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type named struct{ name string }

type greeter interface{ Greet() string }

type friendly struct{ named }

func (f *friendly) Greet() string { return "hi " + f.name }

func TestSet_AddRemove(t *testing.T) {
	s := registry.New()
	a, b := &named{"a"}, &named{"b"}

	changed, err := s.Add(a)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Add(a)
	require.NoError(t, err)
	assert.False(t, changed, "duplicate registration must not change membership")

	changed, err = s.Add(b)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, s.Len())

	assert.False(t, s.Remove(&named{"c"}), "removing a non-member is a no-op")
	assert.Equal(t, 2, s.Len())

	assert.True(t, s.Remove(a))
	assert.False(t, s.Remove(a))
	assert.False(t, s.Contains(a))
	assert.True(t, s.Contains(b))
}

func TestSet_RejectsInvalidMembers(t *testing.T) {
	s := registry.New()

	_, err := s.Add(nil)
	assert.Error(t, err)

	_, err = s.Add([]int{1})
	assert.Error(t, err)

	assert.False(t, s.Remove([]int{1}))
	assert.False(t, s.Contains(nil))
	assert.Zero(t, s.Len())
}

func TestSet_SnapshotKeepsRegistrationOrder(t *testing.T) {
	s := registry.New()
	members := make([]*named, 5)
	for i := range members {
		members[i] = &named{fmt.Sprint(i)}
		_, err := s.Add(members[i])
		require.NoError(t, err)
	}
	s.Remove(members[2])
	_, _ = s.Add(members[2])

	snap := s.Snapshot()
	require.Len(t, snap, 5)
	assert.Equal(t, []any{members[0], members[1], members[3], members[4], members[2]}, snap)
}

func TestSet_SnapshotIsACopy(t *testing.T) {
	s := registry.New()
	a := &named{"a"}
	_, _ = s.Add(a)

	snap := s.Snapshot()
	s.Clear()

	assert.Len(t, snap, 1)
	assert.Zero(t, s.Len())
}

func TestTypedSnapshot(t *testing.T) {
	s := registry.New()
	plain := &named{"plain"}
	f := &friendly{named{"f"}}
	_, _ = s.Add(plain)
	_, _ = s.Add(f)

	greeters := registry.Snapshot[greeter](s)
	require.Len(t, greeters, 1)
	assert.Equal(t, "hi f", greeters[0].Greet())
}

func TestSet_ConcurrentAccess(t *testing.T) {
	s := registry.New()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				m := &named{fmt.Sprint(j)}
				_, _ = s.Add(m)
				_ = s.Snapshot()
				s.Remove(m)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, s.Len())
}

type observer struct {
	name   string
	events []string
}

func addGarbage(t *testing.T, s *registry.Set) {
	_, err := s.Add(&observer{name: "dropped", events: make([]string, 8)})
	require.NoError(t, err)
}

func TestWeakSet_DropsCollectedMembers(t *testing.T) {
	s := registry.NewWeak()
	kept := &observer{name: "kept", events: make([]string, 8)}
	_, err := s.Add(kept)
	require.NoError(t, err)
	addGarbage(t, s)
	require.Equal(t, 2, s.Len())

	assert.Eventually(t, func() bool {
		runtime.GC()
		return len(s.Snapshot()) == 1
	}, time.Second, 10*time.Millisecond, "unreachable member must leave the set")

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Same(t, kept, snap[0])
	assert.Equal(t, 1, s.Len(), "collected members are pruned")
	runtime.KeepAlive(kept)
}

func TestWeakSet_Membership(t *testing.T) {
	s := registry.NewWeak()
	a := &observer{name: "a"}
	v := named{"value"}

	changed, err := s.Add(a)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.Add(a)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = s.Add(v)
	require.NoError(t, err)

	assert.True(t, s.Contains(a))
	assert.False(t, s.Contains(&observer{name: "a"}))
	assert.Equal(t, []any{a, v}, s.Snapshot())

	assert.True(t, s.Remove(a))
	assert.False(t, s.Contains(a))
	assert.Equal(t, []any{v}, s.Snapshot(), "non-pointer members are held strongly")
	runtime.KeepAlive(a)
}
