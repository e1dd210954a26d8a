package pending_test

import (
	"sync"
	"testing"
	"time"

	"github.com/srg/btevents/internal/events"
	"github.com/srg/btevents/internal/pending"
	"github.com/srg/btevents/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const window = 100 * time.Millisecond

type flushed struct {
	key string
	m   pending.Mutation[string]
}

type QueueTestSuite struct {
	suite.Suite
	clock *testutils.ManualClock
	queue *pending.Queue[string]

	mu      sync.Mutex
	flushes []flushed
}

func (s *QueueTestSuite) SetupTest() {
	s.clock = testutils.NewManualClock()
	s.flushes = nil
	s.queue = pending.New(func(key string, m pending.Mutation[string]) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.flushes = append(s.flushes, flushed{key: key, m: m})
	}, pending.Options[string]{
		Delay:  window,
		Clock:  s.clock,
		Logger: testutils.NewTestHelper(s.T()).Logger,
	})
}

func (s *QueueTestSuite) TearDownTest() {
	s.queue.Close()
}

func (s *QueueTestSuite) advance(d time.Duration) {
	s.clock.Advance(d)
	s.queue.Wait()
}

func (s *QueueTestSuite) recorded() []flushed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]flushed(nil), s.flushes...)
}

func (s *QueueTestSuite) TestCoalescing() {
	tests := []struct {
		name    string
		actions []events.Action
		want    events.Action
		payload string
	}{
		{"single added", []events.Action{events.Added}, events.Added, "p0"},
		{"added twice keeps latest payload", []events.Action{events.Added, events.Added}, events.Added, "p1"},
		{"updated twice", []events.Action{events.Updated, events.Updated}, events.Updated, "p1"},
		{"added then updated stays added", []events.Action{events.Added, events.Updated}, events.Added, "p1"},
		{"updated then added becomes added", []events.Action{events.Updated, events.Added}, events.Added, "p1"},
		{"added updated removed yields removed", []events.Action{events.Added, events.Updated, events.Removed}, events.Removed, "p2"},
		{"removed then added yields added", []events.Action{events.Removed, events.Added}, events.Added, "p1"},
		{"removed absorbs updated", []events.Action{events.Removed, events.Updated}, events.Removed, "p0"},
		{"removed twice", []events.Action{events.Removed, events.Removed}, events.Removed, "p1"},
	}

	for i, tt := range tests {
		s.Run(tt.name, func() {
			key := testutils.Address(i)
			for j, a := range tt.actions {
				s.True(s.queue.Enqueue(key, a, payload(j)))
			}

			m, ok := s.queue.Pending(key)
			s.Require().True(ok)
			s.Equal(tt.want, m.Action)
			s.Equal(tt.payload, m.Payload)
		})
	}

	s.advance(window)

	got := s.recorded()
	s.Len(got, len(tests), "exactly one flush per key")
	s.Zero(s.queue.Len())
}

func (s *QueueTestSuite) TestTrailingEdgeNotReset() {
	key := testutils.Address(1)

	s.queue.Enqueue(key, events.Updated, "first")
	s.True(s.queue.Scheduled(key))
	s.Equal(1, s.clock.Timers())

	s.advance(window / 2)
	s.queue.Enqueue(key, events.Updated, "second")
	s.Equal(1, s.clock.Timers(), "a scheduled flush is never rescheduled")

	s.advance(window/2 - time.Millisecond)
	s.Empty(s.recorded())

	s.advance(time.Millisecond)
	got := s.recorded()
	s.Require().Len(got, 1)
	s.Equal("second", got[0].m.Payload)
	s.False(s.queue.Scheduled(key))
}

func (s *QueueTestSuite) TestNewWindowAfterFlush() {
	key := testutils.Address(2)

	s.queue.Enqueue(key, events.Added, "a")
	s.advance(window)
	s.queue.Enqueue(key, events.Removed, "r")
	s.True(s.queue.Scheduled(key))
	s.advance(window)

	got := s.recorded()
	s.Require().Len(got, 2)
	s.Equal(events.Added, got[0].m.Action)
	s.Equal(events.Removed, got[1].m.Action)
}

func (s *QueueTestSuite) TestKeysAreIndependent() {
	a, b := testutils.Address(3), testutils.Address(4)

	s.queue.Enqueue(a, events.Added, "a")
	s.advance(window / 2)
	s.queue.Enqueue(b, events.Removed, "b")

	s.advance(window / 2)
	got := s.recorded()
	s.Require().Len(got, 1)
	s.Equal(a, got[0].key)

	s.advance(window / 2)
	got = s.recorded()
	s.Require().Len(got, 2)
	s.Equal(b, got[1].key)
}

func (s *QueueTestSuite) TestMerge() {
	q := pending.New(func(string, pending.Mutation[int]) {}, pending.Options[int]{
		Clock: s.clock,
		Merge: func(older, newer int) int { return older | newer },
	})
	defer q.Close()

	key := testutils.Address(5)
	q.Enqueue(key, events.Updated, 1)
	q.Enqueue(key, events.Updated, 2)
	m, _ := q.Pending(key)
	s.Equal(3, m.Payload)

	q.Enqueue(key, events.Added, 4)
	m, _ = q.Pending(key)
	s.Equal(events.Added, m.Action)
	s.Equal(7, m.Payload)

	q.Enqueue(key, events.Removed, 8)
	q.Enqueue(key, events.Added, 16)
	m, _ = q.Pending(key)
	s.Equal(16, m.Payload, "reappearance after removal starts from a clean payload")
}

func (s *QueueTestSuite) TestPanickingFlushIsContained() {
	q := pending.New(func(key string, m pending.Mutation[string]) {
		panic("boom")
	}, pending.Options[string]{Clock: s.clock, Delay: window})
	defer q.Close()

	key := testutils.Address(6)
	q.Enqueue(key, events.Added, "x")

	s.NotPanics(func() {
		s.clock.Advance(window)
		q.Wait()
	})
	s.False(q.Scheduled(key), "no dangling schedule after a failed flush")

	q.Enqueue(key, events.Updated, "y")
	s.True(q.Scheduled(key))
}

func (s *QueueTestSuite) TestDrain() {
	s.queue.Enqueue(testutils.Address(7), events.Added, "a")
	s.queue.Enqueue(testutils.Address(8), events.Updated, "b")

	s.queue.Drain()

	s.Len(s.recorded(), 2)
	s.Zero(s.queue.Len())
	s.Zero(s.clock.Timers())
}

func (s *QueueTestSuite) TestCloseDiscards() {
	key := testutils.Address(9)
	s.queue.Enqueue(key, events.Added, "a")

	s.queue.Close()
	s.False(s.queue.Enqueue(key, events.Added, "b"))

	s.advance(window)
	s.Empty(s.recorded())
	s.Zero(s.clock.Timers())

	s.NotPanics(s.queue.Close, "close is idempotent")
}

func (s *QueueTestSuite) TestConcurrentEnqueue() {
	q := pending.New(func(key string, m pending.Mutation[string]) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.flushes = append(s.flushes, flushed{key: key, m: m})
	}, pending.Options[string]{Delay: 20 * time.Millisecond})
	defer q.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		key := testutils.Address(100 + i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				q.Enqueue(key, events.Updated, payload(j))
			}
		}()
	}
	wg.Wait()

	testutils.Eventually(s.T(), time.Second, func() bool { return q.Len() == 0 }, "queue drained")
	q.Wait()

	perKey := map[string]int{}
	for _, f := range s.recorded() {
		perKey[f.key]++
	}
	s.Len(perKey, 4)
	for key, n := range perKey {
		s.GreaterOrEqual(n, 1, key)
	}
}

func payload(i int) string {
	return "p" + string(rune('0'+i%10))
}

func TestQueueTestSuite(t *testing.T) {
	suite.Run(t, new(QueueTestSuite))
}
