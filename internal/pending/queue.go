// Package pending implements the per-device debounce queue.
//
// Each key holds at most one pending mutation. New mutations coalesce into
// the pending one (see coalesce) and a single flush is scheduled a fixed delay
// after the first enqueue of a window. The schedule is never reset by later
// enqueues, which bounds latency under continuous bursts.
package pending

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/btevents/internal/errhandler"
	"github.com/srg/btevents/internal/events"
	"github.com/srg/btevents/internal/groutine"
)

// DefaultDelay is the debounce window used when none is configured
const DefaultDelay = 250 * time.Millisecond

// Mutation is the pending action of one key and its payload
type Mutation[V any] struct {
	Action  events.Action
	Payload V
}

// FlushFunc receives the single mutation left for key when its window closes
type FlushFunc[V any] func(key string, m Mutation[V])

// MergeFunc combines the payload of a pending mutation with a newer one of a
// compatible action. Without one, the newer payload wins.
type MergeFunc[V any] func(older, newer V) V

// Options configures a Queue
type Options[V any] struct {
	Delay  time.Duration
	Clock  Clock
	Merge  MergeFunc[V]
	Logger *logrus.Logger
}

type slot[V any] struct {
	// flushMu serializes flushes of one key; a flush scheduled while another
	// is running waits for it.
	flushMu sync.Mutex

	pending   *Mutation[V]
	scheduled bool
	timer     Timer
}

// Queue is a keyed debounce queue. Enqueue and the dequeue step of a flush
// are atomic with respect to each other; flushes of different keys run in
// parallel.
type Queue[V any] struct {
	mu     sync.Mutex
	slots  map[string]*slot[V]
	closed bool

	delay    time.Duration
	clock    Clock
	merge    MergeFunc[V]
	flush    FlushFunc[V]
	logger   *logrus.Logger
	reporter *errhandler.Reporter

	ctx    context.Context
	cancel context.CancelFunc
	group  groutine.Group
}

// New creates a queue delivering to flush
func New[V any](flush FlushFunc[V], opts Options[V]) *Queue[V] {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Merge == nil {
		opts.Merge = func(_, newer V) V { return newer }
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue[V]{
		slots:    make(map[string]*slot[V]),
		delay:    opts.Delay,
		clock:    opts.Clock,
		merge:    opts.Merge,
		flush:    flush,
		logger:   opts.Logger,
		reporter: errhandler.NewReporter(opts.Logger),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Enqueue coalesces a mutation into the pending one for key and schedules a
// flush if none is scheduled. It reports false once the queue is closed.
func (q *Queue[V]) Enqueue(key string, action events.Action, payload V) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	s, ok := q.slots[key]
	if !ok {
		s = &slot[V]{}
		q.slots[key] = s
	}

	prev := s.pending
	s.pending = coalesce(prev, Mutation[V]{Action: action, Payload: payload}, q.merge)

	fields := logrus.Fields{
		"key":    key,
		"action": action,
	}
	if prev != nil {
		fields["pending"] = prev.Action
		fields["result"] = s.pending.Action
		q.logger.WithFields(fields).Debug("Coalesced mutation")
	} else {
		q.logger.WithFields(fields).Debug("Enqueued mutation")
	}

	if !s.scheduled {
		s.scheduled = true
		s.timer = q.clock.AfterFunc(q.delay, func() { q.fire(key) })
	}
	return true
}

// coalesce folds next into the pending mutation cur:
//   - Removed always wins and clears whatever was pending
//   - Added cancels a pending Removed and keeps a pending Added/Updated's
//     payload history, promoting it to Added
//   - Updated is absorbed by a pending Added or Removed
func coalesce[V any](cur *Mutation[V], next Mutation[V], merge MergeFunc[V]) *Mutation[V] {
	if cur == nil || next.Action == events.Removed {
		return &next
	}

	switch next.Action {
	case events.Added:
		if cur.Action == events.Removed {
			return &next
		}
		return &Mutation[V]{Action: events.Added, Payload: merge(cur.Payload, next.Payload)}
	case events.Updated:
		if cur.Action == events.Removed {
			return cur
		}
		return &Mutation[V]{Action: cur.Action, Payload: merge(cur.Payload, next.Payload)}
	default:
		return &next
	}
}

// fire runs when a window closes; the flush itself happens on a named goroutine
func (q *Queue[V]) fire(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.group.Go(q.ctx, "pending-flush", func(context.Context) {
		q.flushKey(key)
	})
}

func (q *Queue[V]) flushKey(key string) {
	q.mu.Lock()
	s, ok := q.slots[key]
	q.mu.Unlock()
	if !ok {
		return
	}

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	q.mu.Lock()
	m := s.pending
	s.pending = nil
	s.scheduled = false
	s.timer = nil
	q.mu.Unlock()

	if m != nil {
		q.logger.WithFields(logrus.Fields{
			"key":    key,
			"action": m.Action,
		}).Debug("Flushing mutation")

		q.reporter.Go("flush", func() error {
			q.flush(key, *m)
			return nil
		})
	}

	q.mu.Lock()
	if s.pending == nil && !s.scheduled && q.slots[key] == s {
		delete(q.slots, key)
	}
	q.mu.Unlock()
}

// Pending returns the mutation currently waiting for key
func (q *Queue[V]) Pending(key string) (Mutation[V], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if s, ok := q.slots[key]; ok && s.pending != nil {
		return *s.pending, true
	}
	return Mutation[V]{}, false
}

// Scheduled reports whether a flush is scheduled for key
func (q *Queue[V]) Scheduled(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, ok := q.slots[key]
	return ok && s.scheduled
}

// Len returns the number of keys with a pending mutation
func (q *Queue[V]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, s := range q.slots {
		if s.pending != nil {
			n++
		}
	}
	return n
}

// Wait blocks until every flush started so far has returned
func (q *Queue[V]) Wait() {
	q.group.Wait()
}

// Drain flushes every scheduled key now instead of at the end of its window
// and waits for all flushes to complete.
func (q *Queue[V]) Drain() {
	q.mu.Lock()
	var keys []string
	for key, s := range q.slots {
		// A timer that cannot be stopped has already fired and flushes on its own.
		if s.scheduled && s.timer != nil && s.timer.Stop() {
			keys = append(keys, key)
		}
	}
	q.mu.Unlock()

	for _, key := range keys {
		q.flushKey(key)
	}
	q.Wait()
}

// Close stops scheduling, discards pending mutations and waits for running
// flushes. Enqueue after Close is a no-op.
func (q *Queue[V]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true

	dropped := 0
	for key, s := range q.slots {
		if s.timer != nil {
			s.timer.Stop()
		}
		if s.pending != nil {
			dropped++
		}
		delete(q.slots, key)
	}
	q.mu.Unlock()

	q.cancel()
	q.Wait()

	if dropped > 0 {
		q.logger.WithField("dropped", dropped).Debug("Discarded pending mutations on close")
	}
}
