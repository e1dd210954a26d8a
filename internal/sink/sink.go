// Package sink provides a non-blocking observer that buffers events for a
// slow consumer.
package sink

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/btevents/internal/events"
	"github.com/srg/btevents/internal/peer"
)

const (
	DefaultCapacity uint32 = 256
	// MaxCapacity guards against accidental misconfiguration
	MaxCapacity uint32 = 1 << 20
)

// Metrics are updated lock-free
type Metrics struct {
	Received    atomic.Int64
	Delivered   atomic.Int64
	Overwritten atomic.Int64
}

// Channel is an events observer that copies every event into an
// overwrite-oldest ring buffer. Fan-out never waits on the consumer; when
// the consumer falls behind, the oldest events are lost and counted.
type Channel struct {
	buffer  mpmc.RichOverlappedRingBuffer[events.Envelope]
	notify  chan struct{}
	now     func() time.Time
	logger  *logrus.Logger
	metrics Metrics
}

var (
	_ events.AdapterObserver = (*Channel)(nil)
	_ events.DeviceObserver  = (*Channel)(nil)
)

// New creates a sink holding up to capacity events
func New(capacity uint32, logger *logrus.Logger) (*Channel, error) {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if capacity > MaxCapacity {
		return nil, fmt.Errorf("sink capacity %d exceeds maximum %d", capacity, MaxCapacity)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Channel{
		buffer: mpmc.NewOverlappedRingBuffer[events.Envelope](capacity),
		notify: make(chan struct{}, 1),
		now:    time.Now,
		logger: logger,
	}, nil
}

func (c *Channel) HandleAdapterEvent(state events.AdapterState) {
	c.put(events.NewAdapterEnvelope(c.now(), state))
}

func (c *Channel) HandleDeviceEvent(device *peer.Device, action events.Action, data events.DeviceEventData) {
	c.put(events.NewDeviceEnvelope(c.now(), device, action, data))
}

func (c *Channel) put(env events.Envelope) {
	c.metrics.Received.Add(1)

	overwrites, err := c.buffer.EnqueueM(env)
	if err != nil {
		c.logger.WithError(err).WithField("kind", env.Kind).Warn("Event sink rejected event")
		return
	}
	if overwrites > 0 {
		c.metrics.Overwritten.Add(int64(overwrites))
		c.logger.WithField("overwritten", overwrites).Debug("Event sink overflow, oldest events lost")
	}

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Drain removes and returns every buffered event, oldest first
func (c *Channel) Drain() []events.Envelope {
	var out []events.Envelope
	for !c.buffer.IsEmpty() {
		env, err := c.buffer.Dequeue()
		if err != nil {
			break
		}
		out = append(out, env)
	}
	c.metrics.Delivered.Add(int64(len(out)))
	return out
}

// Notify is signalled after events are buffered
func (c *Channel) Notify() <-chan struct{} {
	return c.notify
}

// Run hands buffered events to consume until ctx is done. Events still
// buffered when ctx ends are delivered before Run returns.
func (c *Channel) Run(ctx context.Context, consume func(events.Envelope)) {
	for {
		select {
		case <-ctx.Done():
			for _, env := range c.Drain() {
				consume(env)
			}
			return
		case <-c.notify:
			for _, env := range c.Drain() {
				consume(env)
			}
		}
	}
}

func (c *Channel) Metrics() *Metrics {
	return &c.metrics
}
