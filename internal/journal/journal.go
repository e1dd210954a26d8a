// Package journal keeps the most recent events as JSON lines within a fixed
// byte budget, for diagnostics.
package journal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/btevents/internal/events"
	"github.com/srg/btevents/internal/peer"
)

// DefaultSize is the journal budget in bytes
const DefaultSize = 64 * 1024

// Journal is an events observer. Each event is stored as one JSON line; when
// a new line does not fit, whole lines are evicted from the oldest end.
type Journal struct {
	mu      sync.Mutex
	buf     *ringbuffer.RingBuffer
	size    int
	evicted int
	now     func() time.Time
	logger  *logrus.Logger
}

var (
	_ events.AdapterObserver = (*Journal)(nil)
	_ events.DeviceObserver  = (*Journal)(nil)
)

// New creates a journal retaining at most size bytes
func New(size int, logger *logrus.Logger) *Journal {
	if size <= 0 {
		size = DefaultSize
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Journal{
		buf:    ringbuffer.New(size),
		size:   size,
		now:    time.Now,
		logger: logger,
	}
}

func (j *Journal) HandleAdapterEvent(state events.AdapterState) {
	j.Append(events.NewAdapterEnvelope(j.now(), state))
}

func (j *Journal) HandleDeviceEvent(device *peer.Device, action events.Action, data events.DeviceEventData) {
	j.Append(events.NewDeviceEnvelope(j.now(), device, action, data))
}

// Append stores env, evicting old lines as needed. A line larger than the
// whole budget is dropped.
func (j *Journal) Append(env events.Envelope) {
	line, err := env.MarshalLine()
	if err != nil {
		j.logger.WithError(err).Warn("Journal could not encode event")
		return
	}
	if err := j.write(line); err != nil {
		j.logger.WithError(err).WithField("bytes", len(line)).Warn("Journal dropped event")
	}
}

func (j *Journal) write(line []byte) error {
	if len(line) > j.size {
		return fmt.Errorf("line of %d bytes exceeds journal size %d", len(line), j.size)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if free := j.size - j.buf.Length(); free < len(line) {
		j.evictLocked(len(line) - free)
	}

	n, err := j.buf.Write(line)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return err
	}
	if n != len(line) {
		return fmt.Errorf("short journal write: %d of %d bytes", n, len(line))
	}
	return nil
}

// evictLocked drops whole lines from the oldest end until at least need
// bytes are freed.
func (j *Journal) evictLocked(need int) {
	content := j.readAllLocked()

	cut := 0
	for cut < need && cut < len(content) {
		i := bytes.IndexByte(content[cut:], '\n')
		if i < 0 {
			cut = len(content)
			break
		}
		cut += i + 1
		j.evicted++
	}

	if cut < len(content) {
		_, _ = j.buf.Write(content[cut:])
	}
}

// readAllLocked empties the ring and returns its content
func (j *Journal) readAllLocked() []byte {
	content := make([]byte, j.buf.Length())
	read := 0
	for read < len(content) {
		n, err := j.buf.TryRead(content[read:])
		read += n
		if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
			break
		}
	}
	j.buf.Reset()
	return content[:read]
}

// Bytes returns a copy of the retained lines
func (j *Journal) Bytes() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()

	content := j.readAllLocked()
	_, _ = j.buf.Write(content)
	return content
}

// WriteTo writes the retained lines to w, oldest first
func (j *Journal) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(j.Bytes())
	return int64(n), err
}

// Lines returns the number of retained lines
func (j *Journal) Lines() int {
	return bytes.Count(j.Bytes(), []byte{'\n'})
}

// Evicted returns how many lines were dropped to make room
func (j *Journal) Evicted() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.evicted
}
