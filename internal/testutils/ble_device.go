package testutils

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
)

// FakeBLEDevice is a scanning ble.Device. Advertisements pushed with
// Push are delivered to the running Scan handler in order; Scan returns
// when its context is cancelled or ScanErr is set.
type FakeBLEDevice struct {
	ble.Device

	ads chan ble.Advertisement

	mu        sync.Mutex
	ScanErr   error
	StopErr   error
	scans     int
	stopCalls int
	scanning  chan struct{}
}

var _ ble.Device = (*FakeBLEDevice)(nil)

// NewFakeBLEDevice creates a device that buffers up to 64 advertisements
func NewFakeBLEDevice() *FakeBLEDevice {
	return &FakeBLEDevice{
		ads:      make(chan ble.Advertisement, 64),
		scanning: make(chan struct{}),
	}
}

// Scan delivers pushed advertisements to h until ctx is done
func (d *FakeBLEDevice) Scan(ctx context.Context, _ bool, h ble.AdvHandler) error {
	d.mu.Lock()
	d.scans++
	err := d.ScanErr
	if d.scans == 1 {
		close(d.scanning)
	}
	d.mu.Unlock()

	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case adv := <-d.ads:
			h(adv)
		}
	}
}

func (d *FakeBLEDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopCalls++
	return d.StopErr
}

// Push queues an advertisement for the scan handler
func (d *FakeBLEDevice) Push(adv ble.Advertisement) {
	d.ads <- adv
}

// Scanning is closed once Scan has been called
func (d *FakeBLEDevice) Scanning() <-chan struct{} {
	return d.scanning
}

// StopCalls returns how many times Stop was called
func (d *FakeBLEDevice) StopCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopCalls
}

// Pending returns the number of queued, undelivered advertisements
func (d *FakeBLEDevice) Pending() int {
	return len(d.ads)
}
