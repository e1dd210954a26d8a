package pending

import "time"

// Timer is a scheduled callback that can be stopped before it fires
type Timer interface {
	Stop() bool
}

// Clock schedules the debounce callbacks. Tests replace it with a manual
// clock to fire flushes deterministically.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemClock schedules with time.AfterFunc
type SystemClock struct{}

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
