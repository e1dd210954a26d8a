package coordinator

import "sync"

var (
	sharedMu sync.Mutex
	shared   *Coordinator
)

// Setup creates the process-wide coordinator from newFn on first use and
// returns it. Later calls return the existing instance without calling newFn.
func Setup(newFn func() *Coordinator) *Coordinator {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if shared == nil {
		shared = newFn()
	}
	return shared
}

// Shared returns the process-wide coordinator, if Setup has run
func Shared() (*Coordinator, bool) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	return shared, shared != nil
}

// Teardown shuts the process-wide coordinator down and forgets it, so the
// next Setup starts from scratch.
func Teardown() error {
	sharedMu.Lock()
	c := shared
	shared = nil
	sharedMu.Unlock()

	if c == nil {
		return nil
	}
	return c.Shutdown()
}
