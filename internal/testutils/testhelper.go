package testutils

import (
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/btevents/internal/bridge"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// Address returns a deterministic device address for index i
func Address(i int) string {
	return fmt.Sprintf("AA:BB:CC:00:%02X:%02X", (i>>8)&0xFF, i&0xFF)
}

// PeerInfo builds a payload for address with optional key/value pairs
func PeerInfo(address string, kv ...any) bridge.PeerInfo {
	info := bridge.NewPeerInfo(address)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("PeerInfo: key at %d is %T, want string", i, kv[i]))
		}
		info[key] = kv[i+1]
	}
	return info
}

// Eventually polls cond until it holds or timeout expires
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}
