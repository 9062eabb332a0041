package testutil

import (
	"time"
)

// TestingT is the subset of testing.TB used by the helpers here
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
}

// WaitFor polls condition every 5ms until it holds or timeout elapses
func WaitFor(t TestingT, condition func() bool, timeout time.Duration, msgAndArgs ...interface{}) bool {
	t.Helper()

	deadline := time.After(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return true
		}
		select {
		case <-deadline:
			t.Errorf("timeout waiting for condition: %v", msgAndArgs)
			return false
		case <-ticker.C:
		}
	}
}
