// Package guard is imported for side effects by tests that touch binaries
// or app config: it switches runtime startup off and provides throwaway
// secrets so app.LoadConfig succeeds.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

var defaults = map[string]string{
	"PROPDESK_TEST_MODE": "1",
	"SESSION_SECRET":     "test-session-secret",
	"CSRF_SECRET":        "test-csrf-secret",
}

func init() {
	once.Do(func() {
		for key, value := range defaults {
			if os.Getenv(key) == "" {
				_ = os.Setenv(key, value)
			}
		}
		// Agents started from tests must never bind a real port.
		_ = os.Unsetenv("PROPDESK_AGENT_METRICS_ADDR")
	})
}
