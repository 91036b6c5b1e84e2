// Package clock provides an injectable time source for the cache and the
// schedulers. Production code uses Real(); tests use Fake() and advance time
// explicitly.
package clock

import "time"

// Clock abstracts the time operations used by timer-driven components.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc waits for d, then calls f. If d <= 0, f is called
	// immediately in a new goroutine (real) or synchronously (fake).
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call from firing. It reports whether the call was
	// still pending.
	Stop() bool
}
