// Package scheduler hosts the two timer-driven loops of a client process:
// the session keep-alive and the jittered background sync. Each is a
// constructed service with Start/Stop; a second Start while running is a
// no-op. Timers come from an injected clock.Clock and every callback
// carries the generation it was armed for, so a callback racing Stop is
// ignored.
package scheduler
