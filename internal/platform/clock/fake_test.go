package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFuncFiresAtDeadline(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	var firedAt time.Time
	c.AfterFunc(time.Minute, func() { firedAt = c.Now() })

	c.Advance(59 * time.Second)
	if !firedAt.IsZero() {
		t.Fatalf("timer fired early at %s", firedAt)
	}
	c.Advance(time.Second)
	if !firedAt.Equal(start.Add(time.Minute)) {
		t.Fatalf("expected fire at %s, got %s", start.Add(time.Minute), firedAt)
	}
}

func TestFakeStopPreventsFire(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatalf("expected Stop to report pending timer")
	}
	c.Advance(time.Hour)
	if fired {
		t.Fatalf("stopped timer fired")
	}
	if timer.Stop() {
		t.Fatalf("second Stop should report false")
	}
}

func TestFakeCallbackObservesOwnDeadline(t *testing.T) {
	start := time.Unix(0, 0)
	c := Fake(start)
	var seen []time.Duration
	var rearm func()
	rearm = func() {
		seen = append(seen, c.Now().Sub(start))
		if len(seen) < 3 {
			c.AfterFunc(10*time.Second, rearm)
		}
	}
	c.AfterFunc(10*time.Second, rearm)

	c.Advance(time.Minute)

	want := []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second}
	if len(seen) != len(want) {
		t.Fatalf("expected %d fires, got %v", len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("fire %d at %s, want %s", i, seen[i], want[i])
		}
	}
	if got := c.Now().Sub(start); got != time.Minute {
		t.Fatalf("clock should end at target, got %s", got)
	}
	if len(c.Pending()) != 0 {
		t.Fatalf("expected no pending timers")
	}
}
