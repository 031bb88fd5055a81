package timeutil

import (
	"testing"
	"time"
)

func TestRealClockNow(t *testing.T) {
	c := RealClock{}
	before := time.Now()
	got := c.Now()
	after := time.Now()
	if got.Before(before) || got.After(after) {
		t.Errorf("Now() = %v, want between %v and %v", got, before, after)
	}
}

func TestMockClockSetAndAdvance(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(base)

	if !c.Now().Equal(base) {
		t.Errorf("Now() = %v, want %v", c.Now(), base)
	}

	c.Advance(time.Second)
	if got := c.Now(); !got.Equal(base.Add(time.Second)) {
		t.Errorf("after Advance, Now() = %v", got)
	}

	later := base.Add(time.Hour)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Errorf("after Set, Now() = %v, want %v", c.Now(), later)
	}
}

func TestMockClockSinceUntil(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(base)

	past := base.Add(-time.Minute)
	if got := c.Since(past); got != time.Minute {
		t.Errorf("Since = %v, want 1m", got)
	}
	future := base.Add(time.Minute)
	if got := c.Until(future); got != time.Minute {
		t.Errorf("Until = %v, want 1m", got)
	}
}

func TestMockClockSleepAdvances(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(base)

	done := make(chan struct{})
	go func() {
		c.Sleep(10 * time.Millisecond)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("mock Sleep blocked")
	}

	if got := c.Now(); !got.Equal(base.Add(10 * time.Millisecond)) {
		t.Errorf("Sleep did not advance the clock: %v", got)
	}
	sleeps := c.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != 10*time.Millisecond {
		t.Errorf("Sleeps = %v", sleeps)
	}
}
