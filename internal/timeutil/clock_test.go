package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	start := c.Now()
	c.Sleep(time.Millisecond)
	if got := c.Since(start); got < time.Millisecond {
		t.Errorf("Expected at least 1ms elapsed, got %v", got)
	}
}

func TestMockClock(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewMockClock(base)

	if !c.Now().Equal(base) {
		t.Errorf("Expected %v, got %v", base, c.Now())
	}

	c.Advance(time.Minute)
	if got := c.Since(base); got != time.Minute {
		t.Errorf("Expected 1m, got %v", got)
	}

	c.Sleep(2 * time.Second)
	c.Sleep(4 * time.Second)
	if got := c.Since(base); got != time.Minute+6*time.Second {
		t.Errorf("Expected 1m6s, got %v", got)
	}
	sleeps := c.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 2*time.Second || sleeps[1] != 4*time.Second {
		t.Errorf("Unexpected sleeps %v", sleeps)
	}

	c.Set(base)
	if !c.Now().Equal(base) {
		t.Errorf("Expected clock reset to %v, got %v", base, c.Now())
	}
}
