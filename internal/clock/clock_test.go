package clock

import (
	"testing"
	"time"
)

func TestFake_AfterFiresAndAdvances(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	fired := <-c.After(2 * time.Second)
	if !fired.Equal(start.Add(2 * time.Second)) {
		t.Fatalf("expected fire time %v, got %v", start.Add(2*time.Second), fired)
	}
	<-c.After(0)
	c.Advance(time.Minute)

	if got := c.Now(); !got.Equal(start.Add(time.Minute + 2*time.Second)) {
		t.Fatalf("expected now %v, got %v", start.Add(time.Minute+2*time.Second), got)
	}
	waits := c.Waits()
	if len(waits) != 2 || waits[0] != 2*time.Second || waits[1] != 0 {
		t.Fatalf("unexpected waits %v", waits)
	}
}

func TestReal_After(t *testing.T) {
	c := Real()
	select {
	case <-c.After(time.Millisecond):
	case <-time.After(5 * time.Second):
		t.Fatal("real After did not fire")
	}
}
