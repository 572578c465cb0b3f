// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNow(t *testing.T) {
	c := Fake(testEpoch)
	if got := c.Now(); !got.Equal(testEpoch) {
		t.Errorf("Now() = %v, want %v", got, testEpoch)
	}
	c.Advance(time.Hour)
	if got := c.Now(); !got.Equal(testEpoch.Add(time.Hour)) {
		t.Errorf("Now() after Advance = %v, want %v", got, testEpoch.Add(time.Hour))
	}
}

func TestFakeAfter(t *testing.T) {
	c := Fake(testEpoch)
	ch := c.After(time.Minute)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	c.Advance(time.Minute)
	select {
	case got := <-ch:
		if !got.Equal(testEpoch.Add(time.Minute)) {
			t.Errorf("After delivered %v, want %v", got, testEpoch.Add(time.Minute))
		}
	default:
		t.Fatal("After did not fire after Advance past deadline")
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	c := Fake(testEpoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) should receive immediately")
	}
}

func TestFakeTicker(t *testing.T) {
	c := Fake(testEpoch)
	ticker := c.NewTicker(time.Minute)
	defer ticker.Stop()

	c.Advance(time.Minute)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not fire after one interval")
	}

	// A stopped ticker stays silent.
	ticker.Stop()
	c.Advance(5 * time.Minute)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFakeTickerMultipleIntervals(t *testing.T) {
	c := Fake(testEpoch)
	ticker := c.NewTicker(time.Minute)
	defer ticker.Stop()

	// Channel capacity is 1: a multi-interval advance delivers at
	// most one buffered tick, the rest are dropped.
	c.Advance(3 * time.Minute)
	ticks := 0
	for {
		select {
		case <-ticker.C:
			ticks++
			continue
		default:
		}
		break
	}
	if ticks != 1 {
		t.Errorf("got %d buffered ticks, want 1", ticks)
	}
}

func TestWaitForTimers(t *testing.T) {
	c := Fake(testEpoch)
	done := make(chan struct{})
	go func() {
		<-c.After(time.Second)
		close(done)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("goroutine never observed the fired timer")
	}
}

func TestPendingCount(t *testing.T) {
	c := Fake(testEpoch)
	if got := c.PendingCount(); got != 0 {
		t.Errorf("PendingCount = %d, want 0", got)
	}
	c.After(time.Second)
	ticker := c.NewTicker(time.Second)
	if got := c.PendingCount(); got != 2 {
		t.Errorf("PendingCount = %d, want 2", got)
	}
	ticker.Stop()
	if got := c.PendingCount(); got != 1 {
		t.Errorf("PendingCount after Stop = %d, want 1", got)
	}
}
