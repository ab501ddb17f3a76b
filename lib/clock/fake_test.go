// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowAdvances(t *testing.T) {
	clock := Fake(epoch)
	clock.Advance(3 * time.Second)
	if got, want := clock.Now(), epoch.Add(3*time.Second); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
}

func TestFakeAfterFiresAtDeadline(t *testing.T) {
	clock := Fake(epoch)
	channel := clock.After(2 * time.Second)

	clock.Advance(time.Second)
	select {
	case <-channel:
		t.Fatal("After fired early")
	default:
	}

	clock.Advance(time.Second)
	select {
	case <-channel:
	default:
		t.Fatal("After did not fire at its deadline")
	}
	if clock.Pending() != 0 {
		t.Fatalf("Pending() = %d after firing, want 0", clock.Pending())
	}
}

func TestFakeAfterNonPositiveDeliversImmediately(t *testing.T) {
	clock := Fake(epoch)
	select {
	case <-clock.After(0):
	default:
		t.Fatal("After(0) did not deliver immediately")
	}
	if clock.Pending() != 0 {
		t.Fatal("After(0) registered a timer")
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	clock := Fake(epoch)
	var calls atomic.Int32
	timer := clock.AfterFunc(time.Second, func() { calls.Add(1) })

	if !timer.Stop() {
		t.Fatal("Stop() on a pending timer returned false")
	}
	if timer.Stop() {
		t.Fatal("second Stop() returned true")
	}
	clock.Advance(2 * time.Second)
	if calls.Load() != 0 {
		t.Fatal("stopped AfterFunc ran")
	}
}

func TestFakeAfterFuncOrder(t *testing.T) {
	clock := Fake(epoch)
	var order []int
	clock.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	clock.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	clock.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	clock.Advance(5 * time.Second)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("callbacks ran in order %v, want [1 2 3]", order)
	}
}

func TestFakeTickerFiresEachPeriod(t *testing.T) {
	clock := Fake(epoch)
	ticker := clock.NewTicker(time.Second)
	defer ticker.Stop()

	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("tick %d missing", i)
		}
	}
}

func TestFakeBlockUntil(t *testing.T) {
	clock := Fake(epoch)
	done := make(chan struct{})
	go func() {
		clock.Sleep(time.Minute)
		close(done)
	}()

	clock.BlockUntil(1)
	clock.Advance(time.Minute)
	select {
	case <-done:
	case <-time.After(5 * time.Second): //nolint:realclock test hang prevention
		t.Fatal("Sleep did not return after Advance")
	}
}
