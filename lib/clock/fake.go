// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock that reads start until advanced.
func Fake(start time.Time) *FakeClock {
	clock := &FakeClock{now: start}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a manually driven Clock. It is safe for concurrent use.
//
// AfterFunc callbacks run synchronously inside Advance, in deadline
// order. A callback must not call Advance or Sleep.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*pendingTimer
	changed *sync.Cond
}

type pendingTimer struct {
	deadline time.Time
	period   time.Duration // non-zero for tickers
	channel  chan time.Time
	callback func()
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a one-shot timer. Non-positive durations deliver
// immediately without registering.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.addLocked(&pendingTimer{deadline: c.now.Add(d), channel: channel})
	return channel
}

// AfterFunc registers f to run during the Advance that crosses the
// deadline. Non-positive durations run f before returning.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stop: func() bool { return false }}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &pendingTimer{deadline: c.now.Add(d), callback: f}
	c.addLocked(timer)
	return &Timer{stop: func() bool { return c.cancel(timer) }}
}

// NewTicker registers a periodic timer.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: NewTicker requires a positive interval")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	channel := make(chan time.Time, 1)
	timer := &pendingTimer{deadline: c.now.Add(d), period: d, channel: channel}
	c.addLocked(timer)
	return &Ticker{C: channel, stop: func() { c.cancel(timer) }}
}

// Sleep blocks until the clock is advanced past now+d.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves time forward by d and fires every timer whose deadline
// is at or before the new time, earliest first. Tickers fire once per
// elapsed period; ticks that find a full channel are dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		due := c.takeDue(target)
		if len(due) == 0 {
			return
		}
		for _, timer := range due {
			if timer.callback != nil {
				timer.callback()
				continue
			}
			select {
			case timer.channel <- target:
			default:
			}
		}
	}
}

// BlockUntil waits until at least n timers are pending.
func (c *FakeClock) BlockUntil(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.liveLocked() < n {
		c.changed.Wait()
	}
}

// Pending returns the number of registered, uncanceled timers.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked()
}

func (c *FakeClock) addLocked(timer *pendingTimer) {
	c.pending = append(c.pending, timer)
	c.changed.Broadcast()
}

func (c *FakeClock) cancel(timer *pendingTimer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, candidate := range c.pending {
		if candidate == timer {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

// takeDue removes the timers due at target, re-arms tickers for their
// next period, and returns the due timers in deadline order.
func (c *FakeClock) takeDue(target time.Time) []*pendingTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	type firing struct {
		timer    *pendingTimer
		deadline time.Time
	}
	var firings []firing
	keep := c.pending[:0:0]
	for _, timer := range c.pending {
		if timer.deadline.After(target) {
			keep = append(keep, timer)
			continue
		}
		firings = append(firings, firing{timer: timer, deadline: timer.deadline})
		if timer.period > 0 {
			timer.deadline = timer.deadline.Add(timer.period)
			keep = append(keep, timer)
		}
	}
	c.pending = keep

	sort.SliceStable(firings, func(i, j int) bool {
		return firings[i].deadline.Before(firings[j].deadline)
	})
	due := make([]*pendingTimer, len(firings))
	for i, entry := range firings {
		due[i] = entry.timer
	}
	return due
}

func (c *FakeClock) liveLocked() int {
	return len(c.pending)
}
