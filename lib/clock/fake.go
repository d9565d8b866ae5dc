// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// FakeClock is a Clock whose time moves only when Advance is called.
// It is safe for concurrent use.
//
// AfterFunc callbacks run synchronously inside Advance, in deadline
// order. A callback must not call Advance.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*deadline
	changed *sync.Cond
}

// deadline is one registered After or AfterFunc. Exactly one of
// channel and callback is set.
type deadline struct {
	at       time.Time
	channel  chan time.Time
	callback func()
	done     bool
}

// Fake returns a FakeClock reading initial.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{now: initial}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives once the clock has been
// advanced by d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	channel := make(chan time.Time, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.register(&deadline{at: c.now.Add(d), channel: channel})
	return channel
}

// AfterFunc registers f to run inside the Advance call that moves the
// clock past d. With d <= 0, f runs before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stop: func() bool { return false }}
	}

	c.mu.Lock()
	entry := &deadline{at: c.now.Add(d), callback: f}
	c.register(entry)
	c.mu.Unlock()

	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if entry.done {
			return false
		}
		entry.done = true
		c.pending = slices.DeleteFunc(c.pending, func(other *deadline) bool { return other == entry })
		return true
	}}
}

// register adds entry to the pending list. c.mu must be held.
func (c *FakeClock) register(entry *deadline) {
	c.pending = append(c.pending, entry)
	c.changed.Broadcast()
}

// Advance moves the clock forward by d and fires every deadline it
// passes, earliest first. Channel sends never block.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var due []*deadline
	c.pending = slices.DeleteFunc(c.pending, func(entry *deadline) bool {
		if entry.at.After(now) {
			return false
		}
		entry.done = true
		due = append(due, entry)
		return true
	})
	c.mu.Unlock()

	slices.SortStableFunc(due, func(a, b *deadline) int { return a.at.Compare(b.at) })
	for _, entry := range due {
		if entry.callback != nil {
			entry.callback()
			continue
		}
		select {
		case entry.channel <- now:
		default:
		}
	}
}

// WaitForTimers blocks until at least n deadlines are pending. Tests
// call it before Advance so a goroutine that is about to wait is
// known to have registered.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}

// Pending returns the number of deadlines that have not fired or been
// stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
