// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

var (
	_ Clock = (*FakeClock)(nil)
	_ Clock = realClock{}
)

func TestFakeNow(t *testing.T) {
	t.Parallel()

	clock := Fake(epoch)
	if got := clock.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	clock.Advance(5 * time.Second)
	if got, want := clock.Now(), epoch.Add(5*time.Second); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeAfter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		wait     time.Duration
		advance  []time.Duration
		wantFire bool
	}{
		{"zero fires immediately", 0, nil, true},
		{"negative fires immediately", -time.Second, nil, true},
		{"not yet due", 3 * time.Second, []time.Duration{2 * time.Second}, false},
		{"exactly due", 3 * time.Second, []time.Duration{3 * time.Second}, true},
		{"due over several advances", 3 * time.Second, []time.Duration{time.Second, time.Second, time.Second}, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			clock := Fake(epoch)
			channel := clock.After(test.wait)
			for _, step := range test.advance {
				clock.Advance(step)
			}
			select {
			case <-channel:
				if !test.wantFire {
					t.Fatal("After fired early")
				}
			default:
				if test.wantFire {
					t.Fatal("After did not fire")
				}
			}
		})
	}
}

func TestFakeAfterFunc(t *testing.T) {
	t.Parallel()

	clock := Fake(epoch)
	var calls atomic.Int32
	clock.AfterFunc(time.Second, func() { calls.Add(1) })

	clock.Advance(999 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatal("callback ran early")
	}
	clock.Advance(time.Millisecond)
	clock.Advance(time.Hour)
	if got := calls.Load(); got != 1 {
		t.Fatalf("callback ran %d times, want 1", got)
	}
	if clock.Pending() != 0 {
		t.Errorf("Pending() = %d after firing", clock.Pending())
	}
}

func TestFakeAfterFuncZeroRunsInline(t *testing.T) {
	t.Parallel()

	ran := false
	timer := Fake(epoch).AfterFunc(0, func() { ran = true })
	if !ran {
		t.Fatal("AfterFunc(0) did not run the callback")
	}
	if timer.Stop() {
		t.Error("Stop reported a pending call")
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	t.Parallel()

	clock := Fake(epoch)
	ran := false
	timer := clock.AfterFunc(time.Second, func() { ran = true })
	if clock.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", clock.Pending())
	}
	if !timer.Stop() {
		t.Fatal("first Stop should report the call as pending")
	}
	if timer.Stop() {
		t.Error("second Stop should report false")
	}
	clock.Advance(time.Minute)
	if ran {
		t.Error("stopped callback ran")
	}
	if clock.Pending() != 0 {
		t.Errorf("Pending() = %d after Stop", clock.Pending())
	}

	fired := clock.AfterFunc(time.Second, func() {})
	clock.Advance(time.Second)
	if fired.Stop() {
		t.Error("Stop after firing should report false")
	}
}

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	t.Parallel()

	clock := Fake(epoch)
	var order []int
	clock.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	clock.AfterFunc(time.Second, func() { order = append(order, 1) })
	clock.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	clock.Advance(5 * time.Second)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("order = %v, want [1 2 3]", order)
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	t.Parallel()

	clock := Fake(epoch)
	done := make(chan struct{})
	go func() {
		<-clock.After(time.Second)
		close(done)
	}()

	clock.WaitForTimers(1)
	clock.Advance(time.Second)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not released by Advance")
	}
}

func TestFakeConcurrentUse(t *testing.T) {
	t.Parallel()

	clock := Fake(epoch)
	var fired atomic.Int32
	var group sync.WaitGroup
	for range 20 {
		group.Add(1)
		go func() {
			defer group.Done()
			clock.AfterFunc(time.Second, func() { fired.Add(1) })
			_ = clock.Now()
		}()
	}
	group.Wait()
	clock.Advance(time.Second)
	if got := fired.Load(); got != 20 {
		t.Errorf("fired = %d, want 20", got)
	}
}

func TestRealAfterFuncStop(t *testing.T) {
	t.Parallel()

	timer := Real().AfterFunc(time.Hour, func() { t.Error("stopped timer fired") })
	if !timer.Stop() {
		t.Error("Stop should report a pending call")
	}
}
