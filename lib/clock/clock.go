// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time source of the step runner. The process controller
// waits out its interrupt and terminate grace periods with After, the
// job runner arms step timeouts with AfterFunc, and the step log and
// telemetry stamp lines with Now.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the time once d has
	// elapsed. If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed. Stop on the returned Timer
	// cancels a call that has not happened yet.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stop func() bool
}

// Stop cancels the call. It reports whether the call was still
// pending; false means f already ran or Stop was called before.
func (t *Timer) Stop() bool { return t.stop() }
