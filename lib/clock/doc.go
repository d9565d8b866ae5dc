// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the injectable time source of the step runner.
//
// Code that waits or stamps times takes a [Clock] instead of calling
// the time package. Production passes [Real]. Tests pass a
// [FakeClock], which stands still until the test advances it:
//
//	fakeClock := clock.Fake(time.Unix(0, 0))
//	controller := &steprun.Controller{Clock: fakeClock, Spawner: spawner}
//	go controller.Run(ctx, step, request, lines)
//	cancel()
//	fakeClock.WaitForTimers(1)                 // the interrupt grace period is armed
//	fakeClock.Advance(request.SigintTimeout)   // and has now run out
//
// WaitForTimers closes the race between a goroutine registering a wait
// and the test moving time past it.
package clock
