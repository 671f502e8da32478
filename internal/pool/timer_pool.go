// Package pool provides small object pools shared by the interlock packages.
package pool

import (
	"sync"
	"time"
)

var timers sync.Pool

// AcquireTimer returns a timer from the pool, set to fire after d.
//
// Release the timer back to the pool with ReleaseTimer.
func AcquireTimer(d time.Duration) *time.Timer {
	if v := timers.Get(); v != nil {
		t, _ := v.(*time.Timer) // Only *time.Timer values are ever put into the pool
		if t.Reset(d) {
			// Timer was active, drain the channel to prevent potential leaks
			select {
			case <-t.C:
			default:
			}
		}
		return t
	}
	return time.NewTimer(d)
}

// ReleaseTimer returns a timer to the pool.
//
// t must not be accessed after the call.
func ReleaseTimer(t *time.Timer) {
	if !t.Stop() {
		// Drain t.C if the caller hasn't received from it yet.
		select {
		case <-t.C:
		default:
		}
	}
	timers.Put(t)
}
