// Package api
// Author: momentics
//
// Scheduler contract for the timer filter's callouts.

package api

import "time"

// Scheduler abstracts one-shot and periodic callouts.
type Scheduler interface {
	// Schedule runs fn once after delay and, when period > 0, every period
	// after that until canceled.
	Schedule(delay, period time.Duration, fn func()) (Cancelable, error)

	// Resolution is the smallest interval the scheduler honors. Requested
	// intervals are rounded up to a multiple of it.
	Resolution() time.Duration
}

// Cancelable is a scheduled callback that may be canceled.
type Cancelable interface {
	// Cancel stops future runs and waits for an in-flight run to return.
	// It must not be called from the callback itself.
	Cancel()
}
