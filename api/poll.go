// Package api
// Author: momentics
//
// The single wait point: apply a list of watch changes, then retrieve a batch
// of ready events with one call.

package api

import (
	"context"
	"time"
)

// Poller applies watch changes and retrieves ready events.
type Poller interface {
	// Kevent applies changes in order, then waits for up to len(events)
	// ready events. A nil timeout blocks until at least one event is ready
	// or ctx is done; a zero timeout polls. When events has room, failed
	// changes are reported inline as EvError entries instead of aborting.
	Kevent(ctx context.Context, changes []Kevent, events []Kevent, timeout *time.Duration) (int, error)

	// Close detaches every watch owned by the poller.
	Close() error
}
