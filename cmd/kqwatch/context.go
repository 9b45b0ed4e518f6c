package main

import (
	"context"
	"time"
)

// contextUntil returns a context that is cancelled grace after done closes,
// so events produced by the last tick are still printed.
func contextUntil(parent context.Context, done <-chan struct{}, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		t := time.NewTimer(grace)
		defer t.Stop()
		select {
		case <-t.C:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
