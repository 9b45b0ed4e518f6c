// File: kqueue/scan.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package kqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/momentics/hioload-kq/api"
)

// Scan copies up to len(events) ready events into events and returns how
// many were written.
//
// A nil timeout blocks until at least one event is available. A zero
// timeout polls. On expiry Scan returns the events drained so far with a
// nil error. If ctx is cancelled while blocked, Scan returns ErrCancelled.
func (q *Queue) Scan(ctx context.Context, events []api.Kevent, timeout *time.Duration) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var expired <-chan time.Time
	poll := false
	if timeout != nil {
		switch {
		case *timeout < 0:
			return 0, api.NewError(api.ErrCodeInvalidArgument, "kqueue: negative timeout")
		case *timeout == 0:
			poll = true
		default:
			t := time.NewTimer(*timeout)
			defer t.Stop()
			expired = t.C
		}
	}

	marker := newMarker()
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return 0, api.NewError(api.ErrCodeBadHandle, "kqueue: queue closed").WithContext("queue", q.id)
		}
		if q.count == 0 {
			if poll {
				q.mu.Unlock()
				return 0, nil
			}
			wake := q.waitChanLocked()
			q.mu.Unlock()
			q.rt.metrics.ScanWait()
			select {
			case <-wake:
				continue
			case <-expired:
				return 0, nil
			case <-ctx.Done():
				return 0, cancelled(ctx)
			}
		}

		n := q.scanLocked(marker, events)
		if n > 0 || poll {
			q.rt.metrics.Delivered(n)
			return n, nil
		}
		// Every entry in the pass was stale.
		select {
		case <-expired:
			return 0, nil
		case <-ctx.Done():
			return 0, cancelled(ctx)
		default:
		}
	}
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %v", api.ErrCancelled, context.Cause(ctx))
}

// scanLocked runs one marker-bounded pass. It is entered with q.mu held and
// returns with it released.
func (q *Queue) scanLocked(marker *Watch, out []api.Kevent) int {
	chunks := q.rt.chunks.Load()
	buf := chunks.Get()
	defer chunks.Put(buf)
	limit := cap(*buf)

	copied, total := 0, 0
	readable := false
	q.list.pushBack(marker)
	for {
		w := q.list.frontFor(marker)
		if w == nil {
			panic("kqueue: scan marker lost")
		}
		if w == marker {
			q.list.remove(marker)
			break
		}
		if w.status&statusQueued == 0 {
			panic(fmt.Sprintf("kqueue: unqueued watch %d/%d on ready list", w.ident, w.filter))
		}
		q.dequeueLocked(w)
		if w.status&statusDisabled != 0 {
			continue
		}

		if w.f.Flags&api.EvOneshot == 0 {
			q.mu.Unlock()
			ready := w.event(0)
			q.mu.Lock()
			if w.status&statusDetached != 0 {
				continue
			}
			if !ready {
				if w.status&statusQueued == 0 {
					w.status &^= statusActive
				}
				continue
			}
		}

		*buf = append(*buf, w.keventLocked())
		total++
		requeued := w.status&statusQueued != 0

		switch {
		case w.f.Flags&api.EvOneshot != 0:
			w.status |= statusDetached
			if requeued {
				q.dequeueLocked(w)
			}
			q.mu.Unlock()
			q.owner.detachWatch(w)
			q.mu.Lock()
		case w.f.Flags&(api.EvClear|api.EvDispatch) != 0:
			if w.f.Flags&api.EvClear != 0 {
				w.clearLocked()
			}
			if w.f.Flags&api.EvDispatch != 0 {
				w.status |= statusDisabled
			}
			if !requeued {
				w.status &^= statusActive
			}
		default:
			if !requeued && q.enqueueLocked(w) {
				readable = true
			}
		}

		if copied+len(*buf) == len(out) {
			q.list.remove(marker)
			break
		}
		if len(*buf) == limit {
			q.mu.Unlock()
			copied += copy(out[copied:], *buf)
			*buf = (*buf)[:0]
			q.mu.Lock()
		}
	}
	if q.rt.checkInvariants.Load() {
		if err := q.verifyLocked(); err != nil {
			q.mu.Unlock()
			panic(err)
		}
	}
	q.mu.Unlock()
	copy(out[copied:], *buf)
	// A level-triggered requeue can take the queue from empty back to
	// readable while watchers of this queue saw it drained.
	if readable {
		q.notes.Notify(0)
	}
	return total
}
