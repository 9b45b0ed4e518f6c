// File: kqueue/queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Queue is the wait point: ready list, count of queued watches and the
// waiter wakeup. A Queue is itself a readable source so queues can be
// nested or polled.

package kqueue

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/momentics/hioload-kq/api"
)

type watchKey struct {
	ident  uint64
	filter uint32
}

// Queue is an event queue.
type Queue struct {
	id    string
	owner *Owner
	rt    *Runtime
	notes NoteList // watches of other queues on this one

	hash map[watchKey]*Watch // non-handle watches, guarded by owner.mu

	mu     sync.Mutex
	list   readyList
	count  int
	wake   chan struct{} // closed and replaced on every wakeup
	closed bool
}

var _ Resource = (*Queue)(nil)

func newQueue(o *Owner) *Queue {
	q := &Queue{
		id:    uuid.NewString(),
		owner: o,
		rt:    o.rt,
		hash:  make(map[watchKey]*Watch),
	}
	q.list.init()
	return q
}

// ID is a unique queue identity for logs and probes.
func (q *Queue) ID() string { return q.id }

// Owner returns the queue's owner.
func (q *Queue) Owner() *Owner { return q.owner }

// Count returns the number of queued watches.
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Close detaches every watch of the queue and wakes blocked scans, which
// then fail with ErrBadHandle. Close is idempotent.
func (q *Queue) Close() error {
	q.owner.closeQueue(q)
	return nil
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// activateLocked sets Active and queues w when it is neither disabled nor
// already queued. It reports whether the queue went from empty to readable.
func (q *Queue) activateLocked(w *Watch) bool {
	w.status |= statusActive
	if w.status&(statusQueued|statusDisabled) == 0 {
		return q.enqueueLocked(w)
	}
	return false
}

func (q *Queue) enqueueLocked(w *Watch) bool {
	if w.status&statusQueued != 0 {
		panic(fmt.Sprintf("kqueue: watch %d/%d queued twice", w.ident, w.filter))
	}
	q.list.pushBack(w)
	w.status |= statusQueued
	q.count++
	q.wakeLocked()
	return q.count == 1
}

func (q *Queue) dequeueLocked(w *Watch) {
	q.list.remove(w)
	w.status &^= statusQueued
	q.count--
	if q.count < 0 {
		panic("kqueue: negative ready count")
	}
}

func (q *Queue) waitChanLocked() <-chan struct{} {
	if q.wake == nil {
		q.wake = make(chan struct{})
	}
	return q.wake
}

// wakeLocked releases every blocked scanner, not just one. Scanners that
// find the ready list already drained by a peer go back to waiting.
func (q *Queue) wakeLocked() {
	if q.wake != nil {
		close(q.wake)
		q.wake = nil
	}
}

func (q *Queue) disable(w *Watch) {
	q.mu.Lock()
	w.status |= statusDisabled
	q.mu.Unlock()
}

func (q *Queue) enable(w *Watch) {
	q.mu.Lock()
	w.status &^= statusDisabled
	readable := false
	if w.status&(statusActive|statusQueued) == statusActive {
		readable = q.enqueueLocked(w)
	}
	q.mu.Unlock()
	if readable {
		q.notes.Notify(0)
	}
}

// KQFilter lets another queue watch this one with the read filter. Data is
// the number of queued watches.
func (q *Queue) KQFilter(w *Watch) error {
	if w.FilterID() != api.FilterRead {
		return api.NewError(api.ErrCodeInvalidArgument, "kqueue: queue supports only the read filter").
			WithContext("filter", w.FilterID())
	}
	if w.kq == q {
		return api.NewError(api.ErrCodeInvalidArgument, "kqueue: queue cannot watch itself")
	}
	w.SetOps(queueSource{q})
	q.notes.Add(w)
	return nil
}

type queueSource struct{ q *Queue }

func (s queueSource) Detach(w *Watch) { s.q.notes.Remove(w) }

func (s queueSource) Event(w *Watch, _ int64) bool {
	n := s.q.Count()
	w.Update(func(f *Fields) { f.Data = int64(n) })
	return n > 0
}

// Snapshot is a point-in-time view of a queue for debugging.
type Snapshot struct {
	ID      string       `json:"id" yaml:"id"`
	Count   int          `json:"count" yaml:"count"`
	Markers int          `json:"markers" yaml:"markers"`
	Closed  bool         `json:"closed" yaml:"closed"`
	Ready   []api.Kevent `json:"ready" yaml:"ready"`
}

// Snapshot returns the ready list contents.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Snapshot{ID: q.id, Count: q.count, Closed: q.closed}
	q.list.each(func(w *Watch) bool {
		if w.status&statusMarker != 0 {
			s.Markers++
			return true
		}
		s.Ready = append(s.Ready, w.keventLocked())
		return true
	})
	return s
}

// Verify checks the ready-list accounting: every listed non-marker entry
// belongs to q, is Queued and not Detached, and their number equals Count.
func (q *Queue) Verify() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.verifyLocked()
}

func (q *Queue) verifyLocked() error {
	n := 0
	var err error
	q.list.each(func(w *Watch) bool {
		if w.status&statusMarker != 0 {
			return true
		}
		switch {
		case w.kq != q:
			err = fmt.Errorf("kqueue: watch %d/%d listed on foreign queue", w.ident, w.filter)
		case w.status&statusQueued == 0:
			err = fmt.Errorf("kqueue: watch %d/%d listed but not queued", w.ident, w.filter)
		case w.status&statusDetached != 0:
			err = fmt.Errorf("kqueue: detached watch %d/%d listed", w.ident, w.filter)
		}
		n++
		return err == nil
	})
	if err != nil {
		return err
	}
	if n != q.count {
		return fmt.Errorf("kqueue: ready count %d, listed %d", q.count, n)
	}
	return nil
}
