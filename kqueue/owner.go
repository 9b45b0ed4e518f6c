// File: kqueue/owner.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Owner is the outer lock level: it holds the per-handle watch lists and
// serializes attach, detach and handle close for all of its queues.

package kqueue

import (
	"sync"

	"github.com/momentics/hioload-kq/api"
	"github.com/rs/zerolog"
)

// Owner groups the queues and handles of one process.
type Owner struct {
	rt    *Runtime
	files FileTable
	cred  Cred
	log   zerolog.Logger

	mu      sync.Mutex
	knlist  map[int][]*Watch // handle-based watches by handle
	queues  map[*Queue]struct{}
	ntimers int
	closed  bool
}

// NewOwner creates an owner resolving handles through files.
func (rt *Runtime) NewOwner(files FileTable, cred Cred) *Owner {
	return &Owner{
		rt:     rt,
		files:  files,
		cred:   cred,
		log:    rt.log.With().Uint32("uid", cred.UID).Logger(),
		knlist: make(map[int][]*Watch),
		queues: make(map[*Queue]struct{}),
	}
}

// Cred returns the owner's credentials.
func (o *Owner) Cred() Cred { return o.cred }

// Runtime returns the runtime the owner belongs to.
func (o *Owner) Runtime() *Runtime { return o.rt }

// Timers returns the number of live timer watches.
func (o *Owner) Timers() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ntimers
}

// NewQueue creates an empty queue.
func (o *Owner) NewQueue() (*Queue, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, api.NewError(api.ErrCodeBadHandle, "kqueue: owner closed")
	}
	q := newQueue(o)
	o.queues[q] = struct{}{}
	o.rt.metrics.QueueOpened()
	o.log.Debug().Str("queue", q.id).Msg("queue created")
	return q, nil
}

// Queues returns the open queues.
func (o *Owner) Queues() []*Queue {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Queue, 0, len(o.queues))
	for q := range o.queues {
		out = append(out, q)
	}
	return out
}

// HandleClosed detaches every watch on handle fd in all queues. The file
// table calls it before releasing the resource.
func (o *Owner) HandleClosed(fd int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ws := o.knlist[fd]
	delete(o.knlist, fd)
	for _, w := range ws {
		o.detachLocked(w)
	}
}

// WatchCount returns the number of watches on handle fd.
func (o *Owner) WatchCount(fd int) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.knlist[fd])
}

// Close closes every queue. Later NewQueue calls fail.
func (o *Owner) Close() {
	o.mu.Lock()
	o.closed = true
	qs := make([]*Queue, 0, len(o.queues))
	for q := range o.queues {
		qs = append(qs, q)
	}
	o.mu.Unlock()
	for _, q := range qs {
		q.Close()
	}
}

func (o *Owner) closeQueue(q *Queue) {
	o.mu.Lock()
	if _, ok := o.queues[q]; !ok {
		o.mu.Unlock()
		return
	}
	var ws []*Watch
	for _, list := range o.knlist {
		for _, w := range list {
			if w.kq == q {
				ws = append(ws, w)
			}
		}
	}
	for _, w := range q.hash {
		ws = append(ws, w)
	}
	for _, w := range ws {
		o.detachLocked(w)
	}
	delete(o.queues, q)
	o.mu.Unlock()

	q.mu.Lock()
	q.closed = true
	q.wakeLocked()
	q.mu.Unlock()
	o.rt.metrics.QueueClosed()
	o.log.Debug().Str("queue", q.id).Int("watches", len(ws)).Msg("queue closed")
}

// findLocked looks up the watch named by (ident, filter) in q.
func (o *Owner) findLocked(q *Queue, ident uint64, filter uint32, handle bool) *Watch {
	if !handle {
		return q.hash[watchKey{ident, filter}]
	}
	for _, w := range o.knlist[int(ident)] {
		if w.kq == q && w.filter == filter && w.ident == ident {
			return w
		}
	}
	return nil
}

func (o *Owner) insertLocked(w *Watch) {
	if w.desc.handle {
		fd := int(w.ident)
		o.knlist[fd] = append(o.knlist[fd], w)
	} else {
		w.kq.hash[watchKey{w.ident, w.filter}] = w
	}
	w.linked = true
}

func (o *Owner) unlinkLocked(w *Watch) {
	w.linked = false
	if !w.desc.handle {
		key := watchKey{w.ident, w.filter}
		if w.kq.hash[key] == w {
			delete(w.kq.hash, key)
		}
		return
	}
	fd := int(w.ident)
	list := o.knlist[fd]
	for i, x := range list {
		if x == w {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(o.knlist, fd)
	} else {
		o.knlist[fd] = list
	}
}

// detachLocked tears w down: it leaves the ready list, the filter releases
// its source and the filter reference is dropped. Requires o.mu.
func (o *Owner) detachLocked(w *Watch) {
	if !w.linked {
		return
	}
	q := w.kq
	q.mu.Lock()
	if w.status&statusQueued != 0 {
		q.list.remove(w)
		q.count--
	}
	w.status |= statusDetached
	w.status &^= statusQueued | statusActive
	q.mu.Unlock()

	reg := o.rt.registry
	reg.mu.RLock()
	w.detachFilter()
	name := w.desc.name
	reg.mu.RUnlock()

	o.unlinkLocked(w)
	w.desc.refs.Add(-1)
	o.rt.metrics.WatchDetached(name)
}

// detachWatch is detachLocked for callers that hold no lock.
func (o *Owner) detachWatch(w *Watch) {
	o.mu.Lock()
	o.detachLocked(w)
	o.mu.Unlock()
}
