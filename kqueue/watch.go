// File: kqueue/watch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Watch is one registration of a filter on a source within a Queue.

package kqueue

import (
	"github.com/momentics/hioload-kq/api"
)

type status uint32

const (
	statusQueued   status = 1 << iota // linked on the ready list
	statusDisabled                    // delivery suppressed
	statusActive                      // source reported readiness
	statusDetached                    // torn down, no further delivery
	statusMarker                      // scan marker, never registered
)

// Fields is the mutable part of a Watch. It is protected by the owning
// Queue's lock and is only reached through Watch.Update and Watch.Fields.
type Fields struct {
	SFFlags uint32 // filter flags requested by the caller
	SData   int64  // filter data requested by the caller
	Udata   any    // returned unchanged with each event
	Flags   uint16 // EV* flags as registered, plus status flags set by the filter
	FFlags  uint32 // filter flags reported with the event
	Data    int64  // filter data reported with the event
}

// Watch binds a filter instance to a source within one Queue.
type Watch struct {
	ident  uint64
	filter uint32
	kq     *Queue
	desc   *filterDesc
	res    Resource

	// guarded by kq.mu
	f          Fields
	status     status
	prev, next *Watch

	// guarded by the owner lock
	linked bool

	sops SourceOps
	hook any
}

func newWatch(q *Queue, d *filterDesc, res Resource, kev *api.Kevent) *Watch {
	w := &Watch{
		ident:  kev.Ident,
		filter: kev.Filter,
		kq:     q,
		desc:   d,
		res:    res,
		f: Fields{
			SFFlags: kev.Fflags,
			SData:   kev.Data,
			Udata:   kev.Udata,
			Flags:   kev.Flags,
		},
	}
	if kev.Flags&api.EvDisable != 0 {
		w.status |= statusDisabled
	}
	return w
}

func newMarker() *Watch {
	return &Watch{status: statusMarker}
}

// Ident returns the source identifier.
func (w *Watch) Ident() uint64 { return w.ident }

// FilterID returns the filter id the watch was registered with.
func (w *Watch) FilterID() uint32 { return w.filter }

// Queue returns the owning queue.
func (w *Watch) Queue() *Queue { return w.kq }

// Owner returns the owner of the queue.
func (w *Watch) Owner() *Owner { return w.kq.owner }

// Resource returns the resolved source of a handle-based watch, or nil.
func (w *Watch) Resource() Resource { return w.res }

// Hook returns filter-private state.
func (w *Watch) Hook() any { return w.hook }

// SetHook stores filter-private state. Filters set it during Attach, before
// the watch is published on any note list.
func (w *Watch) SetHook(v any) { w.hook = v }

// SetOps installs per-source ops. Resources call it from KQFilter.
func (w *Watch) SetOps(ops SourceOps) { w.sops = ops }

// Fields returns a snapshot of the mutable fields.
func (w *Watch) Fields() Fields {
	w.kq.mu.Lock()
	defer w.kq.mu.Unlock()
	return w.f
}

// Update mutates the fields under the queue lock. fn must not block or call
// back into the watch or its queue.
func (w *Watch) Update(fn func(f *Fields)) {
	w.kq.mu.Lock()
	fn(&w.f)
	w.kq.mu.Unlock()
}

// Activate marks the watch ready and queues it unless it is disabled or
// already queued. It is cheap and safe from any goroutine.
func (w *Watch) Activate() {
	q := w.kq
	q.mu.Lock()
	if w.status&statusDetached != 0 {
		q.mu.Unlock()
		return
	}
	readable := q.activateLocked(w)
	q.mu.Unlock()
	q.rt.metrics.Activation()
	if readable {
		q.notes.Notify(0)
	}
}

func (w *Watch) keventLocked() api.Kevent {
	return api.Kevent{
		Ident:  w.ident,
		Filter: w.filter,
		Flags:  w.f.Flags,
		Fflags: w.f.FFlags,
		Data:   w.f.Data,
		Udata:  w.f.Udata,
	}
}

// clearLocked resets output state after a clear-on-read delivery.
func (w *Watch) clearLocked() {
	w.f.Data = 0
	w.f.FFlags = 0
	if w.desc.kind == kindUser {
		userClearLocked(w)
	}
}

func (w *Watch) attach() error {
	switch w.desc.kind {
	case kindRead, kindWrite, kindVnode:
		return w.res.KQFilter(w)
	case kindProc:
		return procAttach(w)
	case kindSignal:
		return signalAttach(w)
	case kindTimer:
		return timerAttach(w)
	case kindUser:
		return userAttach(w)
	default:
		return w.desc.ops.Attach(w)
	}
}

func (w *Watch) detachFilter() {
	if w.sops != nil {
		w.sops.Detach(w)
		return
	}
	switch w.desc.kind {
	case kindProc:
		procDetach(w)
	case kindSignal:
		signalDetach(w)
	case kindTimer:
		timerDetach(w)
	case kindUser:
	default:
		if w.desc.ops != nil {
			w.desc.ops.Detach(w)
		}
	}
}

func (w *Watch) event(hint int64) bool {
	if w.sops != nil {
		return w.sops.Event(w, hint)
	}
	switch w.desc.kind {
	case kindProc:
		return procEvent(w, hint)
	case kindSignal:
		return signalEvent(w, hint)
	case kindTimer:
		return timerEvent(w, hint)
	case kindUser:
		return userEvent(w, hint)
	case kindRead, kindWrite, kindVnode:
		return false
	default:
		return w.desc.ops.Event(w, hint)
	}
}

// touch applies the caller's arguments to an existing watch. Accumulated
// output fields are kept.
func (w *Watch) touch(kev *api.Kevent) {
	if w.desc.kind == kindUser {
		userTouch(w, kev.Fflags, kev.Data, kev.Udata)
		return
	}
	w.Update(func(f *Fields) {
		f.SFFlags = kev.Fflags
		f.SData = kev.Data
		f.Udata = kev.Udata
	})
}
