// File: kqueue/register.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package kqueue

import (
	"math"

	"github.com/momentics/hioload-kq/api"
)

// Register applies one watch change to q. Actions are processed in the
// order add, delete, disable, enable; a single request may combine add
// with disable or enable. A request carrying both EvAdd and EvDelete is
// rejected with ErrInvalidArgument and changes nothing.
func (q *Queue) Register(kev *api.Kevent) error {
	if kev.Flags&(api.EvAdd|api.EvDelete) == api.EvAdd|api.EvDelete {
		return api.NewError(api.ErrCodeInvalidArgument, "kqueue: add and delete in one change").
			WithContext("ident", kev.Ident).WithContext("filter", kev.Filter)
	}
	o := q.owner
	reg := q.rt.registry

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.queues[q]; !ok {
		return api.NewError(api.ErrCodeBadHandle, "kqueue: queue closed").WithContext("queue", q.id)
	}

	reg.mu.RLock()
	d, err := reg.lookupLocked(kev.Filter)
	if err != nil {
		reg.mu.RUnlock()
		return err
	}
	var res Resource
	if d.handle {
		if kev.Ident > math.MaxInt32 {
			reg.mu.RUnlock()
			return api.NewError(api.ErrCodeBadHandle, "kqueue: handle out of range").WithContext("ident", kev.Ident)
		}
		if res, err = o.files.Lookup(int(kev.Ident)); err != nil {
			reg.mu.RUnlock()
			return api.NewError(api.ErrCodeBadHandle, "kqueue: cannot resolve handle").
				WithContext("ident", kev.Ident).WithContext("cause", err.Error())
		}
	}

	w := o.findLocked(q, kev.Ident, kev.Filter, d.handle)
	touched := false
	if w == nil {
		if kev.Flags&api.EvAdd == 0 {
			reg.mu.RUnlock()
			return api.NewError(api.ErrCodeNotFound, "kqueue: no such watch").
				WithContext("ident", kev.Ident).WithContext("filter", kev.Filter)
		}
		w = newWatch(q, d, res, kev)
		d.refs.Add(1)
		if err := w.attach(); err != nil {
			d.refs.Add(-1)
			name := d.name
			reg.mu.RUnlock()
			o.rt.metrics.AttachFailed(name)
			o.log.Debug().Err(err).Str("filter", name).Uint64("ident", kev.Ident).Msg("attach failed")
			return err
		}
		name := d.name
		reg.mu.RUnlock()
		o.insertLocked(w)
		o.rt.metrics.WatchAttached(name)
	} else {
		reg.mu.RUnlock()
		if kev.Flags&api.EvAdd != 0 || (d.kind == kindUser && kev.Flags&api.EvDelete == 0) {
			w.touch(kev)
			touched = true
		}
	}

	switch {
	case kev.Flags&api.EvAdd != 0 || touched:
		if w.event(0) {
			w.Activate()
		}
	case kev.Flags&api.EvDelete != 0:
		o.detachLocked(w)
		return nil
	}

	if kev.Flags&api.EvDisable != 0 {
		q.disable(w)
	}
	if kev.Flags&api.EvEnable != 0 {
		q.enable(w)
	}
	return nil
}
