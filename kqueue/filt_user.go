// File: kqueue/filt_user.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// User filter: a source with no backing object, triggered by the caller
// through NoteTrigger on a later change.

package kqueue

import "github.com/momentics/hioload-kq/api"

// userState is guarded by the queue lock.
type userState struct {
	triggered bool
}

func userAttach(w *Watch) error {
	us := &userState{}
	w.SetHook(us)
	w.Update(func(f *Fields) {
		req := f.SFFlags
		f.SFFlags = 0
		applyUserFFlags(us, f, req)
	})
	return nil
}

func userTouch(w *Watch, fflags uint32, data int64, udata any) {
	us := w.Hook().(*userState)
	w.Update(func(f *Fields) {
		applyUserFFlags(us, f, fflags)
		f.SData = data
		f.Udata = udata
	})
}

func applyUserFFlags(us *userState, f *Fields, req uint32) {
	if req&api.NoteTrigger != 0 {
		us.triggered = true
	}
	ff := req & api.NoteFFlagsMask
	switch req & api.NoteFFCtrlMask {
	case api.NoteFFAnd:
		f.SFFlags &= ff
	case api.NoteFFOr:
		f.SFFlags |= ff
	case api.NoteFFCopy:
		f.SFFlags = ff
	}
}

func userEvent(w *Watch, _ int64) bool {
	us := w.Hook().(*userState)
	ready := false
	w.Update(func(f *Fields) {
		if !us.triggered {
			return
		}
		f.FFlags = f.SFFlags & api.NoteFFlagsMask
		f.Data = f.SData
		ready = true
	})
	return ready
}

func userClearLocked(w *Watch) {
	if us, _ := w.Hook().(*userState); us != nil {
		us.triggered = false
	}
	w.f.SFFlags = 0
	w.f.SData = 0
}
