// File: kqueue/filt_proc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Task lifecycle filter. The task subsystem reports exit, fork and exec
// through ProcExit, ProcFork and ProcExec.

package kqueue

import (
	"sync"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-kq/api"
)

type procState struct {
	mu   sync.Mutex
	task Task // nil once the task exited
}

func procAttach(w *Watch) error {
	tasks := w.kq.rt.tasks
	if tasks == nil {
		return api.NewError(api.ErrCodeNotSupported, "kqueue: no task table")
	}
	t, ok := tasks.LookupTask(int(w.ident))
	if !ok {
		return api.NewError(api.ErrCodeNotFound, "kqueue: no such task").WithContext("pid", w.ident)
	}
	cred := w.Owner().Cred()
	if !cred.Privileged() && cred.UID != t.UID() {
		return api.NewError(api.ErrCodeAccessDenied, "kqueue: task owned by another user").
			WithContext("pid", w.ident).WithContext("uid", cred.UID)
	}

	w.Update(func(f *Fields) {
		if f.Flags&api.EvFlag1 != 0 {
			// Registered by fork tracking: report the child with the
			// parent id and stop treating the data as a request.
			f.Flags &^= api.EvFlag1
			f.FFlags |= api.NoteChild
			f.Data = f.SData
			f.SData = 0
		}
		f.SFFlags &^= api.NoteChild | api.NoteTrackErr
	})

	ps := &procState{task: t}
	w.SetHook(ps)
	if !t.Notes().Add(w) {
		return api.NewError(api.ErrCodeNotFound, "kqueue: task exited").WithContext("pid", w.ident)
	}
	return nil
}

func procDetach(w *Watch) {
	ps, _ := w.Hook().(*procState)
	if ps == nil {
		return
	}
	ps.mu.Lock()
	t := ps.task
	ps.task = nil
	ps.mu.Unlock()
	if t != nil {
		t.Notes().Remove(w)
	}
}

func procEvent(w *Watch, hint int64) bool {
	event := uint32(hint) & api.NotePCtrlMask
	ready := false
	w.Update(func(f *Fields) {
		if event != 0 && f.SFFlags&event != 0 {
			f.FFlags |= event
		}
		ready = f.FFlags != 0
	})
	return ready
}

// ProcExit reports that the task owning notes exited with status. Every
// watch is unhooked from the task, marked EvEOF and EvOneshot and activated,
// so it is delivered exactly once even if the task is gone by then. Later
// attaches to the task fail with ErrNotFound.
func ProcExit(notes *NoteList, status int) {
	for _, w := range notes.closeAndDrain() {
		if ps, _ := w.Hook().(*procState); ps != nil {
			ps.mu.Lock()
			ps.task = nil
			ps.mu.Unlock()
		}
		w.Update(func(f *Fields) {
			if f.SFFlags&api.NoteExit != 0 {
				f.FFlags |= api.NoteExit
			}
			f.Flags |= api.EvEOF | api.EvOneshot
			f.Data = int64(status)
		})
		w.Activate()
	}
}

// ProcExec reports that the task owning notes replaced its image.
func ProcExec(notes *NoteList) {
	notes.Notify(int64(api.NoteExec))
}

// ProcFork reports that parent forked child. Watches with NoteTrack get a
// new watch on the child in the same queue, registered after the parent's
// note list is released. A failed registration sets NoteTrackErr on the
// parent's watch.
func ProcFork(notes *NoteList, parent, child int) {
	pending := queue.New()
	for _, w := range notes.snapshot() {
		if w.event(int64(api.NoteFork)) {
			w.Activate()
		}
		if w.Fields().SFFlags&api.NoteTrack != 0 {
			pending.Add(w)
		}
	}
	for pending.Length() > 0 {
		w := pending.Remove().(*Watch)
		f := w.Fields()
		kev := api.Kevent{
			Ident:  uint64(child),
			Filter: api.FilterProc,
			Flags:  api.EvAdd | api.EvEnable | api.EvFlag1 | (f.Flags &^ (api.EvSysFlags | api.EvDisable)),
			Fflags: f.SFFlags,
			Data:   int64(parent),
			Udata:  f.Udata,
		}
		if err := w.kq.Register(&kev); err != nil {
			w.kq.rt.log.Warn().Err(err).Int("parent", parent).Int("child", child).Msg("fork tracking failed")
			w.Update(func(f *Fields) { f.FFlags |= api.NoteTrackErr })
			w.Activate()
		}
	}
}
