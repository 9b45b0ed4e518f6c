// File: fdtable/file.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Regular file opened by path. The read filter reports bytes between the
// read offset and end of file; the vnode filter reports changes observed
// through fsnotify.

package fdtable

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/momentics/hioload-kq/api"
	"github.com/momentics/hioload-kq/kqueue"
	"github.com/rs/zerolog"
)

// File is an open regular file.
type File struct {
	path string
	log  zerolog.Logger

	mu      sync.Mutex
	f       *os.File
	offset  int64
	size    int64
	watcher *fsnotify.Watcher
	done    chan struct{}
	closed  bool

	vnotes kqueue.NoteList
	rnotes kqueue.NoteList
}

// OpenFile opens path read-only.
func OpenFile(path string, log zerolog.Logger) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.IsDir() {
		f.Close()
		return nil, api.NewError(api.ErrCodeInvalidArgument, "fdtable: is a directory").WithContext("path", path)
	}
	return &File{
		path: path,
		log:  log.With().Str("path", path).Logger(),
		f:    f,
		size: st.Size(),
	}, nil
}

// Path returns the path the file was opened with.
func (f *File) Path() string { return f.path }

// Read reads from the current offset.
func (f *File) Read(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, os.ErrClosed
	}
	n, err := f.f.ReadAt(b, f.offset)
	f.offset += int64(n)
	if errors.Is(err, io.EOF) && n > 0 {
		err = nil
	}
	return n, err
}

// Seek sets the read offset.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = f.offset
	case io.SeekEnd:
		st, err := f.f.Stat()
		if err != nil {
			return 0, err
		}
		base = st.Size()
	default:
		return 0, api.ErrInvalidArgument
	}
	if base+offset < 0 {
		return 0, api.ErrInvalidArgument
	}
	f.offset = base + offset
	return f.offset, nil
}

// KQFilter accepts the read and vnode filters.
func (f *File) KQFilter(w *kqueue.Watch) error {
	switch w.FilterID() {
	case api.FilterRead:
		w.SetOps(fileReadOps{f})
		f.rnotes.Add(w)
		return nil
	case api.FilterVnode:
		f.mu.Lock()
		err := f.ensureWatcherLocked()
		f.mu.Unlock()
		if err != nil {
			return api.NewError(api.ErrCodeResourceExhausted, "fdtable: cannot watch file").
				WithContext("path", f.path).WithContext("cause", err.Error())
		}
		w.SetOps(vnodeOps{f})
		f.vnotes.Add(w)
		return nil
	default:
		return api.NewError(api.ErrCodeInvalidArgument, "fdtable: filter not supported on files").
			WithContext("filter", w.FilterID())
	}
}

func (f *File) ensureWatcherLocked() error {
	if f.closed {
		return os.ErrClosed
	}
	if f.watcher != nil {
		return nil
	}
	wt, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := wt.Add(f.path); err != nil {
		wt.Close()
		return err
	}
	f.watcher = wt
	f.done = make(chan struct{})
	go f.watch(wt, f.done)
	return nil
}

func (f *File) watch(wt *fsnotify.Watcher, done <-chan struct{}) {
	for {
		select {
		case ev, ok := <-wt.Events:
			if !ok {
				return
			}
			f.handle(ev)
		case err, ok := <-wt.Errors:
			if !ok {
				return
			}
			f.log.Warn().Err(err).Msg("file watcher error")
		case <-done:
			return
		}
	}
}

func (f *File) handle(ev fsnotify.Event) {
	var hint uint32
	if ev.Has(fsnotify.Write) {
		hint |= api.NoteWrite
		if st, err := os.Stat(f.path); err == nil {
			f.mu.Lock()
			if st.Size() > f.size {
				hint |= api.NoteExtend
			}
			f.size = st.Size()
			f.mu.Unlock()
		}
	}
	if ev.Has(fsnotify.Chmod) {
		hint |= api.NoteAttrib
	}
	if ev.Has(fsnotify.Remove) {
		hint |= api.NoteDelete
	}
	if ev.Has(fsnotify.Rename) {
		hint |= api.NoteRename
	}
	if hint == 0 {
		return
	}
	f.log.Debug().Str("op", ev.Op.String()).Uint32("notes", hint).Msg("file changed")
	f.vnotes.Notify(int64(hint))
	if hint&api.NoteWrite != 0 {
		f.rnotes.Notify(0)
	}
}

// Close stops change notification and closes the file.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.watcher != nil {
		close(f.done)
		f.watcher.Close()
	}
	return f.f.Close()
}

type fileReadOps struct{ f *File }

func (o fileReadOps) Detach(w *kqueue.Watch) { o.f.rnotes.Remove(w) }

func (o fileReadOps) Event(w *kqueue.Watch, _ int64) bool {
	o.f.mu.Lock()
	var n int64
	if !o.f.closed {
		if st, err := o.f.f.Stat(); err == nil {
			n = st.Size() - o.f.offset
		}
	}
	o.f.mu.Unlock()
	if n < 0 {
		n = 0
	}
	return readiness(w, n, false, 1)
}

type vnodeOps struct{ f *File }

func (o vnodeOps) Detach(w *kqueue.Watch) { o.f.vnotes.Remove(w) }

func (o vnodeOps) Event(w *kqueue.Watch, hint int64) bool {
	ready := false
	w.Update(func(fl *kqueue.Fields) {
		if ev := uint32(hint) & fl.SFFlags; ev != 0 {
			fl.FFlags |= ev
		}
		if uint32(hint)&api.NoteDelete != 0 {
			fl.Flags |= api.EvEOF
		}
		ready = fl.FFlags != 0
	})
	return ready
}
