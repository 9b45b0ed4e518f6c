//go:build linux
// +build linux

// File: fdtable/osfile_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Adopted OS descriptor. Readiness edges come from the reactor; the read
// filter reports the unread byte count (TIOCINQ), the write filter reports
// writability.

package fdtable

import (
	"sync"

	"github.com/momentics/hioload-kq/api"
	"github.com/momentics/hioload-kq/kqueue"
	"golang.org/x/sys/unix"
)

// OSFile is a non-blocking OS descriptor owned by the table.
type OSFile struct {
	fd int
	r  api.Reactor

	mu     sync.Mutex
	hangup bool
	closed bool

	rnotes kqueue.NoteList
	wnotes kqueue.NoteList
}

// Adopt takes ownership of fd, switches it to non-blocking mode and
// registers it with r.
func Adopt(fd int, r api.Reactor) (*OSFile, error) {
	if r == nil {
		return nil, api.NewError(api.ErrCodeNotSupported, "fdtable: no reactor")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, api.NewError(api.ErrCodeBadHandle, "fdtable: set nonblock").WithContext("cause", err.Error())
	}
	f := &OSFile{fd: fd, r: r}
	if err := r.Register(uintptr(fd), f.onReady); err != nil {
		return nil, err
	}
	return f, nil
}

// FD returns the OS descriptor.
func (f *OSFile) FD() int { return f.fd }

func (f *OSFile) onReady(_ uintptr, mask api.ReadyMask) {
	if mask&(api.ReadyHangup|api.ReadyError) != 0 {
		f.mu.Lock()
		f.hangup = true
		f.mu.Unlock()
	}
	if mask&(api.ReadyRead|api.ReadyHangup|api.ReadyError) != 0 {
		f.rnotes.Notify(0)
	}
	if mask&(api.ReadyWrite|api.ReadyHangup|api.ReadyError) != 0 {
		f.wnotes.Notify(0)
	}
}

// Read reads without blocking; an empty descriptor returns ErrWouldBlock.
func (f *OSFile) Read(b []byte) (int, error) {
	n, err := unix.Read(f.fd, b)
	if err == unix.EAGAIN {
		return 0, ErrWouldBlock
	}
	if n < 0 {
		n = 0
	}
	return n, err
}

// Write writes without blocking.
func (f *OSFile) Write(b []byte) (int, error) {
	n, err := unix.Write(f.fd, b)
	if err == unix.EAGAIN {
		return 0, ErrWouldBlock
	}
	if n < 0 {
		n = 0
	}
	return n, err
}

// KQFilter accepts the read and write filters.
func (f *OSFile) KQFilter(w *kqueue.Watch) error {
	switch w.FilterID() {
	case api.FilterRead:
		w.SetOps(osReadOps{f})
		f.rnotes.Add(w)
	case api.FilterWrite:
		w.SetOps(osWriteOps{f})
		f.wnotes.Add(w)
	default:
		return api.NewError(api.ErrCodeInvalidArgument, "fdtable: filter not supported on descriptors").
			WithContext("filter", w.FilterID())
	}
	return nil
}

// Close unregisters the descriptor and closes it.
func (f *OSFile) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()
	_ = f.r.Unregister(uintptr(f.fd))
	return unix.Close(f.fd)
}

func (f *OSFile) state() (closed, hangup bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.hangup
}

type osReadOps struct{ f *OSFile }

func (o osReadOps) Detach(w *kqueue.Watch) { o.f.rnotes.Remove(w) }

func (o osReadOps) Event(w *kqueue.Watch, _ int64) bool {
	closed, hup := o.f.state()
	if closed {
		return false
	}
	n, err := unix.IoctlGetInt(o.f.fd, unix.TIOCINQ)
	if err != nil {
		n = 0
		hup = true
	}
	return readiness(w, int64(n), hup, 1)
}

type osWriteOps struct{ f *OSFile }

func (o osWriteOps) Detach(w *kqueue.Watch) { o.f.wnotes.Remove(w) }

func (o osWriteOps) Event(w *kqueue.Watch, _ int64) bool {
	closed, hup := o.f.state()
	if closed {
		return false
	}
	fds := []unix.PollFd{{Fd: int32(o.f.fd), Events: unix.POLLOUT}}
	var space int64
	if n, err := unix.Poll(fds, 0); err == nil && n > 0 {
		if fds[0].Revents&unix.POLLOUT != 0 {
			space = 1
		}
		if fds[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
			hup = true
		}
	}
	return readiness(w, space, hup, 1)
}
