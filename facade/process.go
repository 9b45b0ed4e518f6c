// File: facade/process.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package facade

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/momentics/hioload-kq/api"
	"github.com/momentics/hioload-kq/fdtable"
	"github.com/momentics/hioload-kq/kqueue"
	"github.com/momentics/hioload-kq/proctab"
	"github.com/rs/zerolog"
)

// Process is one caller: a task, a handle table and the queues opened
// through it. Queues are ordinary handles, so a queue can watch another
// queue with the read filter.
type Process struct {
	sys   *System
	task  *proctab.Task
	owner *kqueue.Owner
	files *fdtable.Table
	log   zerolog.Logger

	mu     sync.Mutex
	exited bool
}

func newProcess(s *System, task *proctab.Task) *Process {
	files := fdtable.New()
	owner := s.rt.NewOwner(files, kqueue.Cred{UID: task.UID()})
	files.Bind(owner)
	return &Process{
		sys:   s,
		task:  task,
		owner: owner,
		files: files,
		log:   s.log.With().Int("pid", task.PID()).Logger(),
	}
}

// PID returns the task id.
func (p *Process) PID() int { return p.task.PID() }

// UID returns the owning user.
func (p *Process) UID() uint32 { return p.task.UID() }

// Owner exposes the kqueue owner.
func (p *Process) Owner() *kqueue.Owner { return p.owner }

// Files exposes the handle table.
func (p *Process) Files() *fdtable.Table { return p.files }

// Kqueue creates a queue and returns its handle.
func (p *Process) Kqueue() (int, error) {
	if err := p.alive(); err != nil {
		return -1, err
	}
	q, err := p.owner.NewQueue()
	if err != nil {
		return -1, err
	}
	return p.files.Install(q), nil
}

// Queue resolves a queue handle.
func (p *Process) Queue(kqfd int) (*kqueue.Queue, error) {
	e, err := p.files.Get(kqfd)
	if err != nil {
		return nil, err
	}
	q, ok := e.(*kqueue.Queue)
	if !ok {
		return nil, api.NewError(api.ErrCodeBadHandle, "facade: not a queue").WithContext("fd", kqfd)
	}
	return q, nil
}

// Kevent applies changes to the queue kqfd and collects ready events. A
// nil timeout blocks until an event arrives or ctx is done; a zero
// timeout polls.
func (p *Process) Kevent(ctx context.Context, kqfd int, changes, events []api.Kevent, timeout *time.Duration) (int, error) {
	q, err := p.Queue(kqfd)
	if err != nil {
		return 0, err
	}
	return q.Kevent(ctx, changes, events, timeout)
}

// Close releases a handle. Watches on it are detached in every queue
// first.
func (p *Process) Close(fd int) error {
	return p.files.Close(fd)
}

// Pipe creates an in-memory pipe and returns its read and write handles.
func (p *Process) Pipe(size int) (rfd, wfd int, err error) {
	if err := p.alive(); err != nil {
		return -1, -1, err
	}
	r, w := fdtable.NewPipe(size)
	return p.files.Install(r), p.files.Install(w), nil
}

// Open opens a regular file read-only. It supports the read and vnode
// filters.
func (p *Process) Open(path string) (int, error) {
	if err := p.alive(); err != nil {
		return -1, err
	}
	f, err := fdtable.OpenFile(path, p.log)
	if err != nil {
		return -1, err
	}
	return p.files.Install(f), nil
}

// Adopt takes ownership of an OS descriptor. Readiness comes from the
// system reactor; it fails with api.ErrNotSupported where none exists.
func (p *Process) Adopt(osfd int) (int, error) {
	if err := p.alive(); err != nil {
		return -1, err
	}
	f, err := fdtable.Adopt(osfd, p.sys.reactor)
	if err != nil {
		return -1, err
	}
	return p.files.Install(f), nil
}

// Read reads from a readable handle.
func (p *Process) Read(fd int, b []byte) (int, error) {
	e, err := p.files.Get(fd)
	if err != nil {
		return 0, err
	}
	r, ok := e.(io.Reader)
	if !ok {
		return 0, api.NewError(api.ErrCodeBadHandle, "facade: handle not readable").WithContext("fd", fd)
	}
	return r.Read(b)
}

// Write writes to a writable handle.
func (p *Process) Write(fd int, b []byte) (int, error) {
	e, err := p.files.Get(fd)
	if err != nil {
		return 0, err
	}
	w, ok := e.(io.Writer)
	if !ok {
		return 0, api.NewError(api.ErrCodeBadHandle, "facade: handle not writable").WithContext("fd", fd)
	}
	return w.Write(b)
}

// FilterByName maps a filter name to its id.
func (p *Process) FilterByName(name string) (uint32, error) {
	return p.sys.rt.Registry().ByName(name)
}

// FilterByID maps a filter id to its name.
func (p *Process) FilterByID(id uint32) (string, error) {
	return p.sys.rt.Registry().ByID(id)
}

// Exit closes every handle, then terminates the task with status so that
// lifecycle watchers see the exit.
func (p *Process) Exit(status int) error {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return nil
	}
	p.exited = true
	p.mu.Unlock()

	err := p.files.CloseAll()
	p.owner.Close()
	if xerr := p.sys.tasks.Exit(p.PID(), status); xerr != nil && err == nil {
		err = xerr
	}
	p.sys.forget(p.PID())
	p.log.Debug().Int("status", status).Msg("process exited")
	return err
}

func (p *Process) alive() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return api.NewError(api.ErrCodeBadHandle, "facade: process exited").WithContext("pid", p.task.PID())
	}
	return nil
}

// ProcessState is the debug probe output for one process.
type ProcessState struct {
	PID     int               `json:"pid" yaml:"pid"`
	UID     uint32            `json:"uid" yaml:"uid"`
	Handles []int             `json:"handles" yaml:"handles"`
	Timers  int               `json:"timers" yaml:"timers"`
	Queues  []kqueue.Snapshot `json:"queues" yaml:"queues"`
}

func (p *Process) snapshot() any {
	st := ProcessState{
		PID:     p.PID(),
		UID:     p.UID(),
		Handles: p.files.Handles(),
		Timers:  p.owner.Timers(),
	}
	for _, q := range p.owner.Queues() {
		st.Queues = append(st.Queues, q.Snapshot())
	}
	return st
}
