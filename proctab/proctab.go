// File: proctab/proctab.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package proctab is an in-process task table. It drives the lifecycle
// filter: fork, exec and exit are reported to the watches attached to a
// task.
package proctab

import (
	"sort"
	"sync"

	"github.com/momentics/hioload-kq/api"
	"github.com/momentics/hioload-kq/kqueue"
	"github.com/rs/zerolog"
)

// FirstPID is the id given to the first spawned task.
const FirstPID = 100

// Task is one entry of the table.
type Task struct {
	pid   int
	ppid  int
	uid   uint32
	notes kqueue.NoteList

	mu     sync.Mutex
	image  string
	exited bool
	status int
}

var _ kqueue.Task = (*Task)(nil)

func (t *Task) PID() int                { return t.pid }
func (t *Task) PPID() int               { return t.ppid }
func (t *Task) UID() uint32             { return t.uid }
func (t *Task) Notes() *kqueue.NoteList { return &t.notes }

// Image returns the name of the current program image.
func (t *Task) Image() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.image
}

// Exited reports whether the task exited, and its status.
func (t *Task) Exited() (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exited, t.status
}

// Table holds live tasks.
type Table struct {
	mu    sync.RWMutex
	tasks map[int]*Task
	next  int
	log   zerolog.Logger
}

var _ kqueue.TaskTable = (*Table)(nil)

// New returns an empty table.
func New(log zerolog.Logger) *Table {
	return &Table{
		tasks: make(map[int]*Task),
		next:  FirstPID,
		log:   log.With().Str("component", "proctab").Logger(),
	}
}

// Spawn creates a task with no parent.
func (tb *Table) Spawn(uid uint32, image string) *Task {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.insertLocked(0, uid, image)
}

func (tb *Table) insertLocked(ppid int, uid uint32, image string) *Task {
	t := &Task{pid: tb.next, ppid: ppid, uid: uid, image: image}
	tb.next++
	tb.tasks[t.pid] = t
	return t
}

// LookupTask implements kqueue.TaskTable.
func (tb *Table) LookupTask(pid int) (kqueue.Task, bool) {
	t, ok := tb.Get(pid)
	if !ok {
		return nil, false
	}
	return t, true
}

// Get returns the live task pid.
func (tb *Table) Get(pid int) (*Task, bool) {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	t, ok := tb.tasks[pid]
	return t, ok
}

// PIDs lists live task ids in order.
func (tb *Table) PIDs() []int {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	out := make([]int, 0, len(tb.tasks))
	for pid := range tb.tasks {
		out = append(out, pid)
	}
	sort.Ints(out)
	return out
}

// Fork creates a child of pid with the same owner and image. The child is
// in the table before fork watchers run, so tracking can attach to it.
func (tb *Table) Fork(pid int) (*Task, error) {
	tb.mu.Lock()
	parent, ok := tb.tasks[pid]
	if !ok {
		tb.mu.Unlock()
		return nil, api.NewError(api.ErrCodeNotFound, "proctab: no such task").WithContext("pid", pid)
	}
	child := tb.insertLocked(parent.pid, parent.uid, parent.Image())
	tb.mu.Unlock()

	tb.log.Debug().Int("parent", parent.pid).Int("child", child.pid).Msg("fork")
	kqueue.ProcFork(&parent.notes, parent.pid, child.pid)
	return child, nil
}

// Exec replaces the image of pid.
func (tb *Table) Exec(pid int, image string) error {
	t, ok := tb.Get(pid)
	if !ok {
		return api.NewError(api.ErrCodeNotFound, "proctab: no such task").WithContext("pid", pid)
	}
	t.mu.Lock()
	t.image = image
	t.mu.Unlock()
	tb.log.Debug().Int("pid", pid).Str("image", image).Msg("exec")
	kqueue.ProcExec(&t.notes)
	return nil
}

// Exit removes pid and delivers its exit status to every watcher.
func (tb *Table) Exit(pid, status int) error {
	tb.mu.Lock()
	t, ok := tb.tasks[pid]
	delete(tb.tasks, pid)
	tb.mu.Unlock()
	if !ok {
		return api.NewError(api.ErrCodeNotFound, "proctab: no such task").WithContext("pid", pid)
	}
	t.mu.Lock()
	t.exited = true
	t.status = status
	t.mu.Unlock()
	tb.log.Debug().Int("pid", pid).Int("status", status).Msg("exit")
	kqueue.ProcExit(&t.notes, status)
	return nil
}
