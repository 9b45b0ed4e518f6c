package kqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-kq/api"
	"github.com/stretchr/testify/require"
)

// levelSource is a readable resource with a settable level.
type levelSource struct {
	mu    sync.Mutex
	level int64
	notes NoteList
}

func (s *levelSource) KQFilter(w *Watch) error {
	if w.FilterID() != api.FilterRead {
		return api.ErrInvalidArgument
	}
	w.SetOps(s)
	s.notes.Add(w)
	return nil
}

func (s *levelSource) Detach(w *Watch) { s.notes.Remove(w) }

func (s *levelSource) Event(w *Watch, _ int64) bool {
	s.mu.Lock()
	n := s.level
	s.mu.Unlock()
	w.Update(func(f *Fields) { f.Data = n })
	return n > 0
}

func (s *levelSource) set(n int64) {
	s.mu.Lock()
	s.level = n
	s.mu.Unlock()
	s.notes.Notify(0)
}

type testFiles struct {
	mu sync.Mutex
	m  map[int]Resource
}

func (t *testFiles) Lookup(fd int) (Resource, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.m[fd]; ok {
		return r, nil
	}
	return nil, api.ErrBadHandle
}

func (t *testFiles) put(fd int, r Resource) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[fd] = r
}

type testTask struct {
	pid   int
	uid   uint32
	notes NoteList
}

func (t *testTask) PID() int         { return t.pid }
func (t *testTask) UID() uint32      { return t.uid }
func (t *testTask) Notes() *NoteList { return &t.notes }

type testTasks struct {
	mu sync.Mutex
	m  map[int]*testTask
}

func (tt *testTasks) LookupTask(pid int) (Task, bool) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	t, ok := tt.m[pid]
	if !ok {
		return nil, false
	}
	return t, true
}

func (tt *testTasks) add(pid int, uid uint32) *testTask {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	t := &testTask{pid: pid, uid: uid}
	tt.m[pid] = t
	return t
}

func (tt *testTasks) remove(pid int) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	delete(tt.m, pid)
}

type fixture struct {
	rt    *Runtime
	files *testFiles
	tasks *testTasks
	owner *Owner
	q     *Queue
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	fx := &fixture{
		files: &testFiles{m: make(map[int]Resource)},
		tasks: &testTasks{m: make(map[int]*testTask)},
	}
	opts = append([]Option{WithInvariantChecks(true), WithTasks(fx.tasks)}, opts...)
	fx.rt = NewRuntime(opts...)
	fx.owner = fx.rt.NewOwner(fx.files, Cred{UID: 1000})
	q, err := fx.owner.NewQueue()
	require.NoError(t, err)
	fx.q = q
	t.Cleanup(func() {
		fx.owner.Close()
		fx.rt.Close()
	})
	return fx
}

func (fx *fixture) register(t *testing.T, kev api.Kevent) {
	t.Helper()
	require.NoError(t, fx.q.Register(&kev))
}

func poll(t *testing.T, q *Queue, capacity int) []api.Kevent {
	t.Helper()
	events := make([]api.Kevent, capacity)
	zero := time.Duration(0)
	n, err := q.Scan(context.Background(), events, &zero)
	require.NoError(t, err)
	return events[:n]
}

func idents(evs []api.Kevent) []uint64 {
	out := make([]uint64, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Ident)
	}
	return out
}
