package proctab

import (
	"context"
	"testing"
	"time"

	"github.com/momentics/hioload-kq/api"
	"github.com/momentics/hioload-kq/kqueue"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noFiles struct{}

func (noFiles) Lookup(int) (kqueue.Resource, error) { return nil, api.ErrBadHandle }

func TestTableLifecycle(t *testing.T) {
	tb := New(zerolog.Nop())
	p := tb.Spawn(1000, "init")
	assert.Equal(t, FirstPID, p.PID())

	c, err := tb.Fork(p.PID())
	require.NoError(t, err)
	assert.Equal(t, p.PID(), c.PPID())
	assert.Equal(t, "init", c.Image())
	assert.Equal(t, []int{FirstPID, FirstPID + 1}, tb.PIDs())

	require.NoError(t, tb.Exec(c.PID(), "sh"))
	assert.Equal(t, "sh", c.Image())

	require.NoError(t, tb.Exit(c.PID(), 2))
	exited, status := c.Exited()
	assert.True(t, exited)
	assert.Equal(t, 2, status)
	_, ok := tb.LookupTask(c.PID())
	assert.False(t, ok)

	assert.ErrorIs(t, tb.Exit(c.PID(), 0), api.ErrNotFound)
	_, err = tb.Fork(999)
	assert.ErrorIs(t, err, api.ErrNotFound)
	assert.ErrorIs(t, tb.Exec(999, "x"), api.ErrNotFound)
}

func TestTableDrivesProcFilter(t *testing.T) {
	tb := New(zerolog.Nop())
	rt := kqueue.NewRuntime(kqueue.WithTasks(tb))
	defer rt.Close()
	owner := rt.NewOwner(noFiles{}, kqueue.Cred{UID: 1000})
	defer owner.Close()
	q, err := owner.NewQueue()
	require.NoError(t, err)

	p := tb.Spawn(1000, "init")
	require.NoError(t, q.Register(&api.Kevent{
		Ident:  uint64(p.PID()),
		Filter: api.FilterProc,
		Flags:  api.EvAdd | api.EvClear,
		Fflags: api.NoteExit | api.NoteFork | api.NoteExec | api.NoteTrack,
	}))

	c, err := tb.Fork(p.PID())
	require.NoError(t, err)
	require.NoError(t, tb.Exec(p.PID(), "daemon"))
	require.NoError(t, tb.Exit(c.PID(), 0))
	require.NoError(t, tb.Exit(p.PID(), 7))

	events := make([]api.Kevent, 8)
	n, err := q.Kevent(context.Background(), nil, events, new(time.Duration))
	require.NoError(t, err)

	byIdent := map[uint64]api.Kevent{}
	for _, ev := range events[:n] {
		byIdent[ev.Ident] = ev
	}
	require.Len(t, byIdent, 2)

	parent := byIdent[uint64(p.PID())]
	assert.Equal(t, api.NoteFork|api.NoteExec|api.NoteExit, parent.Fflags)
	assert.Equal(t, int64(7), parent.Data)

	child := byIdent[uint64(c.PID())]
	assert.Equal(t, api.NoteChild|api.NoteExit, child.Fflags)
	assert.Equal(t, int64(0), child.Data)
}
