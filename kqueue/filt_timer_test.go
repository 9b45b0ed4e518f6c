package kqueue

import (
	"context"
	"testing"
	"time"

	"github.com/momentics/hioload-kq/api"
	"github.com/momentics/hioload-kq/internal/concurrency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerInterval(t *testing.T) {
	cases := []struct {
		data   int64
		fflags uint32
		res    time.Duration
		want   time.Duration
		err    bool
	}{
		{data: 5, want: 5 * time.Millisecond, res: time.Millisecond},
		{data: 2, fflags: api.NoteSeconds, res: time.Millisecond, want: 2 * time.Second},
		{data: 1500, fflags: api.NoteUSeconds, res: time.Millisecond, want: 2 * time.Millisecond},
		{data: 1, fflags: api.NoteNSeconds, res: time.Millisecond, want: time.Millisecond},
		{data: 0, res: time.Millisecond, err: true},
		{data: -3, res: time.Millisecond, err: true},
		{data: 1 << 62, fflags: api.NoteSeconds, res: time.Millisecond, err: true},
	}
	for _, c := range cases {
		got, err := timerInterval(c.data, c.fflags, c.res)
		if c.err {
			assert.ErrorIs(t, err, api.ErrInvalidArgument, "data=%d", c.data)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "data=%d fflags=%#x", c.data, c.fflags)
	}
}

func TestTimerFiresPeriodically(t *testing.T) {
	fx := newFixture(t)
	fx.register(t, api.Kevent{Ident: 1, Filter: api.FilterTimer, Flags: api.EvAdd, Data: 5})

	events := make([]api.Kevent, 2)
	timeout := 2 * time.Second
	for i := 0; i < 3; i++ {
		n, err := fx.q.Scan(context.Background(), events, &timeout)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		assert.GreaterOrEqual(t, events[0].Data, int64(1))
		assert.NotZero(t, events[0].Flags&api.EvClear, "timers are clear-on-read")
	}
}

func TestTimerOneshot(t *testing.T) {
	fx := newFixture(t)
	fx.register(t, api.Kevent{Ident: 1, Filter: api.FilterTimer, Flags: api.EvAdd | api.EvOneshot, Data: 1})

	events := make([]api.Kevent, 2)
	timeout := 2 * time.Second
	n, err := fx.q.Scan(context.Background(), events, &timeout)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, int64(1), events[0].Data)
	assert.Equal(t, 0, fx.owner.Timers())
}

func TestTimerDeleteCancels(t *testing.T) {
	sched := concurrency.NewScheduler(time.Millisecond)
	t.Cleanup(sched.Close)
	fx := newFixture(t, WithScheduler(sched))

	fx.register(t, api.Kevent{Ident: 1, Filter: api.FilterTimer, Flags: api.EvAdd, Data: 1, Fflags: api.NoteSeconds})
	assert.Equal(t, 1, sched.Pending())
	assert.Equal(t, 1, fx.owner.Timers())

	fx.register(t, api.Kevent{Ident: 1, Filter: api.FilterTimer, Flags: api.EvDelete})
	assert.Equal(t, 0, sched.Pending())
	assert.Equal(t, 0, fx.owner.Timers())
}

func TestTimerRejectsBadInterval(t *testing.T) {
	fx := newFixture(t)
	err := fx.q.Register(&api.Kevent{Ident: 1, Filter: api.FilterTimer, Flags: api.EvAdd, Data: 0})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	assert.Equal(t, int64(0), fx.rt.Registry().Refs(api.FilterTimer))
}

func TestTimerPerOwnerLimit(t *testing.T) {
	fx := newFixture(t, WithMaxTimers(2))
	fx.register(t, api.Kevent{Ident: 1, Filter: api.FilterTimer, Flags: api.EvAdd, Data: 1000})
	fx.register(t, api.Kevent{Ident: 2, Filter: api.FilterTimer, Flags: api.EvAdd, Data: 1000})
	err := fx.q.Register(&api.Kevent{Ident: 3, Filter: api.FilterTimer, Flags: api.EvAdd, Data: 1000})
	assert.ErrorIs(t, err, api.ErrResourceExhausted)

	fx.register(t, api.Kevent{Ident: 1, Filter: api.FilterTimer, Flags: api.EvDelete})
	fx.register(t, api.Kevent{Ident: 3, Filter: api.FilterTimer, Flags: api.EvAdd, Data: 1000})
}
