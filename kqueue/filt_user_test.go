package kqueue

import (
	"testing"

	"github.com/momentics/hioload-kq/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserTriggerAndFFlags(t *testing.T) {
	fx := newFixture(t)
	fx.register(t, api.Kevent{Ident: 1, Filter: api.FilterUser, Flags: api.EvAdd | api.EvClear, Fflags: api.NoteFFCopy | 0x11})
	assert.Empty(t, poll(t, fx.q, 2), "not triggered yet")

	fx.register(t, api.Kevent{Ident: 1, Filter: api.FilterUser, Fflags: api.NoteFFOr | 0x100})
	assert.Empty(t, poll(t, fx.q, 2))

	fx.register(t, api.Kevent{Ident: 1, Filter: api.FilterUser, Fflags: api.NoteTrigger | api.NoteFFAnd | 0x101, Data: 42})
	evs := poll(t, fx.q, 2)
	require.Len(t, evs, 1)
	assert.Equal(t, uint32(0x101), evs[0].Fflags)
	assert.Equal(t, int64(42), evs[0].Data)

	assert.Empty(t, poll(t, fx.q, 2), "clear resets the trigger")

	fx.register(t, api.Kevent{Ident: 1, Filter: api.FilterUser, Fflags: api.NoteTrigger})
	evs = poll(t, fx.q, 2)
	require.Len(t, evs, 1)
	assert.Zero(t, evs[0].Fflags, "clear resets saved flags")
}

func TestUserTriggerOnAdd(t *testing.T) {
	fx := newFixture(t)
	fx.register(t, api.Kevent{Ident: 2, Filter: api.FilterUser, Flags: api.EvAdd | api.EvDispatch, Fflags: api.NoteTrigger})
	require.Len(t, poll(t, fx.q, 2), 1)
	assert.Empty(t, poll(t, fx.q, 2))

	fx.register(t, api.Kevent{Ident: 2, Filter: api.FilterUser, Flags: api.EvEnable})
	require.Len(t, poll(t, fx.q, 2), 1)
}
