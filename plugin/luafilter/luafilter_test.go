package luafilter

import (
	"context"
	"testing"
	"time"

	"github.com/momentics/hioload-kq/api"
	"github.com/momentics/hioload-kq/kqueue"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

const thresholdScript = `
function attach(w)
  if w.sfflags == 99 then return "refused" end
  w.level = 0
end

function event(w, hint)
  if hint > 0 then w.level = w.level + hint end
  w.data = w.level
  return w.level >= w.sdata
end

function detach(w)
  detached = (detached or 0) + 1
end
`

type noFiles struct{}

func (noFiles) Lookup(int) (kqueue.Resource, error) { return nil, api.ErrBadHandle }

type env struct {
	rt    *kqueue.Runtime
	owner *kqueue.Owner
	q     *kqueue.Queue
	f     *Filter
	id    uint32
}

func newEnv(t *testing.T, script string) *env {
	t.Helper()
	rt := kqueue.NewRuntime(kqueue.WithInvariantChecks(true))
	f, id, err := Register(rt.Registry(), "threshold", script, zerolog.Nop())
	require.NoError(t, err)
	o := rt.NewOwner(noFiles{}, kqueue.Cred{UID: 1000})
	q, err := o.NewQueue()
	require.NoError(t, err)
	t.Cleanup(func() {
		o.Close()
		_ = rt.Registry().Unregister("threshold")
		f.Close()
		rt.Close()
	})
	return &env{rt: rt, owner: o, q: q, f: f, id: id}
}

func (e *env) poll(t *testing.T) []api.Kevent {
	t.Helper()
	events := make([]api.Kevent, 4)
	zero := time.Duration(0)
	n, err := e.q.Scan(context.Background(), events, &zero)
	require.NoError(t, err)
	return events[:n]
}

func TestThresholdFilter(t *testing.T) {
	e := newEnv(t, thresholdScript)
	require.NoError(t, e.q.Register(&api.Kevent{Ident: 7, Filter: e.id, Flags: api.EvAdd | api.EvClear, Data: 5}))
	assert.Equal(t, 1, e.f.Watches())
	assert.Empty(t, e.poll(t))

	e.f.Notify(3)
	assert.Empty(t, e.poll(t))

	e.f.Notify(2)
	evs := e.poll(t)
	require.Len(t, evs, 1)
	assert.Equal(t, uint64(7), evs[0].Ident)
	assert.Equal(t, e.id, evs[0].Filter)
	assert.Equal(t, int64(5), evs[0].Data)

	assert.Empty(t, e.poll(t), "clear-on-read")

	e.f.Notify(1)
	evs = e.poll(t)
	require.Len(t, evs, 1)
	assert.Equal(t, int64(6), evs[0].Data, "script state persists across deliveries")
}

func TestAttachRefused(t *testing.T) {
	e := newEnv(t, thresholdScript)
	err := e.q.Register(&api.Kevent{Ident: 1, Filter: e.id, Flags: api.EvAdd, Fflags: 99})
	require.ErrorIs(t, err, api.ErrAccessDenied)
	assert.Zero(t, e.f.Watches())
	assert.Zero(t, e.rt.Registry().Refs(e.id))
}

func TestDetachRunsScript(t *testing.T) {
	e := newEnv(t, thresholdScript)
	require.NoError(t, e.q.Register(&api.Kevent{Ident: 1, Filter: e.id, Flags: api.EvAdd, Data: 1}))
	require.NoError(t, e.q.Register(&api.Kevent{Ident: 2, Filter: e.id, Flags: api.EvAdd, Data: 1}))
	assert.ErrorIs(t, e.rt.Registry().Unregister("threshold"), api.ErrBusy)

	require.NoError(t, e.q.Register(&api.Kevent{Ident: 1, Filter: e.id, Flags: api.EvDelete}))
	assert.Equal(t, 1, e.f.Watches())

	e.f.mu.Lock()
	detached := e.f.L.GetGlobal("detached")
	e.f.mu.Unlock()
	assert.Equal(t, lua.LNumber(1), detached)

	require.NoError(t, e.q.Close())
	assert.Zero(t, e.f.Watches())
	assert.Zero(t, e.rt.Registry().Refs(e.id))
}

func TestLoadErrors(t *testing.T) {
	_, err := New("bad", "function event(", zerolog.Nop())
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	_, err = New("noevent", "function attach(w) end", zerolog.Nop())
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestScriptErrorIsNotReady(t *testing.T) {
	e := newEnv(t, `function event(w, hint) if hint > 0 then error("boom") end return false end`)
	require.NoError(t, e.q.Register(&api.Kevent{Ident: 1, Filter: e.id, Flags: api.EvAdd}))
	e.f.Notify(1)
	assert.Empty(t, e.poll(t))
}

func TestSandboxedLibraries(t *testing.T) {
	_, err := New("io", `io.open("/etc/passwd") function event(w, h) return false end`, zerolog.Nop())
	assert.ErrorIs(t, err, api.ErrInvalidArgument, "io is not opened")
}
