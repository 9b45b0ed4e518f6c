// File: plugin/luafilter/luafilter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package luafilter implements dynamic filters scripted in Lua.
//
// A script defines global functions:
//
//	function attach(w) end          -- optional; return a string to refuse
//	function event(w, hint) end     -- required; return true when ready
//	function detach(w) end          -- optional
//
// w is a per-watch table with ident, sfflags, sdata, fflags and data. The
// table persists between calls, so scripts may keep their own state in it.
// Changes event makes to w.data and w.fflags are reported with the event.
//
// Go code drives the source through Notify; every attached watch runs
// event with the hint.
package luafilter

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-kq/api"
	"github.com/momentics/hioload-kq/kqueue"
	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// Filter is a kqueue.Filter backed by a Lua state. LState is not safe for
// concurrent use, so every call into the script holds mu.
type Filter struct {
	name string
	log  zerolog.Logger

	mu      sync.Mutex
	L       *lua.LState
	watches map[*kqueue.Watch]*lua.LTable
	closed  bool

	notes kqueue.NoteList
}

var _ kqueue.Filter = (*Filter)(nil)

// New loads source into a fresh state with the base, table, string and
// math libraries.
func New(name, source string, log zerolog.Logger) (*Filter, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	if err := L.DoString(source); err != nil {
		L.Close()
		return nil, api.NewError(api.ErrCodeInvalidArgument, "luafilter: load script").
			WithContext("filter", name).WithContext("cause", err.Error())
	}
	if L.GetGlobal("event").Type() != lua.LTFunction {
		L.Close()
		return nil, api.NewError(api.ErrCodeInvalidArgument, "luafilter: script must define event(w, hint)").
			WithContext("filter", name)
	}
	return &Filter{
		name:    name,
		log:     log.With().Str("filter", name).Logger(),
		L:       L,
		watches: make(map[*kqueue.Watch]*lua.LTable),
	}, nil
}

// Register loads source and registers it under name.
func Register(reg *kqueue.Registry, name, source string, log zerolog.Logger) (*Filter, uint32, error) {
	f, err := New(name, source, log)
	if err != nil {
		return nil, 0, err
	}
	id, err := reg.Register(name, f)
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, id, nil
}

// Name returns the registered name.
func (f *Filter) Name() string { return f.name }

func (f *Filter) IsSourceHandle() bool { return false }

func (f *Filter) Attach(w *kqueue.Watch) error {
	fields := w.Fields()
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return api.NewError(api.ErrCodeBadHandle, "luafilter: state closed").WithContext("filter", f.name)
	}
	t := f.L.NewTable()
	t.RawSetString("ident", lua.LNumber(w.Ident()))
	setFields(t, fields)
	if fn := f.L.GetGlobal("attach"); fn.Type() == lua.LTFunction {
		ret, err := f.call(fn, 1, t)
		if err != nil {
			f.mu.Unlock()
			return api.NewError(api.ErrCodeInvalidArgument, "luafilter: attach failed").
				WithContext("filter", f.name).WithContext("cause", err.Error())
		}
		if s, ok := ret.(lua.LString); ok {
			f.mu.Unlock()
			return api.NewError(api.ErrCodeAccessDenied, "luafilter: attach refused").
				WithContext("filter", f.name).WithContext("reason", string(s))
		}
	}
	f.watches[w] = t
	f.mu.Unlock()
	f.notes.Add(w)
	return nil
}

func (f *Filter) Detach(w *kqueue.Watch) {
	f.notes.Remove(w)
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.watches[w]
	delete(f.watches, w)
	if t == nil || f.closed {
		return
	}
	if fn := f.L.GetGlobal("detach"); fn.Type() == lua.LTFunction {
		if _, err := f.call(fn, 0, t); err != nil {
			f.log.Warn().Err(err).Uint64("ident", w.Ident()).Msg("detach script failed")
		}
	}
}

func (f *Filter) Event(w *kqueue.Watch, hint int64) bool {
	fields := w.Fields()
	f.mu.Lock()
	t := f.watches[w]
	if t == nil || f.closed {
		f.mu.Unlock()
		return false
	}
	setFields(t, fields)
	ret, err := f.call(f.L.GetGlobal("event"), 1, t, lua.LNumber(hint))
	data := int64(lua.LVAsNumber(t.RawGetString("data")))
	fflags := uint32(lua.LVAsNumber(t.RawGetString("fflags")))
	f.mu.Unlock()
	if err != nil {
		f.log.Warn().Err(err).Uint64("ident", w.Ident()).Msg("event script failed")
		return false
	}
	w.Update(func(fl *kqueue.Fields) {
		fl.Data = data
		fl.FFlags = fflags
	})
	return lua.LVAsBool(ret)
}

// Notify runs event(w, hint) for every attached watch.
func (f *Filter) Notify(hint int64) {
	f.notes.Notify(hint)
}

// Watches returns the number of attached watches.
func (f *Filter) Watches() int {
	return f.notes.Len()
}

// Close releases the Lua state. Unregister the filter first.
func (f *Filter) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.L.Close()
}

// call invokes fn in protected mode. Requires f.mu.
func (f *Filter) call(fn lua.LValue, nret int, args ...lua.LValue) (lua.LValue, error) {
	if err := f.L.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, args...); err != nil {
		return lua.LNil, fmt.Errorf("%s: %w", f.name, err)
	}
	if nret == 0 {
		return lua.LNil, nil
	}
	ret := f.L.Get(-1)
	f.L.Pop(1)
	return ret, nil
}

func setFields(t *lua.LTable, fl kqueue.Fields) {
	t.RawSetString("sfflags", lua.LNumber(fl.SFFlags))
	t.RawSetString("sdata", lua.LNumber(fl.SData))
	t.RawSetString("fflags", lua.LNumber(fl.FFlags))
	t.RawSetString("data", lua.LNumber(fl.Data))
}
