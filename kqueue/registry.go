// File: kqueue/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Filter registry: maps filter names to small integer ids and back, tracks
// how many watches use each filter and lets new filter kinds be plugged in
// at run time.

package kqueue

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-kq/api"
	"github.com/momentics/hioload-kq/control"
	"github.com/rs/zerolog"
)

// Filter is the operation set of a dynamically registered filter.
type Filter interface {
	// IsSourceHandle reports whether Ident names an open handle. The
	// handle's resource is resolved before Attach and exposed as
	// Watch.Resource.
	IsSourceHandle() bool
	// Attach binds the watch to its source.
	Attach(w *Watch) error
	// Detach unbinds the watch. It must not fail.
	Detach(w *Watch)
	// Event updates the watch's output fields for hint and reports
	// whether the watch is ready.
	Event(w *Watch, hint int64) bool
}

// SourceOps lets a source override the filter's detach and event checks for
// one watch. Handle-based resources install it from KQFilter.
type SourceOps interface {
	Detach(w *Watch)
	Event(w *Watch, hint int64) bool
}

// FilterFuncs adapts plain functions to Filter. Nil funcs are no-ops.
type FilterFuncs struct {
	SourceHandle bool
	AttachFunc   func(w *Watch) error
	DetachFunc   func(w *Watch)
	EventFunc    func(w *Watch, hint int64) bool
}

func (f FilterFuncs) IsSourceHandle() bool { return f.SourceHandle }

func (f FilterFuncs) Attach(w *Watch) error {
	if f.AttachFunc == nil {
		return nil
	}
	return f.AttachFunc(w)
}

func (f FilterFuncs) Detach(w *Watch) {
	if f.DetachFunc != nil {
		f.DetachFunc(w)
	}
}

func (f FilterFuncs) Event(w *Watch, hint int64) bool {
	if f.EventFunc == nil {
		return false
	}
	return f.EventFunc(w, hint)
}

type filterKind uint8

const (
	kindDynamic filterKind = iota
	kindRead
	kindWrite
	kindVnode
	kindProc
	kindSignal
	kindTimer
	kindUser
)

type filterDesc struct {
	id      uint32
	name    string // empty while the slot is retired
	retired string // name that owned the slot before Unregister
	kind    filterKind
	handle  bool
	ops     Filter
	refs    atomic.Int64
}

func (d *filterDesc) builtin() bool { return d.kind != kindDynamic }

// FilterInfo describes one registered filter.
type FilterInfo struct {
	ID           uint32 `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Refs         int64  `json:"refs" yaml:"refs"`
	Builtin      bool   `json:"builtin" yaml:"builtin"`
	SourceHandle bool   `json:"source_handle" yaml:"source_handle"`
}

// MaxFilterName bounds filter name length.
const MaxFilterName = 64

// Registry maps filter ids to filter descriptors.
type Registry struct {
	mu      sync.RWMutex
	filters []*filterDesc // indexed by id

	log     zerolog.Logger
	metrics *control.Metrics
}

var builtinFilters = [...]struct {
	name   string
	kind   filterKind
	handle bool
}{
	api.FilterRead:   {"read", kindRead, true},
	api.FilterWrite:  {"write", kindWrite, true},
	api.FilterVnode:  {"vnode", kindVnode, true},
	api.FilterProc:   {"proc", kindProc, false},
	api.FilterSignal: {"signal", kindSignal, false},
	api.FilterTimer:  {"timer", kindTimer, false},
	api.FilterUser:   {"user", kindUser, false},
}

// NewRegistry returns a registry holding the built-in filters.
func NewRegistry() *Registry {
	r := &Registry{log: zerolog.Nop()}
	for id, b := range builtinFilters {
		r.filters = append(r.filters, &filterDesc{
			id:     uint32(id),
			name:   b.name,
			kind:   b.kind,
			handle: b.handle,
		})
	}
	return r
}

// Register adds a filter under name and returns its id. A name that was
// unregistered earlier gets its old id back.
func (r *Registry) Register(name string, f Filter) (uint32, error) {
	if name == "" || len(name) > MaxFilterName || f == nil {
		return 0, api.NewError(api.ErrCodeInvalidArgument, "kqueue: invalid filter registration").
			WithContext("name", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byNameLocked(name) != nil {
		return 0, api.NewError(api.ErrCodeAlreadyExists, "kqueue: filter already registered").
			WithContext("name", name)
	}
	var d *filterDesc
	for _, x := range r.filters {
		if x.name == "" && x.retired == name {
			d = x
			break
		}
	}
	if d == nil {
		d = &filterDesc{id: uint32(len(r.filters))}
		r.filters = append(r.filters, d)
	}
	d.name = name
	d.retired = ""
	d.kind = kindDynamic
	d.handle = f.IsSourceHandle()
	d.ops = f
	r.log.Debug().Str("filter", name).Uint32("id", d.id).Msg("filter registered")
	r.metrics.FilterChange("register")
	return d.id, nil
}

// Unregister removes a dynamic filter. It fails with ErrBusy while any
// watch still uses it and with ErrPermissionDenied for built-in filters.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.byNameLocked(name)
	if d == nil {
		return api.NewError(api.ErrCodeNotFound, "kqueue: no such filter").WithContext("name", name)
	}
	if d.builtin() {
		return api.NewError(api.ErrCodePermissionDenied, "kqueue: built-in filter").WithContext("name", name)
	}
	if n := d.refs.Load(); n > 0 {
		return api.NewError(api.ErrCodeBusy, "kqueue: filter in use").
			WithContext("name", name).WithContext("refs", n)
	}
	d.retired = d.name
	d.name = ""
	d.ops = nil
	r.log.Debug().Str("filter", name).Uint32("id", d.id).Msg("filter unregistered")
	r.metrics.FilterChange("unregister")
	return nil
}

// ByName returns the id registered under name.
func (r *Registry) ByName(name string) (uint32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d := r.byNameLocked(name)
	if d == nil {
		return 0, api.NewError(api.ErrCodeNotFound, "kqueue: no such filter").WithContext("name", name)
	}
	return d.id, nil
}

// ByID returns the name registered under id.
func (r *Registry) ByID(id uint32) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.filters) || r.filters[id].name == "" {
		return "", api.NewError(api.ErrCodeNotFound, "kqueue: no such filter").WithContext("filter", id)
	}
	return r.filters[id].name, nil
}

// Refs returns the number of live watches using the filter id.
func (r *Registry) Refs(id uint32) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, err := r.lookupLocked(id); err == nil {
		return d.refs.Load()
	}
	return 0
}

// Filters lists registered filters ordered by id.
func (r *Registry) Filters() []FilterInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]FilterInfo, 0, len(r.filters))
	for _, d := range r.filters {
		if d.name == "" {
			continue
		}
		out = append(out, FilterInfo{
			ID:           d.id,
			Name:         d.name,
			Refs:         d.refs.Load(),
			Builtin:      d.builtin(),
			SourceHandle: d.handle,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) byNameLocked(name string) *filterDesc {
	for _, d := range r.filters {
		if d.name != "" && d.name == name {
			return d
		}
	}
	return nil
}

func (r *Registry) lookupLocked(id uint32) (*filterDesc, error) {
	if int(id) >= len(r.filters) || r.filters[id].name == "" {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "kqueue: unknown filter").WithContext("filter", id)
	}
	return r.filters[id], nil
}
