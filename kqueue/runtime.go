// File: kqueue/runtime.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime carries the state shared by every owner and queue: the filter
// registry, the timer scheduler, the task table and the signal hub.

package kqueue

import (
	"sync/atomic"

	"github.com/momentics/hioload-kq/api"
	"github.com/momentics/hioload-kq/control"
	"github.com/momentics/hioload-kq/internal/concurrency"
	"github.com/momentics/hioload-kq/pool"
	"github.com/rs/zerolog"
)

// DefaultBatchSize is the number of events copied out per lock release.
const DefaultBatchSize = 32

// Cred identifies the caller for privilege checks.
type Cred struct {
	UID uint32
}

// Privileged reports whether the caller bypasses ownership checks.
func (c Cred) Privileged() bool { return c.UID == 0 }

// Resource is an open handle that can be watched by handle-based filters.
// KQFilter installs SourceOps on the watch and adds it to the resource's
// note list, or fails with ErrInvalidArgument for unsupported filters.
type Resource interface {
	KQFilter(w *Watch) error
}

// FileTable resolves handles of one owner.
type FileTable interface {
	Lookup(fd int) (Resource, error)
}

// Task is the view of a task the proc filter needs.
type Task interface {
	PID() int
	UID() uint32
	Notes() *NoteList
}

// TaskTable resolves task ids.
type TaskTable interface {
	LookupTask(pid int) (Task, bool)
}

// Runtime is the process-wide context of the registry.
type Runtime struct {
	registry *Registry
	sched    api.Scheduler
	owned    *concurrency.Scheduler
	tasks    TaskTable
	signals  *signalHub
	log      zerolog.Logger
	metrics  *control.Metrics

	maxTimers       int
	checkInvariants atomic.Bool
	chunks          atomic.Pointer[pool.SlicePool[api.Kevent]]
}

// Option configures a Runtime.
type Option func(*Runtime)

func WithLogger(l zerolog.Logger) Option {
	return func(rt *Runtime) { rt.log = l }
}

func WithMetrics(m *control.Metrics) Option {
	return func(rt *Runtime) { rt.metrics = m }
}

// WithScheduler replaces the built-in timer scheduler. The caller keeps
// ownership of s.
func WithScheduler(s api.Scheduler) Option {
	return func(rt *Runtime) { rt.sched = s }
}

func WithTasks(t TaskTable) Option {
	return func(rt *Runtime) { rt.tasks = t }
}

func WithBatchSize(n int) Option {
	return func(rt *Runtime) { rt.SetBatchSize(n) }
}

// WithMaxTimers caps timer watches per owner. Zero means no cap.
func WithMaxTimers(n int) Option {
	return func(rt *Runtime) { rt.maxTimers = n }
}

// WithInvariantChecks makes every scan verify the ready-list accounting and
// panic on a mismatch.
func WithInvariantChecks(on bool) Option {
	return func(rt *Runtime) { rt.checkInvariants.Store(on) }
}

// FromConfig applies a loaded configuration.
func FromConfig(cfg *control.Config) Option {
	return func(rt *Runtime) {
		rt.SetBatchSize(cfg.Scan.BatchSize)
		rt.maxTimers = cfg.Timer.MaxPerOwner
		rt.checkInvariants.Store(cfg.Queue.CheckInvariants)
		if rt.sched == nil {
			rt.owned = concurrency.NewScheduler(cfg.Timer.Resolution)
			rt.sched = rt.owned
		}
	}
}

// NewRuntime builds a runtime with the built-in filters registered.
func NewRuntime(opts ...Option) *Runtime {
	rt := &Runtime{
		registry: NewRegistry(),
		log:      zerolog.Nop(),
	}
	rt.SetBatchSize(DefaultBatchSize)
	for _, o := range opts {
		o(rt)
	}
	if rt.sched == nil {
		rt.owned = concurrency.NewScheduler(concurrency.DefaultResolution)
		rt.sched = rt.owned
	}
	rt.registry.log = rt.log.With().Str("component", "registry").Logger()
	rt.registry.metrics = rt.metrics
	rt.signals = newSignalHub(rt.log)
	return rt
}

// Registry returns the filter registry.
func (rt *Runtime) Registry() *Registry { return rt.registry }

// Tasks returns the task table, or nil.
func (rt *Runtime) Tasks() TaskTable { return rt.tasks }

// Scheduler returns the timer scheduler.
func (rt *Runtime) Scheduler() api.Scheduler { return rt.sched }

// Logger returns the runtime logger.
func (rt *Runtime) Logger() zerolog.Logger { return rt.log }

// SetBatchSize changes the scan chunk size. Scans already running keep the
// previous size.
func (rt *Runtime) SetBatchSize(n int) {
	if n <= 0 {
		n = DefaultBatchSize
	}
	if p := rt.chunks.Load(); p != nil && p.Size() == n {
		return
	}
	rt.chunks.Store(pool.NewSlicePool[api.Kevent](n))
}

// BatchSize returns the scan chunk size.
func (rt *Runtime) BatchSize() int { return rt.chunks.Load().Size() }

// SetInvariantChecks toggles post-scan verification.
func (rt *Runtime) SetInvariantChecks(on bool) { rt.checkInvariants.Store(on) }

// Watch subscribes the runtime to run-time tunables in cs.
func (rt *Runtime) Watch(cs *control.ConfigStore) {
	cs.OnReload(func(snap map[string]any) {
		if n, ok := snap[control.KeyScanBatchSize].(int); ok {
			rt.SetBatchSize(n)
		}
		if on, ok := snap[control.KeyCheckInvariants].(bool); ok {
			rt.SetInvariantChecks(on)
		}
		rt.log.Info().Int("batch_size", rt.BatchSize()).Msg("runtime config reloaded")
	})
}

// Close stops the scheduler owned by the runtime and releases signal
// subscriptions. Owners should be closed first.
func (rt *Runtime) Close() {
	if rt.owned != nil {
		rt.owned.Close()
	}
	rt.signals.stopAll()
}
