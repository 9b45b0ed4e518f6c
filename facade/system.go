// File: facade/system.go
// Unified facade over the event registry.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// System aggregates the runtime pieces behind one value: the filter registry
// and timer scheduler (kqueue.Runtime), the task table, the readiness
// reactor for adopted OS descriptors, metrics, debug probes and the run-time
// config store. Process is the per-caller view holding a handle table and the
// queues created through it.

package facade

import (
	"io"
	"sort"
	"strconv"
	"sync"

	"github.com/momentics/hioload-kq/api"
	"github.com/momentics/hioload-kq/control"
	"github.com/momentics/hioload-kq/internal/logging"
	"github.com/momentics/hioload-kq/kqueue"
	"github.com/momentics/hioload-kq/plugin/luafilter"
	"github.com/momentics/hioload-kq/proctab"
	"github.com/momentics/hioload-kq/reactor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Options tweak New. The zero value builds everything from the config.
type Options struct {
	// Logger overrides the logger built from cfg.Logging.
	Logger *zerolog.Logger
	// Registry receives the metrics; a private registry is used when nil.
	Registry *prometheus.Registry
}

// System is the main facade type.
type System struct {
	cfg     *control.Config
	log     zerolog.Logger
	logSink io.Closer

	rt      *kqueue.Runtime
	tasks   *proctab.Table
	reactor api.Reactor // nil where unsupported
	metrics *control.Metrics
	debug   *control.DebugProbes
	store   *control.ConfigStore

	mu      sync.Mutex
	procs   map[int]*Process
	scripts map[string]*luafilter.Filter
	closed  bool
}

// New constructs a System. A nil cfg means control.DefaultConfig().
func New(cfg *control.Config, opts Options) (*System, error) {
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &System{
		cfg:     cfg,
		procs:   make(map[int]*Process),
		scripts: make(map[string]*luafilter.Filter),
	}

	if opts.Logger != nil {
		s.log = *opts.Logger
	} else {
		l, sink, err := logging.New(cfg.Logging)
		if err != nil {
			return nil, err
		}
		s.log, s.logSink = l, sink
	}

	s.metrics = control.NewMetrics(cfg.Metrics, opts.Registry)
	s.tasks = proctab.New(s.log)
	s.rt = kqueue.NewRuntime(
		kqueue.WithLogger(s.log),
		kqueue.WithMetrics(s.metrics),
		kqueue.WithTasks(s.tasks),
		kqueue.FromConfig(cfg),
	)

	s.store = cfg.Store()
	s.rt.Watch(s.store)

	r, err := reactor.New(reactor.Options{MaxEvents: cfg.Reactor.MaxEvents, Logger: s.log})
	if err != nil {
		s.log.Warn().Err(err).Msg("readiness reactor unavailable, Adopt disabled")
	} else {
		s.reactor = r
	}

	s.debug = control.NewDebugProbes()
	control.RegisterPlatformProbes(s.debug)
	s.debug.RegisterProbe("filters", func() any { return s.rt.Registry().Filters() })
	s.debug.RegisterProbe("tasks", func() any { return s.tasks.PIDs() })
	s.debug.RegisterProbe("runtime", func() any {
		return map[string]any{
			"batch_size":       s.rt.BatchSize(),
			"timer_resolution": s.cfg.Timer.Resolution.String(),
		}
	})

	s.log.Info().
		Int("batch_size", cfg.Scan.BatchSize).
		Dur("timer_resolution", cfg.Timer.Resolution).
		Bool("metrics", cfg.Metrics.Enabled).
		Msg("system started")
	return s, nil
}

// Config returns the configuration the system was built from.
func (s *System) Config() *control.Config { return s.cfg }

// Logger returns the system logger.
func (s *System) Logger() zerolog.Logger { return s.log }

// Runtime exposes the kqueue runtime.
func (s *System) Runtime() *kqueue.Runtime { return s.rt }

// Registry returns the filter registry.
func (s *System) Registry() *kqueue.Registry { return s.rt.Registry() }

// Tasks returns the task table.
func (s *System) Tasks() *proctab.Table { return s.tasks }

// Metrics returns the metrics set.
func (s *System) Metrics() *control.Metrics { return s.metrics }

// Debug returns the probe registry.
func (s *System) Debug() api.Debug { return s.debug }

// Control returns the store of run-time tunables. SetConfig on it is
// applied to the runtime immediately.
func (s *System) Control() *control.ConfigStore { return s.store }

// RegisterFilter adds a dynamic filter and returns its id.
func (s *System) RegisterFilter(name string, f kqueue.Filter) (uint32, error) {
	return s.rt.Registry().Register(name, f)
}

// RegisterScript loads a Lua filter and registers it under name.
func (s *System) RegisterScript(name, source string) (*luafilter.Filter, uint32, error) {
	f, id, err := luafilter.Register(s.rt.Registry(), name, source, s.log)
	if err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	s.scripts[name] = f
	s.mu.Unlock()
	return f, id, nil
}

// UnregisterFilter removes a dynamic filter. It fails with api.ErrBusy
// while watches still use it. A scripted filter's state is released.
func (s *System) UnregisterFilter(name string) error {
	if err := s.rt.Registry().Unregister(name); err != nil {
		return err
	}
	s.mu.Lock()
	f := s.scripts[name]
	delete(s.scripts, name)
	s.mu.Unlock()
	if f != nil {
		f.Close()
	}
	return nil
}

// NewProcess creates a task owned by uid along with its handle table.
func (s *System) NewProcess(uid uint32, image string) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, api.NewError(api.ErrCodeBadHandle, "facade: system shut down")
	}
	task := s.tasks.Spawn(uid, image)
	p := newProcess(s, task)
	s.procs[task.PID()] = p
	s.debug.RegisterProbe(procProbe(task.PID()), p.snapshot)
	return p, nil
}

// Process returns the live process with pid.
func (s *System) Process(pid int) (*Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[pid]
	return p, ok
}

// Processes lists live pids in order.
func (s *System) Processes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.procs))
	for pid := range s.procs {
		out = append(out, pid)
	}
	sort.Ints(out)
	return out
}

// Spawn adds a bare task with no handle table, for lifecycle watching.
func (s *System) Spawn(uid uint32, image string) int {
	return s.tasks.Spawn(uid, image).PID()
}

// Fork clones task pid and reports the child to fork-tracking watches.
func (s *System) Fork(pid int) (int, error) {
	t, err := s.tasks.Fork(pid)
	if err != nil {
		return 0, err
	}
	return t.PID(), nil
}

// Exec replaces the program image of pid.
func (s *System) Exec(pid int, image string) error {
	return s.tasks.Exec(pid, image)
}

// Exit terminates pid. A process created by NewProcess also closes all of
// its handles first.
func (s *System) Exit(pid, status int) error {
	s.mu.Lock()
	p := s.procs[pid]
	s.mu.Unlock()
	if p != nil {
		return p.Exit(status)
	}
	return s.tasks.Exit(pid, status)
}

func (s *System) forget(pid int) {
	s.mu.Lock()
	delete(s.procs, pid)
	s.mu.Unlock()
	s.debug.UnregisterProbe(procProbe(pid))
}

// Shutdown exits every process, stops the reactor and the runtime. It is
// safe to call more than once.
func (s *System) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	procs := make([]*Process, 0, len(s.procs))
	for _, p := range s.procs {
		procs = append(procs, p)
	}
	scripts := s.scripts
	s.scripts = nil
	s.mu.Unlock()

	for _, p := range procs {
		if err := p.Exit(0); err != nil {
			s.log.Warn().Err(err).Int("pid", p.PID()).Msg("process exit failed")
		}
	}
	for name, f := range scripts {
		if err := s.rt.Registry().Unregister(name); err != nil {
			s.log.Warn().Err(err).Str("filter", name).Msg("unregister script failed")
		}
		f.Close()
	}
	if s.reactor != nil {
		if err := s.reactor.Close(); err != nil {
			s.log.Warn().Err(err).Msg("reactor close failed")
		}
	}
	s.rt.Close()
	s.log.Info().Msg("system stopped")
	if s.logSink != nil {
		return s.logSink.Close()
	}
	return nil
}

func procProbe(pid int) string {
	return "process." + strconv.Itoa(pid)
}
