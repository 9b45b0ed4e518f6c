// File: kqueue/filt_signal.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Signal filter: counts deliveries of an OS signal since the last scan.
// One os/signal subscription per signal number is shared by all watches.

package kqueue

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/momentics/hioload-kq/api"
	"github.com/rs/zerolog"
)

// MaxSignal bounds accepted signal numbers.
const MaxSignal = 64

type sigSource struct {
	signo int
	refs  int
	notes NoteList
	ch    chan os.Signal
	stop  chan struct{}
}

type signalHub struct {
	mu      sync.Mutex
	sources map[int]*sigSource
	log     zerolog.Logger
}

func newSignalHub(log zerolog.Logger) *signalHub {
	return &signalHub{
		sources: make(map[int]*sigSource),
		log:     log.With().Str("component", "signals").Logger(),
	}
}

func (h *signalHub) acquire(signo int) *sigSource {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s := h.sources[signo]; s != nil {
		s.refs++
		return s
	}
	s := &sigSource{
		signo: signo,
		refs:  1,
		ch:    make(chan os.Signal, 16),
		stop:  make(chan struct{}),
	}
	signal.Notify(s.ch, syscall.Signal(signo))
	go s.loop()
	h.sources[signo] = s
	h.log.Debug().Int("signal", signo).Msg("signal subscribed")
	return s
}

func (h *signalHub) release(s *sigSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s.refs--
	if s.refs > 0 || h.sources[s.signo] != s {
		return
	}
	delete(h.sources, s.signo)
	signal.Stop(s.ch)
	close(s.stop)
	h.log.Debug().Int("signal", s.signo).Msg("signal released")
}

func (h *signalHub) stopAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for signo, s := range h.sources {
		signal.Stop(s.ch)
		close(s.stop)
		delete(h.sources, signo)
	}
}

func (s *sigSource) loop() {
	for {
		select {
		case <-s.ch:
			s.notes.Notify(1)
		case <-s.stop:
			return
		}
	}
}

func signalAttach(w *Watch) error {
	signo := int(w.ident)
	if signo <= 0 || signo > MaxSignal {
		return api.NewError(api.ErrCodeInvalidArgument, "kqueue: bad signal number").WithContext("signal", w.ident)
	}
	w.Update(func(f *Fields) { f.Flags |= api.EvClear })
	s := w.kq.rt.signals.acquire(signo)
	w.SetHook(s)
	s.notes.Add(w)
	return nil
}

func signalDetach(w *Watch) {
	s, _ := w.Hook().(*sigSource)
	if s == nil {
		return
	}
	s.notes.Remove(w)
	w.kq.rt.signals.release(s)
}

func signalEvent(w *Watch, hint int64) bool {
	ready := false
	w.Update(func(f *Fields) {
		if hint > 0 {
			f.Data += hint
		}
		ready = f.Data > 0
	})
	return ready
}
