//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor. Descriptors are registered edge-triggered;
// an eventfd wakes the dispatch loop for shutdown.

package reactor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/momentics/hioload-kq/api"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// epollReactor implements api.Reactor using Linux epoll.
type epollReactor struct {
	epfd      int
	wakefd    int
	maxEvents int
	log       zerolog.Logger

	mu        sync.RWMutex
	callbacks map[int32]api.ReadyFunc
	closed    bool
	done      chan struct{}
}

func newReactor(opts Options) (api.Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add eventfd: %w", err)
	}
	r := &epollReactor{
		epfd:      epfd,
		wakefd:    wakefd,
		maxEvents: opts.MaxEvents,
		log:       opts.Logger.With().Str("component", "reactor").Logger(),
		callbacks: make(map[int32]api.ReadyFunc),
		done:      make(chan struct{}),
	}
	go r.loop()
	return r, nil
}

// Register adds fd for read, write and hangup edges.
func (r *epollReactor) Register(fd uintptr, fn api.ReadyFunc) error {
	if fn == nil {
		return api.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return api.ErrBadHandle
	}
	if _, ok := r.callbacks[int32(fd)]; ok {
		return api.ErrAlreadyExists
	}
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	r.callbacks[int32(fd)] = fn
	return nil
}

// Unregister removes fd from the epoll set.
func (r *epollReactor) Unregister(fd uintptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.callbacks[int32(fd)]; !ok {
		return api.ErrNotFound
	}
	delete(r.callbacks, int32(fd))
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil); err != nil && !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Close stops the dispatch loop and releases epoll.
func (r *epollReactor) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	var one [8]byte
	one[0] = 1
	if _, err := unix.Write(r.wakefd, one[:]); err != nil {
		r.log.Error().Err(err).Msg("wake reactor")
	}
	<-r.done
	unix.Close(r.wakefd)
	return unix.Close(r.epfd)
}

func (r *epollReactor) loop() {
	defer close(r.done)
	events := make([]unix.EpollEvent, r.maxEvents)
	for {
		n, err := unix.EpollWait(r.epfd, events, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			r.log.Error().Err(err).Msg("epoll wait")
			return
		}
		for i := 0; i < n; i++ {
			ev := events[i]
			if int(ev.Fd) == r.wakefd {
				r.mu.RLock()
				closed := r.closed
				r.mu.RUnlock()
				if closed {
					return
				}
				continue
			}
			r.mu.RLock()
			fn := r.callbacks[ev.Fd]
			r.mu.RUnlock()
			if fn == nil {
				continue
			}
			r.dispatch(fn, uintptr(ev.Fd), toMask(ev.Events))
		}
	}
}

// dispatch keeps the loop alive when a callback panics.
func (r *epollReactor) dispatch(fn api.ReadyFunc, fd uintptr, mask api.ReadyMask) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Interface("panic", p).Uint64("fd", uint64(fd)).Msg("ready callback panicked")
		}
	}()
	fn(fd, mask)
}

func toMask(events uint32) api.ReadyMask {
	var m api.ReadyMask
	if events&unix.EPOLLIN != 0 {
		m |= api.ReadyRead
	}
	if events&unix.EPOLLOUT != 0 {
		m |= api.ReadyWrite
	}
	if events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		m |= api.ReadyHangup
	}
	if events&unix.EPOLLERR != 0 {
		m |= api.ReadyError
	}
	return m
}
