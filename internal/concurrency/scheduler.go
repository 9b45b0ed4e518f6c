// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Callout scheduler: a min-heap of timed tasks served by a single runner
// goroutine. Cancel waits for an in-flight run, so a canceled callback never
// touches state its owner is about to free.

package concurrency

import (
	"container/heap"
	"sync"
	"time"

	"github.com/momentics/hioload-kq/api"
)

// DefaultResolution is the scheduler tick used when none is configured.
const DefaultResolution = time.Millisecond

// Scheduler runs one-shot and periodic callbacks.
type Scheduler struct {
	mu         sync.Mutex
	idle       *sync.Cond // signaled when the running task returns
	timerQ     taskHeap
	running    *Task
	resolution time.Duration
	notify     chan struct{}
	stop       chan struct{}
	done       chan struct{}
	closed     bool
}

// Task is a scheduled callback.
type Task struct {
	s         *Scheduler
	when      time.Time
	period    time.Duration
	fn        func()
	index     int // heap index, -1 when not queued
	cancelled bool
}

var _ api.Scheduler = (*Scheduler)(nil)
var _ api.Cancelable = (*Task)(nil)

// NewScheduler starts a scheduler with the given resolution.
func NewScheduler(resolution time.Duration) *Scheduler {
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	s := &Scheduler{
		resolution: resolution,
		notify:     make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.idle = sync.NewCond(&s.mu)
	go s.run()
	return s
}

// Resolution returns the scheduler tick.
func (s *Scheduler) Resolution() time.Duration {
	return s.resolution
}

// Schedule queues fn to run after delay, then every period if period > 0.
func (s *Scheduler) Schedule(delay, period time.Duration, fn func()) (api.Cancelable, error) {
	if fn == nil || delay < 0 || period < 0 {
		return nil, api.ErrInvalidArgument
	}
	t := &Task{
		s:      s,
		when:   time.Now().Add(delay),
		period: period,
		fn:     fn,
		index:  -1,
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, api.ErrResourceExhausted
	}
	heap.Push(&s.timerQ, t)
	first := t.index == 0
	s.mu.Unlock()
	if first {
		s.wake()
	}
	return t, nil
}

// Cancel stops the task and waits for a run in progress to finish.
func (t *Task) Cancel() {
	s := t.s
	s.mu.Lock()
	t.cancelled = true
	if t.index >= 0 {
		heap.Remove(&s.timerQ, t.index)
	}
	for s.running == t {
		s.idle.Wait()
	}
	s.mu.Unlock()
}

// Pending returns the number of queued tasks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timerQ.Len()
}

// Close stops the runner. Pending tasks never run.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, t := range s.timerQ {
		t.cancelled = true
		t.index = -1
	}
	s.timerQ = nil
	s.mu.Unlock()
	close(s.stop)
	<-s.done
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer close(s.done)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	for {
		s.mu.Lock()
		wait := time.Duration(-1)
		if s.timerQ.Len() > 0 {
			task := s.timerQ[0]
			now := time.Now()
			if !task.when.After(now) {
				heap.Pop(&s.timerQ)
				s.running = task
				s.mu.Unlock()

				task.fn()

				s.mu.Lock()
				s.running = nil
				if !task.cancelled && task.period > 0 && !s.closed {
					task.when = nextFire(task.when, task.period, time.Now())
					heap.Push(&s.timerQ, task)
				}
				s.idle.Broadcast()
				s.mu.Unlock()
				continue
			}
			wait = task.when.Sub(now)
		}
		s.mu.Unlock()

		if wait < 0 {
			select {
			case <-s.notify:
			case <-s.stop:
				return
			}
			continue
		}
		timer.Reset(wait)
		select {
		case <-timer.C:
		case <-s.notify:
			timer.Stop()
		case <-s.stop:
			timer.Stop()
			return
		}
	}
}

// nextFire skips periods that were missed while the runner was busy.
func nextFire(last time.Time, period time.Duration, now time.Time) time.Time {
	next := last.Add(period)
	if next.After(now) {
		return next
	}
	missed := now.Sub(last) / period
	return last.Add((missed + 1) * period)
}

type taskHeap []*Task

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
