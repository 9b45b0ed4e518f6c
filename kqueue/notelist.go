// File: kqueue/notelist.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package kqueue

import "sync"

// NoteList is the set of watches attached to one source. Sources call
// Notify when their state changes; each watch's filter then decides whether
// the change makes it ready. The zero value is ready to use.
type NoteList struct {
	mu      sync.Mutex
	watches []*Watch
	closed  bool
}

// Add appends w. It returns false if the list was closed by the source.
func (l *NoteList) Add(w *Watch) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.watches = append(l.watches, w)
	return true
}

// Remove drops w and reports whether it was present.
func (l *NoteList) Remove(w *Watch) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, x := range l.watches {
		if x == w {
			last := len(l.watches) - 1
			l.watches[i] = l.watches[last]
			l.watches[last] = nil
			l.watches = l.watches[:last]
			return true
		}
	}
	return false
}

// Len returns the number of attached watches.
func (l *NoteList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.watches)
}

// Notify runs each watch's event check with hint and activates the ready
// ones. Callbacks run outside the list lock.
func (l *NoteList) Notify(hint int64) {
	for _, w := range l.snapshot() {
		if w.event(hint) {
			w.Activate()
		}
	}
}

func (l *NoteList) snapshot() []*Watch {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.watches) == 0 {
		return nil
	}
	return append([]*Watch(nil), l.watches...)
}

// closeAndDrain marks the list closed and hands its watches to the caller.
// Later Add calls fail.
func (l *NoteList) closeAndDrain() []*Watch {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	ws := l.watches
	l.watches = nil
	return ws
}
