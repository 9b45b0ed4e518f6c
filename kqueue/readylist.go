// File: kqueue/readylist.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package kqueue

// readyList is an intrusive circular list threaded through Watch.prev/next.
// root is a sentinel and never appears as an element. All methods require
// the owning Queue's lock.
type readyList struct {
	root Watch
}

func (l *readyList) init() {
	l.root.next = &l.root
	l.root.prev = &l.root
	l.root.status = statusMarker
}

func (l *readyList) empty() bool {
	return l.root.next == &l.root
}

func (l *readyList) pushBack(w *Watch) {
	last := l.root.prev
	w.prev = last
	w.next = &l.root
	last.next = w
	l.root.prev = w
}

func (l *readyList) remove(w *Watch) {
	w.prev.next = w.next
	w.next.prev = w.prev
	w.prev = nil
	w.next = nil
}

// frontFor returns the first element that is either a registered watch or
// marker itself. Markers of concurrent scans are skipped in place. It
// returns nil when marker is not on the list.
func (l *readyList) frontFor(marker *Watch) *Watch {
	for w := l.root.next; w != &l.root; w = w.next {
		if w.status&statusMarker != 0 && w != marker {
			continue
		}
		return w
	}
	return nil
}

// each calls fn for every element, markers included, until fn returns false.
func (l *readyList) each(fn func(w *Watch) bool) {
	for w := l.root.next; w != &l.root; w = w.next {
		if !fn(w) {
			return
		}
	}
}
