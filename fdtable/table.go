// File: fdtable/table.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fdtable

import (
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/momentics/hioload-kq/api"
	"github.com/momentics/hioload-kq/kqueue"
)

// Entry is a resource held by the table.
type Entry interface {
	kqueue.Resource
	io.Closer
}

// Table maps small integer handles to entries. The lowest free handle is
// allocated first. A handle being closed stays reserved until its watches
// are detached and the entry is closed.
type Table struct {
	mu      sync.Mutex
	entries map[int]Entry
	closing map[int]struct{}
	owner   *kqueue.Owner
}

var _ kqueue.FileTable = (*Table)(nil)

// New returns an empty table.
func New() *Table {
	return &Table{entries: make(map[int]Entry), closing: make(map[int]struct{})}
}

// Bind sets the owner notified when handles close.
func (t *Table) Bind(o *kqueue.Owner) {
	t.mu.Lock()
	t.owner = o
	t.mu.Unlock()
}

// Install stores e under the lowest free handle.
func (t *Table) Install(e Entry) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := 0
	for {
		_, used := t.entries[fd]
		_, reserved := t.closing[fd]
		if !used && !reserved {
			break
		}
		fd++
	}
	t.entries[fd] = e
	return fd
}

// Lookup resolves fd for the registrar.
func (t *Table) Lookup(fd int) (kqueue.Resource, error) {
	e, err := t.Get(fd)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Get returns the entry under fd.
func (t *Table) Get(fd int) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[fd]
	if !ok {
		return nil, api.NewError(api.ErrCodeBadHandle, "fdtable: bad handle").WithContext("fd", fd)
	}
	return e, nil
}

// Len returns the number of open handles.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Handles lists open handles in order.
func (t *Table) Handles() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, 0, len(t.entries))
	for fd := range t.entries {
		out = append(out, fd)
	}
	sort.Ints(out)
	return out
}

// Close removes fd, detaches its watches and closes the entry. Lookups fail
// as soon as Close starts; the handle is not handed out again until Close
// returns.
func (t *Table) Close(fd int) error {
	t.mu.Lock()
	e, ok := t.entries[fd]
	if !ok {
		t.mu.Unlock()
		return api.NewError(api.ErrCodeBadHandle, "fdtable: bad handle").WithContext("fd", fd)
	}
	delete(t.entries, fd)
	t.closing[fd] = struct{}{}
	owner := t.owner
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.closing, fd)
		t.mu.Unlock()
	}()
	if owner != nil {
		owner.HandleClosed(fd)
	}
	return e.Close()
}

// CloseAll closes every handle, lowest first.
func (t *Table) CloseAll() error {
	var errs []error
	for _, fd := range t.Handles() {
		if err := t.Close(fd); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
