// File: api/kevent.go
// Package api defines the watch-change request and ready-event record.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "fmt"

// Kevent is both a watch-change request passed to a queue and a ready event
// returned from it. The (Ident, Filter) pair names a watch within one queue.
type Kevent struct {
	Ident  uint64 // source identifier: handle, pid, signal number, timer id
	Filter uint32 // filter id, see Filter* constants
	Flags  uint16 // EV* action and status flags
	Fflags uint32 // filter-specific flags
	Data   int64  // filter-specific data
	Udata  any    // opaque user value, returned unchanged
}

// Action flags.
const (
	EvAdd      uint16 = 0x0001 // add the watch, or modify an existing one
	EvDelete   uint16 = 0x0002 // delete the watch
	EvEnable   uint16 = 0x0004 // enable delivery
	EvDisable  uint16 = 0x0008 // disable delivery, keep the watch
	EvOneshot  uint16 = 0x0010 // delete after the first delivery
	EvClear    uint16 = 0x0020 // reset output state after delivery
	EvReceipt  uint16 = 0x0040 // report success of the change inline
	EvDispatch uint16 = 0x0080 // disable after each delivery

	EvSysFlags uint16 = 0xF000 // reserved for the registry
	EvFlag1    uint16 = 0x2000 // filter-private

	EvError uint16 = 0x4000 // change failed, Data carries the ErrorCode
	EvEOF   uint16 = 0x8000 // source reached end of file
)

// Built-in filter ids. Dynamically registered filters start at FilterSysCount.
const (
	FilterRead uint32 = iota
	FilterWrite
	FilterVnode
	FilterProc
	FilterSignal
	FilterTimer
	FilterUser
	FilterSysCount
)

// Read and write filter notes.
const (
	NoteLowat uint32 = 0x0001 // Data is the low-water mark
)

// Vnode filter notes.
const (
	NoteDelete uint32 = 0x0001
	NoteWrite  uint32 = 0x0002
	NoteExtend uint32 = 0x0004
	NoteAttrib uint32 = 0x0008
	NoteLink   uint32 = 0x0010
	NoteRename uint32 = 0x0020
	NoteRevoke uint32 = 0x0040
)

// Proc filter notes.
const (
	NoteExit      uint32 = 0x80000000
	NoteFork      uint32 = 0x40000000
	NoteExec      uint32 = 0x20000000
	NotePCtrlMask uint32 = 0xf0000000
	NotePDataMask uint32 = 0x000fffff

	NoteTrack    uint32 = 0x00000001 // follow across fork
	NoteTrackErr uint32 = 0x00000002 // could not attach to a child
	NoteChild    uint32 = 0x00000004 // watch was created by tracking
)

// Timer filter units. Milliseconds is the default.
const (
	NoteMSeconds  uint32 = 0x00000000
	NoteSeconds   uint32 = 0x00000001
	NoteUSeconds  uint32 = 0x00000002
	NoteNSeconds  uint32 = 0x00000003
	NoteTimerMask uint32 = 0x00000003
)

// User filter notes.
const (
	NoteFFNop      uint32 = 0x00000000
	NoteFFAnd      uint32 = 0x40000000
	NoteFFOr       uint32 = 0x80000000
	NoteFFCopy     uint32 = 0xc0000000
	NoteFFCtrlMask uint32 = 0xc0000000
	NoteFFlagsMask uint32 = 0x00ffffff
	NoteTrigger    uint32 = 0x01000000
)

// Err returns the error reported by an EvError entry, or nil.
func (k *Kevent) Err() error {
	if k.Flags&EvError == 0 {
		return nil
	}
	return ErrorFromCode(ErrorCode(k.Data))
}

func (k Kevent) String() string {
	return fmt.Sprintf("kevent{ident=%d filter=%d flags=%#x fflags=%#x data=%d}",
		k.Ident, k.Filter, k.Flags, k.Fflags, k.Data)
}
