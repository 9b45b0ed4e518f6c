package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/momentics/hioload-kq/api"
	"github.com/momentics/hioload-kq/kqueue"
)

// printer writes records as JSON lines or as a YAML document stream.
type printer struct {
	mu     sync.Mutex
	w      io.Writer
	format string
}

func newPrinter(w io.Writer, format string) (*printer, error) {
	switch format {
	case "json", "yaml":
		return &printer{w: w, format: format}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

func (p *printer) print(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.format == "yaml" {
		b, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(p.w, "---\n"); err != nil {
			return err
		}
		_, err = p.w.Write(b)
		return err
	}
	return json.NewEncoder(p.w).Encode(v)
}

// eventRecord is the printed form of a delivered event.
type eventRecord struct {
	Time   string   `json:"time" yaml:"time"`
	Source string   `json:"source,omitempty" yaml:"source,omitempty"`
	Ident  uint64   `json:"ident" yaml:"ident"`
	Filter string   `json:"filter" yaml:"filter"`
	Flags  []string `json:"flags,omitempty" yaml:"flags,omitempty"`
	Notes  []string `json:"notes,omitempty" yaml:"notes,omitempty"`
	Fflags uint32   `json:"fflags" yaml:"fflags"`
	Data   int64    `json:"data" yaml:"data"`
	Error  string   `json:"error,omitempty" yaml:"error,omitempty"`
}

func newEventRecord(reg *kqueue.Registry, ev api.Kevent) eventRecord {
	name, err := reg.ByID(ev.Filter)
	if err != nil {
		name = fmt.Sprintf("#%d", ev.Filter)
	}
	rec := eventRecord{
		Time:   time.Now().Format(time.RFC3339Nano),
		Ident:  ev.Ident,
		Filter: name,
		Flags:  flagNames(ev.Flags),
		Notes:  noteNames(ev.Filter, ev.Fflags),
		Fflags: ev.Fflags,
		Data:   ev.Data,
	}
	if s, ok := ev.Udata.(string); ok {
		rec.Source = s
	}
	if err := ev.Err(); err != nil {
		rec.Error = err.Error()
	}
	return rec
}

type bitName[T ~uint16 | ~uint32] struct {
	bit  T
	name string
}

var evFlagNames = []bitName[uint16]{
	{api.EvOneshot, "oneshot"},
	{api.EvClear, "clear"},
	{api.EvDispatch, "dispatch"},
	{api.EvError, "error"},
	{api.EvEOF, "eof"},
}

var vnodeNoteNames = []bitName[uint32]{
	{api.NoteDelete, "delete"},
	{api.NoteWrite, "write"},
	{api.NoteExtend, "extend"},
	{api.NoteAttrib, "attrib"},
	{api.NoteLink, "link"},
	{api.NoteRename, "rename"},
	{api.NoteRevoke, "revoke"},
}

var procNoteNames = []bitName[uint32]{
	{api.NoteExit, "exit"},
	{api.NoteFork, "fork"},
	{api.NoteExec, "exec"},
	{api.NoteChild, "child"},
	{api.NoteTrackErr, "trackerr"},
}

func names[T ~uint16 | ~uint32](v T, table []bitName[T]) []string {
	var out []string
	for _, b := range table {
		if v&b.bit != 0 {
			out = append(out, b.name)
		}
	}
	return out
}

func flagNames(f uint16) []string { return names(f, evFlagNames) }

func noteNames(filter, fflags uint32) []string {
	switch filter {
	case api.FilterVnode:
		return names(fflags, vnodeNoteNames)
	case api.FilterProc:
		return names(fflags, procNoteNames)
	}
	return nil
}
