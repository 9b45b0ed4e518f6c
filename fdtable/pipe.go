// File: fdtable/pipe.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// In-memory pipe with non-blocking ends. The read end supports the read
// filter (data = bytes buffered), the write end the write filter (data =
// free space). Closing either end reports EvEOF to watchers of the other.

package fdtable

import (
	"errors"
	"io"
	"sync"

	"github.com/momentics/hioload-kq/api"
	"github.com/momentics/hioload-kq/kqueue"
)

// DefaultPipeSize is the buffer capacity of NewPipe(0).
const DefaultPipeSize = 16 << 10

// ErrWouldBlock is returned by non-blocking operations that cannot proceed.
var ErrWouldBlock = errors.New("fdtable: operation would block")

type pipeBuf struct {
	mu          sync.Mutex
	data        []byte
	size        int
	readClosed  bool
	writeClosed bool

	rnotes kqueue.NoteList
	wnotes kqueue.NoteList
}

// PipeReader is the read end of a pipe.
type PipeReader struct{ p *pipeBuf }

// PipeWriter is the write end of a pipe.
type PipeWriter struct{ p *pipeBuf }

// NewPipe returns connected pipe ends with the given buffer size.
func NewPipe(size int) (*PipeReader, *PipeWriter) {
	if size <= 0 {
		size = DefaultPipeSize
	}
	p := &pipeBuf{size: size}
	return &PipeReader{p}, &PipeWriter{p}
}

// Read copies buffered bytes. It returns io.EOF once the buffer is empty
// and the write end is closed, and ErrWouldBlock if it is merely empty.
func (r *PipeReader) Read(b []byte) (int, error) {
	p := r.p
	p.mu.Lock()
	if p.readClosed {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if len(p.data) == 0 {
		eof := p.writeClosed
		p.mu.Unlock()
		if eof {
			return 0, io.EOF
		}
		return 0, ErrWouldBlock
	}
	n := copy(b, p.data)
	p.data = p.data[n:]
	p.mu.Unlock()
	p.wnotes.Notify(0)
	return n, nil
}

// Buffered returns the number of unread bytes.
func (r *PipeReader) Buffered() int {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	return len(r.p.data)
}

// Close closes the read end.
func (r *PipeReader) Close() error {
	p := r.p
	p.mu.Lock()
	p.readClosed = true
	p.data = nil
	p.mu.Unlock()
	p.wnotes.Notify(0)
	return nil
}

// KQFilter accepts the read filter.
func (r *PipeReader) KQFilter(w *kqueue.Watch) error {
	if w.FilterID() != api.FilterRead {
		return api.NewError(api.ErrCodeInvalidArgument, "fdtable: pipe read end supports only the read filter")
	}
	w.SetOps(pipeReadOps{r.p})
	r.p.rnotes.Add(w)
	return nil
}

// Write appends as much of b as fits. A full pipe returns ErrWouldBlock; a
// closed read end returns io.ErrClosedPipe.
func (wr *PipeWriter) Write(b []byte) (int, error) {
	p := wr.p
	p.mu.Lock()
	if p.writeClosed || p.readClosed {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	space := p.size - len(p.data)
	if space == 0 {
		p.mu.Unlock()
		return 0, ErrWouldBlock
	}
	n := len(b)
	if n > space {
		n = space
	}
	p.data = append(p.data, b[:n]...)
	p.mu.Unlock()
	p.rnotes.Notify(0)
	if n < len(b) {
		return n, ErrWouldBlock
	}
	return n, nil
}

// Close closes the write end.
func (wr *PipeWriter) Close() error {
	p := wr.p
	p.mu.Lock()
	p.writeClosed = true
	p.mu.Unlock()
	p.rnotes.Notify(0)
	return nil
}

// KQFilter accepts the write filter.
func (wr *PipeWriter) KQFilter(w *kqueue.Watch) error {
	if w.FilterID() != api.FilterWrite {
		return api.NewError(api.ErrCodeInvalidArgument, "fdtable: pipe write end supports only the write filter")
	}
	w.SetOps(pipeWriteOps{wr.p})
	wr.p.wnotes.Add(w)
	return nil
}

type pipeReadOps struct{ p *pipeBuf }

func (o pipeReadOps) Detach(w *kqueue.Watch) { o.p.rnotes.Remove(w) }

func (o pipeReadOps) Event(w *kqueue.Watch, _ int64) bool {
	o.p.mu.Lock()
	n := int64(len(o.p.data))
	eof := o.p.writeClosed
	o.p.mu.Unlock()
	return readiness(w, n, eof, 1)
}

type pipeWriteOps struct{ p *pipeBuf }

func (o pipeWriteOps) Detach(w *kqueue.Watch) { o.p.wnotes.Remove(w) }

func (o pipeWriteOps) Event(w *kqueue.Watch, _ int64) bool {
	o.p.mu.Lock()
	space := int64(o.p.size - len(o.p.data))
	eof := o.p.readClosed
	if o.p.writeClosed {
		space = 0
	}
	o.p.mu.Unlock()
	return readiness(w, space, eof, 1)
}

// readiness stores the byte count and EOF state and applies the low-water
// mark: NoteLowat with Data as the mark, otherwise def.
func readiness(w *kqueue.Watch, n int64, eof bool, def int64) bool {
	ready := false
	w.Update(func(f *kqueue.Fields) {
		f.Data = n
		lowat := def
		if f.SFFlags&api.NoteLowat != 0 && f.SData > 0 {
			lowat = f.SData
		}
		if eof {
			f.Flags |= api.EvEOF
			ready = true
			return
		}
		f.Flags &^= api.EvEOF
		ready = n >= lowat
	})
	return ready
}
