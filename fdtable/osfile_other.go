//go:build !linux
// +build !linux

// File: fdtable/osfile_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fdtable

import (
	"github.com/momentics/hioload-kq/api"
	"github.com/momentics/hioload-kq/kqueue"
)

// OSFile is unavailable on this platform.
type OSFile struct{}

// Adopt always fails here: the platform has no reactor backend.
func Adopt(int, api.Reactor) (*OSFile, error) {
	return nil, api.NewError(api.ErrCodeNotSupported, "fdtable: descriptor adoption not supported")
}

func (f *OSFile) FD() int { return -1 }
func (f *OSFile) Read([]byte) (int, error) { return 0, api.ErrNotSupported }
func (f *OSFile) Write([]byte) (int, error) { return 0, api.ErrNotSupported }
func (f *OSFile) KQFilter(*kqueue.Watch) error { return api.ErrNotSupported }
func (f *OSFile) Close() error { return nil }
