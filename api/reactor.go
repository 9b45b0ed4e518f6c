// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract interface for OS readiness reactors backing
// descriptor resources (epoll on Linux).

package api

// ReadyMask reports which readiness conditions changed on a descriptor.
type ReadyMask uint8

const (
	ReadyRead ReadyMask = 1 << iota
	ReadyWrite
	ReadyHangup
	ReadyError
)

// ReadyFunc is invoked from the reactor goroutine when a registered
// descriptor changes state. It must not block.
type ReadyFunc func(fd uintptr, mask ReadyMask)

// Reactor multiplexes OS descriptors and reports readiness edges.
type Reactor interface {
	// Register must associate a descriptor with the reactor.
	Register(fd uintptr, fn ReadyFunc) error

	// Unregister removes a descriptor; no callbacks start for it afterwards.
	Unregister(fd uintptr) error

	// Close must stop the reactor goroutine and release the poller backend.
	Close() error
}
