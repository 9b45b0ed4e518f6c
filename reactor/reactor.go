// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral reactor construction.

package reactor

import (
	"github.com/momentics/hioload-kq/api"
	"github.com/rs/zerolog"
)

// DefaultMaxEvents is the epoll_wait batch used when none is configured.
const DefaultMaxEvents = 128

// Options configures a reactor.
type Options struct {
	MaxEvents int
	Logger    zerolog.Logger
}

// New starts the platform reactor and its dispatch goroutine.
func New(opts Options) (api.Reactor, error) {
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = DefaultMaxEvents
	}
	return newReactor(opts)
}
