//go:build linux

package reactor

import (
	"testing"
	"time"

	"github.com/momentics/hioload-kq/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestEpollReportsEdges(t *testing.T) {
	r, err := New(Options{MaxEvents: 4})
	require.NoError(t, err)
	defer r.Close()

	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	masks := make(chan api.ReadyMask, 8)
	require.NoError(t, r.Register(uintptr(p[0]), func(_ uintptr, m api.ReadyMask) { masks <- m }))
	assert.ErrorIs(t, r.Register(uintptr(p[0]), func(uintptr, api.ReadyMask) {}), api.ErrAlreadyExists)

	_, err = unix.Write(p[1], []byte("x"))
	require.NoError(t, err)

	select {
	case m := <-masks:
		assert.NotZero(t, m&api.ReadyRead)
	case <-time.After(5 * time.Second):
		t.Fatal("no readiness edge")
	}

	require.NoError(t, r.Unregister(uintptr(p[0])))
	assert.ErrorIs(t, r.Unregister(uintptr(p[0])), api.ErrNotFound)
}

func TestCloseIsIdempotent(t *testing.T) {
	r, err := New(Options{})
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.Register(0, func(uintptr, api.ReadyMask) {}), api.ErrBadHandle)
}

func TestToMask(t *testing.T) {
	assert.Equal(t, api.ReadyRead|api.ReadyHangup, toMask(unix.EPOLLIN|unix.EPOLLRDHUP))
	assert.Equal(t, api.ReadyWrite|api.ReadyError, toMask(unix.EPOLLOUT|unix.EPOLLERR))
}
