package fdtable

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/momentics/hioload-kq/api"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "watched.txt")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestFileReadFilter(t *testing.T) {
	e := newEnv(t)
	f, err := OpenFile(writeFile(t, "0123456789"), zerolog.Nop())
	require.NoError(t, err)
	fd := e.table.Install(f)

	e.add(t, api.Kevent{Ident: uint64(fd), Filter: api.FilterRead, Flags: api.EvAdd})
	evs := e.poll(t)
	require.Len(t, evs, 1)
	assert.Equal(t, int64(10), evs[0].Data)

	_, err = f.Seek(4, io.SeekStart)
	require.NoError(t, err)
	evs = e.poll(t)
	require.Len(t, evs, 1)
	assert.Equal(t, int64(6), evs[0].Data)

	_, err = f.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	assert.Empty(t, e.poll(t))

	err = e.q.Register(&api.Kevent{Ident: uint64(fd), Filter: api.FilterWrite, Flags: api.EvAdd})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestFileVnodeWrite(t *testing.T) {
	e := newEnv(t)
	path := writeFile(t, "seed")
	f, err := OpenFile(path, zerolog.Nop())
	require.NoError(t, err)
	fd := e.table.Install(f)

	e.add(t, api.Kevent{Ident: uint64(fd), Filter: api.FilterVnode, Flags: api.EvAdd | api.EvClear,
		Fflags: api.NoteWrite | api.NoteExtend})

	out, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = out.WriteString(" more")
	require.NoError(t, err)
	require.NoError(t, out.Close())

	evs := e.wait(t, 5*time.Second)
	require.Len(t, evs, 1)
	assert.Equal(t, uint64(fd), evs[0].Ident)
	assert.NotZero(t, evs[0].Fflags&api.NoteWrite)
	assert.NotZero(t, evs[0].Fflags&api.NoteExtend)
}

func TestOpenFileRejectsDirectory(t *testing.T) {
	_, err := OpenFile(t.TempDir(), zerolog.Nop())
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}
