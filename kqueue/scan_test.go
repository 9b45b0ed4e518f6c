package kqueue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/hioload-kq/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestScanLevelTriggered(t *testing.T) {
	fx := newFixture(t)
	src := &levelSource{}
	fx.files.put(4, src)
	fx.register(t, api.Kevent{Ident: 4, Filter: api.FilterRead, Flags: api.EvAdd})

	src.set(3)
	for i := 0; i < 3; i++ {
		evs := poll(t, fx.q, 4)
		require.Len(t, evs, 1)
		assert.Equal(t, int64(3), evs[0].Data)
	}

	src.set(0)
	assert.Empty(t, poll(t, fx.q, 4), "stale entry must not be delivered")
	assert.Equal(t, 0, fx.q.Count())
}

func TestScanOneshot(t *testing.T) {
	fx := newFixture(t)
	fx.register(t, api.Kevent{Ident: 9, Filter: api.FilterUser, Flags: api.EvAdd | api.EvOneshot, Fflags: api.NoteTrigger})
	assert.Equal(t, int64(1), fx.rt.Registry().Refs(api.FilterUser))

	evs := poll(t, fx.q, 4)
	require.Len(t, evs, 1)
	assert.Equal(t, uint64(9), evs[0].Ident)
	assert.Empty(t, poll(t, fx.q, 4))

	assert.Equal(t, int64(0), fx.rt.Registry().Refs(api.FilterUser))
	err := fx.q.Register(&api.Kevent{Ident: 9, Filter: api.FilterUser, Flags: api.EvDelete})
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestScanClear(t *testing.T) {
	fx := newFixture(t)
	src := &levelSource{}
	fx.files.put(4, src)
	fx.register(t, api.Kevent{Ident: 4, Filter: api.FilterRead, Flags: api.EvAdd | api.EvClear})

	src.set(2)
	evs := poll(t, fx.q, 4)
	require.Len(t, evs, 1)
	assert.Equal(t, int64(2), evs[0].Data)
	assert.Empty(t, poll(t, fx.q, 4), "clear-on-read waits for the next activation")

	src.set(6)
	evs = poll(t, fx.q, 4)
	require.Len(t, evs, 1)
	assert.Equal(t, int64(6), evs[0].Data)
}

func TestScanDispatch(t *testing.T) {
	fx := newFixture(t)
	src := &levelSource{}
	fx.files.put(4, src)
	fx.register(t, api.Kevent{Ident: 4, Filter: api.FilterRead, Flags: api.EvAdd | api.EvDispatch})

	src.set(1)
	require.Len(t, poll(t, fx.q, 4), 1)
	src.set(2)
	assert.Empty(t, poll(t, fx.q, 4), "dispatch disables after delivery")

	fx.register(t, api.Kevent{Ident: 4, Filter: api.FilterRead, Flags: api.EvEnable})
	src.set(3)
	evs := poll(t, fx.q, 4)
	require.Len(t, evs, 1)
	assert.Equal(t, int64(3), evs[0].Data)
}

// Watches activated while a pass is running belong to the next pass.
func TestScanMarkerBoundsPass(t *testing.T) {
	fx := newFixture(t)

	var (
		mu    sync.Mutex
		ready = map[uint64]bool{}
		late  []*Watch
		fire  atomic.Bool
	)
	id, err := fx.rt.Registry().Register("probe", FilterFuncs{
		AttachFunc: func(w *Watch) error {
			if w.Ident() >= 100 {
				mu.Lock()
				late = append(late, w)
				mu.Unlock()
			}
			return nil
		},
		EventFunc: func(w *Watch, _ int64) bool {
			if w.Ident() == 0 && fire.CompareAndSwap(true, false) {
				mu.Lock()
				ws := append([]*Watch(nil), late...)
				for _, lw := range ws {
					ready[lw.Ident()] = true
				}
				mu.Unlock()
				for _, lw := range ws {
					lw.Activate()
				}
			}
			mu.Lock()
			defer mu.Unlock()
			return ready[w.Ident()]
		},
	})
	require.NoError(t, err)

	const early, lateN = 3, 4
	mu.Lock()
	for i := uint64(0); i < early; i++ {
		ready[i] = true
	}
	mu.Unlock()
	for i := uint64(0); i < early; i++ {
		fx.register(t, api.Kevent{Ident: i, Filter: id, Flags: api.EvAdd})
	}
	for i := uint64(100); i < 100+lateN; i++ {
		fx.register(t, api.Kevent{Ident: i, Filter: id, Flags: api.EvAdd})
	}
	require.Equal(t, early, fx.q.Count())

	fire.Store(true)
	evs := poll(t, fx.q, 32)
	assert.Equal(t, []uint64{0, 1, 2}, idents(evs))
	assert.Equal(t, early+lateN, fx.q.Count())

	evs = poll(t, fx.q, 32)
	assert.Len(t, evs, early+lateN)
}

func TestScanRespectsCapacityAndChunks(t *testing.T) {
	fx := newFixture(t, WithBatchSize(2))
	for i := uint64(1); i <= 7; i++ {
		fx.register(t, api.Kevent{Ident: i, Filter: api.FilterUser, Flags: api.EvAdd | api.EvOneshot, Fflags: api.NoteTrigger})
	}

	evs := poll(t, fx.q, 5)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, idents(evs))
	assert.Equal(t, 2, fx.q.Count())

	evs = poll(t, fx.q, 5)
	assert.Equal(t, []uint64{6, 7}, idents(evs))
	assert.Equal(t, 0, fx.q.Snapshot().Markers)
}

func TestScanConcurrentScannersNoDuplicates(t *testing.T) {
	fx := newFixture(t, WithBatchSize(4))
	const n = 300
	for i := uint64(0); i < n; i++ {
		fx.register(t, api.Kevent{Ident: i, Filter: api.FilterUser, Flags: api.EvAdd | api.EvOneshot, Fflags: api.NoteTrigger})
	}

	var (
		mu   sync.Mutex
		seen []uint64
	)
	g, ctx := errgroup.WithContext(context.Background())
	for s := 0; s < 4; s++ {
		g.Go(func() error {
			events := make([]api.Kevent, 7)
			zero := time.Duration(0)
			for {
				k, err := fx.q.Scan(ctx, events, &zero)
				if err != nil {
					return err
				}
				if k == 0 {
					return nil
				}
				mu.Lock()
				seen = append(seen, idents(events[:k])...)
				mu.Unlock()
			}
		})
	}
	require.NoError(t, g.Wait())

	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	require.Len(t, seen, n)
	for i, id := range seen {
		assert.Equal(t, uint64(i), id)
	}
	require.NoError(t, fx.q.Verify())
}

func TestScanConcurrentActivation(t *testing.T) {
	fx := newFixture(t)
	const sources = 16
	srcs := make([]*levelSource, sources)
	for i := range srcs {
		srcs[i] = &levelSource{}
		fx.files.put(10+i, srcs[i])
		fx.register(t, api.Kevent{Ident: uint64(10 + i), Filter: api.FilterRead, Flags: api.EvAdd | api.EvClear})
	}

	var g errgroup.Group
	for i := range srcs {
		src := srcs[i]
		g.Go(func() error {
			for j := int64(1); j <= 200; j++ {
				src.set(j)
			}
			return nil
		})
	}
	g.Go(func() error {
		events := make([]api.Kevent, 5)
		zero := time.Duration(0)
		for i := 0; i < 500; i++ {
			if _, err := fx.q.Scan(context.Background(), events, &zero); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, g.Wait())
	require.NoError(t, fx.q.Verify())
}

func TestScanBlocksUntilActivation(t *testing.T) {
	fx := newFixture(t)
	fx.register(t, api.Kevent{Ident: 1, Filter: api.FilterUser, Flags: api.EvAdd | api.EvClear})

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = fx.q.Register(&api.Kevent{Ident: 1, Filter: api.FilterUser, Fflags: api.NoteTrigger})
	}()

	events := make([]api.Kevent, 2)
	timeout := 5 * time.Second
	n, err := fx.q.Scan(context.Background(), events, &timeout)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, uint64(1), events[0].Ident)
}

func TestScanTimeout(t *testing.T) {
	fx := newFixture(t)
	events := make([]api.Kevent, 2)
	timeout := 15 * time.Millisecond
	start := time.Now()
	n, err := fx.q.Scan(context.Background(), events, &timeout)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.GreaterOrEqual(t, time.Since(start), timeout)

	neg := -time.Second
	_, err = fx.q.Scan(context.Background(), events, &neg)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestScanCancelled(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	n, err := fx.q.Scan(ctx, make([]api.Kevent, 2), nil)
	assert.Equal(t, 0, n)
	assert.True(t, errors.Is(err, api.ErrCancelled))
}

func TestScanStaleEntriesReblock(t *testing.T) {
	fx := newFixture(t)
	src := &levelSource{}
	fx.files.put(4, src)
	fx.register(t, api.Kevent{Ident: 4, Filter: api.FilterRead, Flags: api.EvAdd})

	src.set(1)
	src.mu.Lock()
	src.level = 0
	src.mu.Unlock()

	timeout := 20 * time.Millisecond
	n, err := fx.q.Scan(context.Background(), make([]api.Kevent, 2), &timeout)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestScanClosedQueueWakesWaiter(t *testing.T) {
	fx := newFixture(t)
	done := make(chan error, 1)
	go func() {
		_, err := fx.q.Scan(context.Background(), make([]api.Kevent, 2), nil)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, fx.q.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, api.ErrBadHandle)
	case <-time.After(2 * time.Second):
		t.Fatal("scan not woken by close")
	}
}

func TestScanAddDeleteChurn(t *testing.T) {
	fx := newFixture(t)
	const rounds = 10000
	var stop atomic.Bool

	churn := func() error {
		for i := 0; i < rounds; i++ {
			if err := fx.q.Register(&api.Kevent{Ident: 1, Filter: api.FilterUser, Flags: api.EvAdd, Fflags: api.NoteTrigger}); err != nil {
				return err
			}
			err := fx.q.Register(&api.Kevent{Ident: 1, Filter: api.FilterUser, Flags: api.EvDelete})
			if err != nil && !errors.Is(err, api.ErrNotFound) {
				return err
			}
		}
		return nil
	}

	var workers errgroup.Group
	workers.Go(churn)
	workers.Go(churn)

	var scanner errgroup.Group
	scanner.Go(func() error {
		events := make([]api.Kevent, 4)
		zero := time.Duration(0)
		for !stop.Load() {
			if _, err := fx.q.Scan(context.Background(), events, &zero); err != nil {
				return err
			}
		}
		return nil
	})

	require.NoError(t, workers.Wait())
	stop.Store(true)
	require.NoError(t, scanner.Wait())

	require.NoError(t, fx.q.Verify())
	assert.Len(t, fx.q.Snapshot().Ready, fx.q.Count())

	err := fx.q.Register(&api.Kevent{Ident: 1, Filter: api.FilterUser, Flags: api.EvDelete})
	if err != nil {
		require.ErrorIs(t, err, api.ErrNotFound)
	}
	assert.Equal(t, 0, fx.q.Count())
	assert.Equal(t, int64(0), fx.rt.Registry().Refs(api.FilterUser))
}

func TestScanOneshotDeleteRace(t *testing.T) {
	fx := newFixture(t)
	for i := uint64(0); i < 3000; i++ {
		fx.register(t, api.Kevent{Ident: i, Filter: api.FilterUser, Flags: api.EvAdd | api.EvOneshot, Fflags: api.NoteTrigger})

		var (
			delivered int
			delErr    error
			g         errgroup.Group
		)
		g.Go(func() error {
			events := make([]api.Kevent, 2)
			zero := time.Duration(0)
			n, err := fx.q.Scan(context.Background(), events, &zero)
			delivered = n
			return err
		})
		g.Go(func() error {
			delErr = fx.q.Register(&api.Kevent{Ident: i, Filter: api.FilterUser, Flags: api.EvDelete})
			return nil
		})
		require.NoError(t, g.Wait())

		require.LessOrEqual(t, delivered, 1)
		if delErr != nil {
			require.ErrorIs(t, delErr, api.ErrNotFound)
			require.Equal(t, 1, delivered, "a failed delete means the event was delivered")
		}
		require.Equal(t, int64(0), fx.rt.Registry().Refs(api.FilterUser))
		require.Equal(t, 0, fx.q.Count())
	}
	require.NoError(t, fx.q.Verify())
	assert.Empty(t, poll(t, fx.q, 4))
}
