package main

import (
	"context"
	"errors"
	"time"

	"github.com/momentics/hioload-kq/api"
)

// drain blocks on kq and prints every event until ctx is done or max
// events were printed. max <= 0 means no limit.
func (a *app) drain(ctx context.Context, kq, max int, label func(api.Kevent) string) error {
	events := make([]api.Kevent, a.sys.Config().Scan.BatchSize)
	seen := 0
	for {
		n, err := a.proc.Kevent(ctx, kq, nil, events, nil)
		if errors.Is(err, api.ErrCancelled) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, ev := range events[:n] {
			rec := newEventRecord(a.sys.Registry(), ev)
			if label != nil && rec.Source == "" {
				rec.Source = label(ev)
			}
			if err := a.out.print(rec); err != nil {
				return err
			}
			seen++
			if max > 0 && seen >= max {
				return nil
			}
		}
	}
}

// apply registers changes on kq and fails on the first rejected one.
func (a *app) apply(ctx context.Context, kq int, changes ...api.Kevent) error {
	for i := range changes {
		changes[i].Flags |= api.EvReceipt
	}
	results := make([]api.Kevent, len(changes))
	n, err := a.proc.Kevent(ctx, kq, changes, results, nil)
	if err != nil {
		return err
	}
	for _, r := range results[:n] {
		if err := r.Err(); err != nil {
			return err
		}
	}
	return nil
}

// poll prints the events ready right now, labelled with step.
func (a *app) poll(ctx context.Context, kq int, step string) error {
	events := make([]api.Kevent, a.sys.Config().Scan.BatchSize)
	zero := time.Duration(0)
	for {
		n, err := a.proc.Kevent(ctx, kq, nil, events, &zero)
		if err != nil {
			return err
		}
		for _, ev := range events[:n] {
			rec := newEventRecord(a.sys.Registry(), ev)
			rec.Source = step
			if err := a.out.print(rec); err != nil {
				return err
			}
		}
		if n < len(events) {
			return nil
		}
	}
}
