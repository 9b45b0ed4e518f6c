// File: kqueue/kevent.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package kqueue

import (
	"context"
	"time"

	"github.com/momentics/hioload-kq/api"
)

var _ api.Poller = (*Queue)(nil)

// Kevent applies changes in order, then scans for ready events.
//
// A change that fails, or any change carrying EvReceipt, is reported in
// events as an EvError entry whose Data is the api.ErrorCode (zero on
// success). Once events has no room left for such an entry the failure is
// returned instead. If any entries were reported inline, Kevent returns
// their number without scanning.
func (q *Queue) Kevent(ctx context.Context, changes, events []api.Kevent, timeout *time.Duration) (int, error) {
	nerr := 0
	for i := range changes {
		kev := changes[i]
		kev.Flags &^= api.EvSysFlags
		err := q.Register(&kev)
		if err == nil && kev.Flags&api.EvReceipt == 0 {
			continue
		}
		if nerr < len(events) {
			kev.Flags = api.EvError
			kev.Data = int64(api.CodeOf(err))
			events[nerr] = kev
			nerr++
			continue
		}
		if err != nil {
			return nerr, err
		}
	}
	if nerr > 0 {
		return nerr, nil
	}
	return q.Scan(ctx, events, timeout)
}
