// File: kqueue/filt_timer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package kqueue

import (
	"math"
	"time"

	"github.com/momentics/hioload-kq/api"
)

// pendingTimer is the scheduled callback of one timer watch.
type pendingTimer struct {
	task     api.Cancelable
	interval time.Duration
}

// timerInterval converts the requested data and unit into a duration
// rounded up to res.
func timerInterval(data int64, fflags uint32, res time.Duration) (time.Duration, error) {
	var unit time.Duration
	switch fflags & api.NoteTimerMask {
	case api.NoteSeconds:
		unit = time.Second
	case api.NoteUSeconds:
		unit = time.Microsecond
	case api.NoteNSeconds:
		unit = time.Nanosecond
	default:
		unit = time.Millisecond
	}
	if data <= 0 || data > int64(math.MaxInt64/unit)-int64(res) {
		return 0, api.NewError(api.ErrCodeInvalidArgument, "kqueue: bad timer interval").WithContext("data", data)
	}
	d := time.Duration(data) * unit
	if res > 0 {
		d = (d + res - 1) / res * res
	}
	if d <= 0 {
		return 0, api.NewError(api.ErrCodeInvalidArgument, "kqueue: bad timer interval").WithContext("data", data)
	}
	return d, nil
}

// timerAttach runs under the owner lock, which also guards ntimers.
func timerAttach(w *Watch) error {
	rt := w.kq.rt
	o := w.kq.owner
	f := w.Fields()
	interval, err := timerInterval(f.SData, f.SFFlags, rt.sched.Resolution())
	if err != nil {
		return err
	}
	if rt.maxTimers > 0 && o.ntimers >= rt.maxTimers {
		o.log.Warn().Int("timers", o.ntimers).Msg("timer limit reached")
		return api.NewError(api.ErrCodeResourceExhausted, "kqueue: too many timers").WithContext("limit", rt.maxTimers)
	}
	w.Update(func(f *Fields) { f.Flags |= api.EvClear })

	period := interval
	if f.Flags&api.EvOneshot != 0 {
		period = 0
	}
	task, err := rt.sched.Schedule(interval, period, func() {
		w.Update(func(f *Fields) { f.Data++ })
		w.Activate()
	})
	if err != nil {
		return api.NewError(api.ErrCodeResourceExhausted, "kqueue: cannot schedule timer").WithContext("cause", err.Error())
	}
	w.SetHook(&pendingTimer{task: task, interval: interval})
	o.ntimers++
	return nil
}

// timerDetach cancels the callback and waits for a firing in progress.
func timerDetach(w *Watch) {
	pt, _ := w.Hook().(*pendingTimer)
	if pt == nil {
		return
	}
	pt.task.Cancel()
	w.kq.owner.ntimers--
}

func timerEvent(w *Watch, _ int64) bool {
	return w.Fields().Data > 0
}
