package main

import (
	"fmt"
	"time"

	"github.com/momentics/hioload-kq/api"
	"github.com/spf13/cobra"
)

func newTimerCmd(a *app) *cobra.Command {
	var (
		interval time.Duration
		count    int
		timers   int
		oneshot  bool
	)
	cmd := &cobra.Command{
		Use:   "timer",
		Short: "Run timers and print each expiration",
		Long: `Registers one or more timers on a fresh queue. Each event's data is the
number of expirations since the previous delivery.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if timers < 1 {
				return fmt.Errorf("--timers must be at least 1")
			}
			ctx := cmd.Context()
			kq, err := a.proc.Kqueue()
			if err != nil {
				return err
			}
			flags := api.EvAdd
			if oneshot {
				flags |= api.EvOneshot
			}
			changes := make([]api.Kevent, 0, timers)
			for i := 1; i <= timers; i++ {
				changes = append(changes, api.Kevent{
					Ident:  uint64(i),
					Filter: api.FilterTimer,
					Flags:  flags,
					Fflags: api.NoteNSeconds,
					Data:   int64(interval) * int64(i),
				})
			}
			if err := a.apply(ctx, kq, changes...); err != nil {
				return err
			}
			if oneshot && (count <= 0 || count > timers) {
				count = timers
			}
			return a.drain(ctx, kq, count, nil)
		},
	}
	f := cmd.Flags()
	f.DurationVar(&interval, "interval", time.Second, "period of the first timer; timer i fires every i*interval")
	f.IntVar(&count, "count", 0, "stop after this many events (0: until interrupted)")
	f.IntVar(&timers, "timers", 1, "number of timers")
	f.BoolVar(&oneshot, "oneshot", false, "fire each timer once")
	return cmd
}
