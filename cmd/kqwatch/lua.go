package main

import (
	"fmt"
	"os"
	"time"

	"github.com/momentics/hioload-kq/api"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newLuaCmd(a *app) *cobra.Command {
	var (
		name     string
		interval time.Duration
		ticks    int
		watches  int
		data     int64
	)
	cmd := &cobra.Command{
		Use:   "lua SCRIPT",
		Short: "Run a scripted filter against a ticking source",
		Long: `Loads SCRIPT as a dynamic filter, attaches watches to it and notifies it
every interval with the tick number as the hint. The script decides which
ticks make a watch ready. Each watch's sdata is set from --data.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if watches < 1 || interval <= 0 {
				return fmt.Errorf("--watches and --interval must be positive")
			}
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			f, id, err := a.sys.RegisterScript(name, string(src))
			if err != nil {
				return err
			}

			kq, err := a.proc.Kqueue()
			if err != nil {
				return err
			}
			changes := make([]api.Kevent, 0, watches)
			for i := 1; i <= watches; i++ {
				changes = append(changes, api.Kevent{
					Ident:  uint64(i),
					Filter: id,
					Flags:  api.EvAdd | api.EvClear,
					Data:   data,
				})
			}
			if err := a.apply(cmd.Context(), kq, changes...); err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			done := make(chan struct{})
			g.Go(func() error {
				defer close(done)
				t := time.NewTicker(interval)
				defer t.Stop()
				for tick := int64(1); ticks <= 0 || tick <= int64(ticks); tick++ {
					select {
					case <-ctx.Done():
						return nil
					case <-t.C:
						f.Notify(tick)
					}
				}
				return nil
			})
			g.Go(func() error {
				dctx, cancel := contextUntil(ctx, done, interval)
				defer cancel()
				return a.drain(dctx, kq, 0, nil)
			})
			return g.Wait()
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&name, "name", "script", "filter name")
	fl.DurationVar(&interval, "interval", 200*time.Millisecond, "tick period")
	fl.IntVar(&ticks, "ticks", 10, "number of ticks (0: until interrupted)")
	fl.IntVar(&watches, "watches", 1, "number of watches")
	fl.Int64Var(&data, "data", 0, "sdata passed to every watch")
	return cmd
}
