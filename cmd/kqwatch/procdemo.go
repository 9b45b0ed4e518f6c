package main

import (
	"github.com/momentics/hioload-kq/api"
	"github.com/spf13/cobra"
)

func newProcDemoCmd(a *app) *cobra.Command {
	var status int
	cmd := &cobra.Command{
		Use:   "proc-demo",
		Short: "Replay a fork, exec and exit sequence under the proc filter",
		Long: `Spawns a task, watches it with fork tracking, then forks it, execs the
child and exits both. Events ready after each step are printed with the
step name as their source.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			kq, err := a.proc.Kqueue()
			if err != nil {
				return err
			}
			parent := a.sys.Spawn(a.uid, "init")
			err = a.apply(ctx, kq, api.Kevent{
				Ident:  uint64(parent),
				Filter: api.FilterProc,
				Flags:  api.EvAdd | api.EvClear,
				Fflags: api.NoteExit | api.NoteFork | api.NoteExec | api.NoteTrack,
			})
			if err != nil {
				return err
			}

			child, err := a.sys.Fork(parent)
			if err != nil {
				return err
			}
			if err := a.poll(ctx, kq, "fork"); err != nil {
				return err
			}
			if err := a.sys.Exec(child, "worker"); err != nil {
				return err
			}
			if err := a.poll(ctx, kq, "exec"); err != nil {
				return err
			}
			if err := a.sys.Exit(child, status); err != nil {
				return err
			}
			if err := a.poll(ctx, kq, "exit child"); err != nil {
				return err
			}
			if err := a.sys.Exit(parent, 0); err != nil {
				return err
			}
			return a.poll(ctx, kq, "exit parent")
		},
	}
	cmd.Flags().IntVar(&status, "status", 3, "exit status of the child")
	return cmd
}
