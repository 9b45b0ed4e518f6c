package main

import (
	"github.com/momentics/hioload-kq/api"
	"github.com/spf13/cobra"
)

const vnodeNotes = api.NoteDelete | api.NoteWrite | api.NoteExtend | api.NoteAttrib | api.NoteRename

func newWatchCmd(a *app) *cobra.Command {
	var (
		count int
		read  bool
	)
	cmd := &cobra.Command{
		Use:   "watch PATH...",
		Short: "Watch files for changes",
		Long: `Opens each path and registers the vnode filter for delete, write, extend,
attrib and rename notes. With --read the read filter is added too and
reports the number of unread bytes as the file grows.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, paths []string) error {
			ctx := cmd.Context()
			kq, err := a.proc.Kqueue()
			if err != nil {
				return err
			}
			var changes []api.Kevent
			for _, path := range paths {
				fd, err := a.proc.Open(path)
				if err != nil {
					return err
				}
				changes = append(changes, api.Kevent{
					Ident:  uint64(fd),
					Filter: api.FilterVnode,
					Flags:  api.EvAdd | api.EvClear,
					Fflags: vnodeNotes,
					Udata:  path,
				})
				if read {
					changes = append(changes, api.Kevent{
						Ident:  uint64(fd),
						Filter: api.FilterRead,
						Flags:  api.EvAdd | api.EvClear,
						Udata:  path,
					})
				}
			}
			if err := a.apply(ctx, kq, changes...); err != nil {
				return err
			}
			log := a.sys.Logger()
			log.Info().Strs("paths", paths).Msg("watching")
			return a.drain(ctx, kq, count, nil)
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many events (0: until interrupted)")
	cmd.Flags().BoolVar(&read, "read", false, "also report unread bytes")
	return cmd
}
