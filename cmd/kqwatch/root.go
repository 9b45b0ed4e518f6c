package main

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/momentics/hioload-kq/control"
	"github.com/momentics/hioload-kq/facade"
	"github.com/spf13/cobra"
)

// app holds state shared by subcommands. It is filled in by the root
// command's pre-run hook.
type app struct {
	configFile string
	envFiles   []string
	format     string
	uid        uint32

	sys  *facade.System
	proc *facade.Process
	out  *printer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "kqwatch",
		Short:         "Watch event sources through a kqueue-style registry",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.shutdown()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "config file (TOML, YAML or JSON)")
	pf.StringSliceVar(&a.envFiles, "env-file", []string{".env", ".env.local"}, ".env files loaded before the config")
	pf.StringVarP(&a.format, "output", "o", "json", "output format: json or yaml")
	pf.Uint32Var(&a.uid, "uid", 1000, "user id of the watching process")

	root.AddCommand(
		newFiltersCmd(a),
		newTimerCmd(a),
		newWatchCmd(a),
		newLuaCmd(a),
		newProcDemoCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	for _, f := range a.envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	out, err := newPrinter(cmd.OutOrStdout(), a.format)
	if err != nil {
		return err
	}
	a.out = out

	cfg, err := control.LoadConfig(a.configFile)
	if err != nil {
		return err
	}
	sys, err := facade.New(cfg, facade.Options{})
	if err != nil {
		return err
	}
	a.sys = sys
	a.proc, err = sys.NewProcess(a.uid, "kqwatch")
	return err
}

func (a *app) shutdown() error {
	if a.sys == nil {
		return nil
	}
	return a.sys.Shutdown()
}
