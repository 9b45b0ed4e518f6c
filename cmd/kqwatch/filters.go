package main

import (
	"github.com/spf13/cobra"
)

func newFiltersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "filters",
		Short: "List registered filters",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return a.out.print(a.sys.Registry().Filters())
		},
	}
}
