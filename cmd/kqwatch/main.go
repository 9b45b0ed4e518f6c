// Command kqwatch drives the event registry from the command line: it lists
// filters, runs timers, watches files, runs scripted filters and replays a
// task lifecycle.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "kqwatch:", err)
		os.Exit(1)
	}
}
