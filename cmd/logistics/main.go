// Command logistics generates and reconciles study kit orders.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"logistics/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(cli.Deps{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "logistics:", err)
		stop()
		os.Exit(1)
	}
}
