// Command smartsched runs the meeting-scheduling negotiation engine as an
// HTTP service or an interactive chat.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("Error: "+err.Error()))
		stop()
		os.Exit(1)
	}
}
