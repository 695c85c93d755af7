// The main package for the harvester executable.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aidosk/court-docket-crawler/cmd"
)

// main wires OS signals into the command context and defers the rest to
// the Cobra CLI. An interrupt cancels the run context; the commands
// treat that as a graceful stop.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
