package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Signal-driven cancellation maps onto the pipeline's cooperative
	// cancel points at stage entry and chunk boundaries.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
