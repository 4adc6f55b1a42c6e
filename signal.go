package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext returns a context canceled on SIGINT or SIGTERM. A second
// signal bypasses graceful shutdown and exits immediately.
func shutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "shutting down, signal again to force quit")
		cancel()

		<-sigCh
		fmt.Fprintln(os.Stderr, "force quit")
		os.Exit(1)
	}()

	return ctx, cancel
}

// wakeSignals returns a channel receiving SIGUSR1, used to poke a running
// watch daemon into an immediate sync cycle.
func wakeSignals() chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)

	return ch
}
