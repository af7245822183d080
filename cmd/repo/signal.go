package main

import (
	"context"
	"os"
	"os/signal"
)

// interruptContext returns a context canceled by the first of sigs. The
// signals are released right after, so a second one gets the default
// behavior and terminates the process.
func interruptContext(parent context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, sigs...)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx, stop
}
