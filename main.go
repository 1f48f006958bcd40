// Package main is the entry point for agentstate.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fclairamb/agentstate/internal/cmd"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Set up signal handling so lock waits and retry delays stop on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		slog.Info("received shutdown signal")
		cancel()
	}()

	// Run the CLI
	app := cmd.NewApp()
	if err := app.Run(ctx, os.Args); err != nil {
		slog.Debug("command failed", "error", err)
		fmt.Fprintln(os.Stderr, "Error:", cmd.UserMessage(err))
		return 1
	}

	return 0
}
