// Package main is the entry point for the chrome-mcp-bridge server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/chromemcp/bridge/pkg/logger"

	"github.com/chromemcp/bridge/cmd/bridge/app"
)

func main() {
	logger.Initialize()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("Error executing command: %v", err)
		os.Exit(1)
	}
}
