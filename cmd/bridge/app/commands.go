// Package app wires the chrome-mcp-bridge server's command-line interface.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chromemcp/bridge/pkg/config"
	"github.com/chromemcp/bridge/pkg/logger"

	"github.com/chromemcp/bridge/internal/bus"
	"github.com/chromemcp/bridge/internal/dispatcher"
	"github.com/chromemcp/bridge/internal/httpapi"
	"github.com/chromemcp/bridge/internal/hub"
	"github.com/chromemcp/bridge/internal/pending"
	"github.com/chromemcp/bridge/internal/registry"
	"github.com/chromemcp/bridge/internal/session"
	"github.com/chromemcp/bridge/internal/tools"
)

// NewRootCmd creates the root command for the bridge CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "bridge",
		DisableAutoGenTag: true,
		Short:             "chrome-mcp-bridge exposes browser-extension instances as MCP tool servers",
		Long: `chrome-mcp-bridge is a multi-tenant bridge server. Browser-extension
instances connect over a websocket bus and run the tools MCP clients call;
MCP clients connect over HTTP and see a static tool catalogue plus the bound
instance's published record/replay flows as a normal MCP tool catalogue.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
		SilenceUsage: true,
	}

	if err := config.BindFlags(rootCmd); err != nil {
		logger.Errorf("error binding config flags: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg := config.Load()

	reg := registry.New()
	tbl := pending.New()
	h := hub.New(reg, tbl)
	b := bus.New(reg, tbl)
	cat := tools.NewCatalogue(b)
	store := session.NewStore()
	d := dispatcher.New(store, cat, b)

	sh := session.NewHandler(store, cat, func(ctx context.Context, name string, arguments map[string]any) (any, bool, error) {
		result, err := d.Call(ctx, name, arguments)
		if err != nil {
			return nil, false, err
		}
		return result.Result, result.IsError, nil
	})

	router := httpapi.NewRouter(h, sh)

	go runSweeper(ctx, tbl, reg, cfg.SweepInterval, cfg.IdleCutoff)
	go func() {
		<-ctx.Done()
		h.Shutdown()
	}()

	address := fmt.Sprintf(":%d", cfg.Port)
	return httpapi.Serve(ctx, address, router)
}

// runSweeper periodically expires timed-out pending requests and evicts
// idle instances, until ctx is cancelled (spec.md §6.5).
func runSweeper(ctx context.Context, tbl *pending.Table, reg *registry.Registry, interval, idleCutoff time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tbl.Sweep()
			for _, instanceID := range reg.EvictIdle(idleCutoff) {
				logger.Infof("evicted idle instance %s", instanceID)
			}
		}
	}
}
