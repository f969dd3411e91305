package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	mcpgw "github.com/sc-hua/conversation/internal/gateway/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve conversation tools over MCP stdio",
	RunE:  runMCP,
}

func init() {
	registerRunFlags(mcpCmd)
}

// runMCP serves the chat and end_conversation tools on stdin/stdout.
// Logging stays on stderr; stdout carries the MCP transport.
func runMCP(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw := mcpgw.NewGateway(sc.Orch, cfg.Chat.SystemPrompt, logger)
	return gw.Start(ctx)
}
