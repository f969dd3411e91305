package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sc-hua/conversation/internal/gateway/cli"
)

var chatPersist bool

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation in the terminal",
	RunE:  runChat,
}

func init() {
	// Register flags on both root and chat so that
	// `convo --persist` and `convo chat --persist` both work.
	registerRunFlags(rootCmd, chatCmd)
	for _, cmd := range []*cobra.Command{rootCmd, chatCmd} {
		cmd.Flags().BoolVar(&chatPersist, "persist", false, "export the conversation when the session ends")
	}
}

// runChat starts the interactive REPL.
func runChat(_ *cobra.Command, _ []string) error {
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

	gw := cli.NewGateway(sc.Orch, sc.Store, cfg.Chat.SystemPrompt, chatPersist, logger)
	return gw.Start(ctx)
}
