package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sc-hua/conversation/internal/config"
	"github.com/sc-hua/conversation/internal/gateway"
	"github.com/sc-hua/conversation/internal/gateway/httpapi"
	"github.com/sc-hua/conversation/internal/gateway/ws"
	"github.com/sc-hua/conversation/internal/ratelimit"
)

// wsPath is where the WebSocket endpoint mounts on the HTTP server.
const wsPath = "/v1/ws"

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket gateway",
	RunE:  runServe,
}

func init() {
	registerRunFlags(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "override the listen address (e.g. :8080)")
}

// runServe starts the HTTP API with the WebSocket endpoint mounted on it.
func runServe(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if serveAddr != "" {
		if cfg.Server == nil {
			cfg.Server = &config.ServerConfig{}
		}
		cfg.Server.Addr = serveAddr
	}

	logger.Info("starting in server mode", slog.String("addr", cfg.Server.ListenAddr()))

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One limiter shared by the HTTP and WebSocket endpoints, so a client
	// cannot dodge the limit by switching transports.
	var rlCfg ratelimit.Config
	if rl := cfg.Server.RateLimiting(); rl != nil {
		rlCfg = ratelimit.Config{
			RequestsPerMinute: rl.Limit(),
			BurstSize:         rl.BurstSize(),
		}
	}
	limiter := ratelimit.NewLimiter(rlCfg)

	httpCfg := httpapi.Config{
		ListenAddr: cfg.Server.ListenAddr(),
		EnableDocs: cfg.Server.DocsEnabled(),
	}
	if sc.Obs != nil {
		httpCfg.Metrics = sc.Obs.Metrics
		httpCfg.HealthChecker = sc.Obs.Health
		if sc.Obs.Metrics != nil {
			httpCfg.MetricsRegistry = sc.Obs.Metrics.Registry
		}
		if sc.Obs.Tracer != nil {
			httpCfg.Tracer = sc.Obs.Tracer.Tracer()
		}
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			httpCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
	}

	httpGW := httpapi.NewGateway(httpCfg, sc.Orch, sc.Store, limiter, logger)

	wsServer := ws.NewServer(sc.Orch, limiter, cfg.Chat.SystemPrompt, logger)
	httpGW.WithHandler(wsPath, wsServer.Handler())
	logger.Debug("websocket endpoint mounted", slog.String("path", wsPath))

	gateways := []gateway.Gateway{httpGW}

	// Start all gateways in goroutines.
	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	// Wait for signal or first gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}

	return nil
}
