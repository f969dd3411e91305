package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/sc-hua/conversation/internal/config"
	"github.com/sc-hua/conversation/internal/dialog"
	"github.com/sc-hua/conversation/internal/history"
	"github.com/sc-hua/conversation/internal/imaging"
	"github.com/sc-hua/conversation/internal/llm"
	"github.com/sc-hua/conversation/internal/llm/mock"
	"github.com/sc-hua/conversation/internal/llm/ollama"
	"github.com/sc-hua/conversation/internal/llm/openai"
	"github.com/sc-hua/conversation/internal/observability"
)

var (
	configPath string
	debugLog   bool
)

// registerRunFlags attaches the flags shared by every run command.
func registerRunFlags(cmds ...*cobra.Command) {
	for _, cmd := range cmds {
		cmd.Flags().StringVar(&configPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().BoolVar(&debugLog, "debug", false, "enable debug logging")
	}
}

// newLogger builds the JSON logger all components share. Logs go to stderr;
// stdout belongs to the REPL and the MCP stdio transport.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if debugLog {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// loadConfig resolves the config location (CONVO_CONFIG wins over --config)
// and loads it. The default location is only used when it exists; without a
// file every tunable falls back to built-ins and env overrides.
func loadConfig() (*config.Config, error) {
	path := goutils.Env("CONVO_CONFIG", configPath)
	if path == config.DefaultConfigPath() {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	return config.Load(path)
}

// SharedComponents holds the initialized subsystems every command mode
// requires. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config   *config.Config
	Logger   *slog.Logger
	Obs      *observability.Observability // nil = observability disabled.
	Provider llm.Provider
	Store    *history.Store
	Orch     *dialog.Orchestrator

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared performs the initialization shared by chat, serve and mcp modes.
// Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
		)
	}

	// LLM provider.
	provider, err := newLLMProvider(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing LLM provider: %w", err)
	}
	if obs != nil && obs.Metrics != nil {
		provider = observability.NewInstrumentedProvider(provider, obs.Metrics, obs.TracerOrNil())
	}
	sc.Provider = provider
	logger.Debug("llm provider initialized", slog.String("provider", provider.Name()))

	// Conversation store.
	store, err := history.NewStore(cfg.History.ExportDir, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing history store: %w", err)
	}
	sc.Store = store
	logger.Debug("history store initialized", slog.String("export_dir", store.ExportDir()))

	// Turn orchestrator.
	opts := []dialog.Option{dialog.WithMaxConcurrent(cfg.Chat.MaxConcurrent())}
	if obs != nil && obs.Metrics != nil {
		opts = append(opts, dialog.WithMetrics(dialog.NewTurnMetrics(obs.Metrics.Registry)))
	}
	sc.Orch = dialog.NewOrchestrator(provider, store, logger, opts...)

	if obs != nil {
		obs.Health.AddCheck("export_dir", func(_ context.Context) error {
			info, err := os.Stat(store.ExportDir())
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", store.ExportDir())
			}
			return nil
		})
	}

	return sc, nil
}

// newLLMProvider creates the provider based on the configured name,
// wrapping it in a fallback chain when fallbacks are configured.
func newLLMProvider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	primary, err := buildProvider(cfg.Provider.ProviderName(), cfg, logger)
	if err != nil {
		return nil, err
	}

	if len(cfg.Provider.Fallbacks) > 0 {
		providers := []llm.Provider{primary}
		for _, name := range cfg.Provider.Fallbacks {
			fb, err := buildProvider(name, cfg, logger)
			if err != nil {
				logger.Warn("skipping fallback provider",
					slog.String("provider", name),
					slog.String("error", err.Error()),
				)
				continue
			}
			providers = append(providers, fb)
		}
		if len(providers) > 1 {
			return llm.NewFallbackProvider(providers, logger), nil
		}
	}

	return primary, nil
}

// buildProvider creates a single LLM provider by name.
func buildProvider(name string, cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	images := imaging.Resolver{BaseDir: cfg.Images.BaseDir}

	switch name {
	case "mock", "":
		return mock.NewClient(), nil
	case "ollama":
		opts := []ollama.Option{
			ollama.WithTimeout(cfg.Provider.Ollama.Timeout()),
			ollama.WithImageResolver(images),
		}
		if cfg.Provider.Ollama.BaseURL != "" {
			opts = append(opts, ollama.WithBaseURL(cfg.Provider.Ollama.BaseURL))
		}
		return ollama.NewClient(cfg.Provider.Ollama.Model, logger, opts...), nil
	case "openai":
		opts := []openai.Option{
			openai.WithTimeout(cfg.Provider.OpenAI.Timeout()),
			openai.WithImageResolver(images),
		}
		if cfg.Provider.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Provider.OpenAI.BaseURL))
		}
		return openai.NewClient(cfg.Provider.OpenAI.APIKey, cfg.Provider.OpenAI.Model, logger, opts...)
	default:
		return nil, fmt.Errorf("unknown provider: %q", name)
	}
}
