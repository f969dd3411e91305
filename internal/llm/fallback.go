package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// FallbackProvider wraps multiple providers and tries them in order.
// If the primary provider fails, subsequent providers are tried until
// one succeeds or all have failed. Conversation state is untouched by
// failed attempts; only the winning reply reaches the caller.
type FallbackProvider struct {
	providers []Provider
	logger    *slog.Logger
}

// NewFallbackProvider creates a provider that tries each provider in order.
// At least one provider is required.
func NewFallbackProvider(providers []Provider, logger *slog.Logger) *FallbackProvider {
	if len(providers) == 0 {
		panic("FallbackProvider requires at least one provider")
	}
	return &FallbackProvider{
		providers: providers,
		logger:    logger,
	}
}

// Complete tries each provider in order, returning the first reply.
func (f *FallbackProvider) Complete(ctx context.Context, history []Message, input *Content) (string, error) {
	var lastErr error
	for i, p := range f.providers {
		reply, err := p.Complete(ctx, history, input)
		if err == nil {
			if i > 0 {
				f.logger.InfoContext(ctx, "provider fallback succeeded",
					slog.String("provider", p.Name()),
					slog.Int("attempt", i+1),
				)
			}
			return reply, nil
		}
		lastErr = err
		f.logger.WarnContext(ctx, "provider failed, trying next",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
			slog.Int("attempt", i+1),
			slog.Int("remaining", len(f.providers)-i-1),
		)
	}
	return "", fmt.Errorf("all %d providers failed, last error: %w", len(f.providers), lastErr)
}

// Normalize delegates to the primary provider's wire mapping.
func (f *FallbackProvider) Normalize(history []Message, input *Content) []WireMessage {
	return f.providers[0].Normalize(history, input)
}

// Name returns a composite name indicating fallback configuration.
func (f *FallbackProvider) Name() string {
	return f.providers[0].Name() + "+fallback"
}
