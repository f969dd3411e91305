// Package dialog runs conversation turns: prepare the history, generate a
// reply through a provider, persist the exchange. A counting semaphore
// bounds how many turns run at once.
package dialog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sc-hua/conversation/internal/history"
	"github.com/sc-hua/conversation/internal/llm"
)

const defaultMaxConcurrent = 5

// Orchestrator owns the three-stage turn pipeline. All turns share one
// semaphore pool regardless of conversation id.
type Orchestrator struct {
	provider llm.Provider
	store    *history.Store
	logger   *slog.Logger
	metrics  *TurnMetrics
	sem      chan struct{} // Semaphore for concurrency limiting.
}

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

// WithMaxConcurrent caps the number of turns that may run at once.
// Values below 1 keep the default of 5.
func WithMaxConcurrent(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.sem = make(chan struct{}, n)
		}
	}
}

// WithMetrics attaches turn metrics. A nil value disables instrumentation.
func WithMetrics(m *TurnMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates an orchestrator over the given provider and store.
func NewOrchestrator(provider llm.Provider, store *history.Store, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	o := &Orchestrator{
		provider: provider,
		store:    store,
		logger:   logger,
		sem:      make(chan struct{}, defaultMaxConcurrent),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Request is one chat invocation. ConversationID may be empty to start a
// new conversation; SystemPrompt only takes effect before the first stored
// message; Content may be nil to skip generation entirely.
type Request struct {
	ConversationID string
	SystemPrompt   string
	Content        *llm.Content
}

// Result reports the outcome of one turn.
type Result struct {
	ConversationID string
	Reply          string
	InputPreview   string
	MessageCount   int
}

// Chat executes one turn: prepare, generate, persist. A failed generation
// surfaces the provider error and leaves the stored user/assistant log
// untouched. Chat blocks while all semaphore slots are taken; ctx cancels
// the wait.
func (o *Orchestrator) Chat(ctx context.Context, req Request) (*Result, error) {
	select {
	case o.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for a turn slot: %w", ctx.Err())
	}
	defer func() { <-o.sem }()

	if o.metrics != nil {
		o.metrics.ActiveTurns.Inc()
		defer o.metrics.ActiveTurns.Dec()
	}
	start := time.Now()

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	// Prepare: seed the system instruction on a conversation that has no
	// stored messages yet.
	if req.SystemPrompt != "" && o.store.Length(conversationID) <= 0 {
		o.store.SaveMessage(conversationID, llm.NewTextMessage(llm.RoleSystem, req.SystemPrompt))
	}

	// Generate and persist both run only when the caller supplied content
	// for this turn.
	var reply string
	if req.Content != nil {
		prior := o.store.Messages(conversationID)
		var err error
		reply, err = o.provider.Complete(ctx, prior, req.Content)
		if err != nil {
			if o.metrics != nil {
				o.metrics.TurnsTotal.WithLabelValues("error").Inc()
			}
			return nil, fmt.Errorf("generating reply: %w", err)
		}

		// User turn first, then the assistant reply.
		o.store.SaveMessage(conversationID, llm.NewMessage(llm.RoleUser, req.Content))
		o.store.SaveMessage(conversationID, llm.NewTextMessage(llm.RoleAssistant, reply))
	}

	res := &Result{
		ConversationID: conversationID,
		Reply:          reply,
		MessageCount:   o.store.Length(conversationID),
	}
	if req.Content != nil {
		res.InputPreview = req.Content.Display()
	}

	if o.metrics != nil {
		o.metrics.TurnsTotal.WithLabelValues("ok").Inc()
		o.metrics.TurnDuration.WithLabelValues(o.provider.Name()).Observe(time.Since(start).Seconds())
	}
	o.logger.DebugContext(ctx, "turn completed",
		slog.String("conversation_id", conversationID),
		slog.String("provider", o.provider.Name()),
		slog.Int("message_count", res.MessageCount),
		slog.Int("reply_chars", len(reply)),
	)
	return res, nil
}

// End finishes a conversation: optionally export it to disk, then drop it
// from memory. With persist the export location is returned; an unknown id
// surfaces history.ErrConversationNotFound and the (absent) history is not
// evicted.
func (o *Orchestrator) End(ctx context.Context, conversationID string, persist bool) (string, error) {
	var location string
	if persist {
		path, err := o.store.Export(conversationID)
		if err != nil {
			return "", err
		}
		location = path
	}
	o.store.Evict(conversationID)

	if o.metrics != nil {
		o.metrics.ConversationsEnded.Inc()
	}
	o.logger.DebugContext(ctx, "conversation ended",
		slog.String("conversation_id", conversationID),
		slog.Bool("persisted", persist),
	)
	return location, nil
}
