// Package ollama implements the LLM provider interface for a self-hosted
// Ollama chat endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sc-hua/conversation/internal/imaging"
	"github.com/sc-hua/conversation/internal/llm"
)

const (
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "qwen2.5vl:3b"
	defaultTimeout = 30 * time.Second
	chatPath       = "/api/chat"
)

// Client implements llm.Provider against the Ollama /api/chat endpoint.
// The endpoint has no dedicated multimodal field, so image blocks are
// inlined into the message text as base64 data URLs.
type Client struct {
	model      string
	baseURL    string
	timeout    time.Duration
	images     imaging.Resolver
	httpClient *http.Client
	logger     *slog.Logger
}

var _ llm.Provider = (*Client)(nil)

// Option configures the Ollama client.
type Option func(*Client)

// WithBaseURL overrides the endpoint base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithTimeout bounds each completion request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient sets a custom HTTP client. The client's own timeout then
// applies instead of WithTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithImageResolver sets the resolver used to load image blocks.
func WithImageResolver(r imaging.Resolver) Option {
	return func(c *Client) { c.images = r }
}

// NewClient creates an Ollama provider. An empty model selects the default.
func NewClient(model string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		model:   model,
		baseURL: defaultBaseURL,
		timeout: defaultTimeout,
		logger:  logger,
	}
	if c.model == "" {
		c.model = defaultModel
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c
}

func (c *Client) Name() string { return "ollama" }

// Normalize renders prior messages as role/content pairs and flattens the
// new input into a single user message.
func (c *Client) Normalize(history []llm.Message, input *llm.Content) []llm.WireMessage {
	return c.normalize(context.Background(), history, input)
}

func (c *Client) normalize(ctx context.Context, history []llm.Message, input *llm.Content) []llm.WireMessage {
	msgs := make([]llm.WireMessage, 0, len(history)+1)
	for i := range history {
		msgs = append(msgs, llm.WireMessage{Role: string(history[i].Role), Content: history[i].Display()})
	}
	if input != nil {
		msgs = append(msgs, llm.WireMessage{Role: string(llm.RoleUser), Content: c.flatten(ctx, input)})
	}
	return msgs
}

// flatten joins the input blocks into one string, inlining images as data
// URLs and falling back to their display rendering when loading fails.
func (c *Client) flatten(ctx context.Context, input *llm.Content) string {
	blocks := input.Blocks()
	parts := make([]string, 0, len(blocks))
	for i := range blocks {
		b := &blocks[i]
		if b.Kind != llm.BlockImage {
			parts = append(parts, b.Display())
			continue
		}
		ref, _ := b.Payload.(string)
		dataURL, err := c.images.DataURL(ctx, ref)
		if err != nil {
			c.logger.DebugContext(ctx, "image inlining failed, using text rendering",
				slog.String("ref", ref),
				slog.Any("error", err),
			)
			parts = append(parts, b.Display())
			continue
		}
		parts = append(parts, dataURL)
	}
	return strings.Join(parts, " ")
}

// Complete sends the conversation to Ollama and returns the reply text.
func (c *Client) Complete(ctx context.Context, history []llm.Message, input *llm.Content) (string, error) {
	apiReq := apiRequest{
		Model:    c.model,
		Messages: c.normalize(ctx, history, input),
		Stream:   false,
	}
	body, err := json.Marshal(apiReq)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response body: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	reply := apiResp.Message.Content
	if reply == "" {
		reply = "No response generated"
	}

	c.logger.DebugContext(ctx, "llm request completed",
		slog.String("provider", c.Name()),
		slog.String("model", c.model),
		slog.Int("history_messages", len(history)),
		slog.Int("reply_chars", len(reply)),
	)

	return reply, nil
}

// --- Ollama API wire types (unexported) ---

type apiRequest struct {
	Model    string            `json:"model"`
	Messages []llm.WireMessage `json:"messages"`
	Stream   bool              `json:"stream"`
}

type apiResponse struct {
	Message apiMessage `json:"message"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
