// Package openai implements the LLM provider interface for the OpenAI
// Chat Completions API and compatible endpoints.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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
	defaultBaseURL  = "https://api.openai.com/v1"
	defaultModel    = "gpt-3.5-turbo"
	defaultTimeout  = 30 * time.Second
	completionsPath = "/chat/completions"
)

// ErrMissingAPIKey is returned by NewClient when no credential is supplied.
var ErrMissingAPIKey = errors.New("openai: API key is required")

// Client implements llm.Provider using the OpenAI Chat Completions API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	name       string
	timeout    time.Duration
	images     imaging.Resolver
	httpClient *http.Client
	logger     *slog.Logger
}

var _ llm.Provider = (*Client)(nil)

// Option configures the OpenAI client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
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

// WithName overrides the provider name for compatible endpoints.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithImageResolver sets the resolver used to load local image blocks.
func WithImageResolver(r imaging.Resolver) Option {
	return func(c *Client) { c.images = r }
}

// NewClient creates an OpenAI provider. A missing API key fails here, at
// construction, rather than on the first call.
func NewClient(apiKey, model string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	c := &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		name:    "openai",
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
	return c, nil
}

func (c *Client) Name() string { return c.name }

// Normalize emits OpenAI-style role/content messages. Prior messages are
// flattened to plain strings; the new input becomes a multi-part content
// array whenever it mixes text with image or json blocks, while a lone
// text part collapses to a plain string.
func (c *Client) Normalize(history []llm.Message, input *llm.Content) []llm.WireMessage {
	return c.normalize(context.Background(), history, input)
}

func (c *Client) normalize(ctx context.Context, history []llm.Message, input *llm.Content) []llm.WireMessage {
	msgs := make([]llm.WireMessage, 0, len(history)+1)
	for i := range history {
		msgs = append(msgs, llm.WireMessage{Role: string(history[i].Role), Content: history[i].Display()})
	}
	if input == nil {
		return msgs
	}

	blocks := input.Blocks()
	parts := make([]apiContentPart, 0, len(blocks))
	for i := range blocks {
		b := &blocks[i]
		switch b.Kind {
		case llm.BlockImage:
			parts = append(parts, apiContentPart{
				Type:     "image_url",
				ImageURL: &apiImageURL{URL: c.imageURL(ctx, b)},
			})
		case llm.BlockJSON:
			parts = append(parts, apiContentPart{
				Type: "text",
				Text: "JSON data: " + llm.CompactJSON(b.Payload),
			})
		default:
			parts = append(parts, apiContentPart{Type: "text", Text: b.Display()})
		}
	}

	user := llm.WireMessage{Role: string(llm.RoleUser)}
	if len(parts) == 1 && parts[0].Type == "text" {
		user.Content = parts[0].Text
	} else {
		user.Content = parts
	}
	return append(msgs, user)
}

// imageURL passes remote URLs through unchanged and embeds local files as
// base64 data URLs. When the file cannot be loaded the raw reference is
// sent as-is and the backend reports the fault.
func (c *Client) imageURL(ctx context.Context, b *llm.ContentBlock) string {
	ref, _ := b.Payload.(string)
	if imaging.IsURL(ref) {
		return ref
	}
	dataURL, err := c.images.DataURL(ctx, ref)
	if err != nil {
		c.logger.DebugContext(ctx, "image embedding failed, sending raw reference",
			slog.String("ref", ref),
			slog.Any("error", err),
		)
		return ref
	}
	return dataURL
}

// Complete sends the conversation to the Chat Completions endpoint and
// returns the reply text.
func (c *Client) Complete(ctx context.Context, history []llm.Message, input *llm.Content) (string, error) {
	apiReq := apiRequest{
		Model:    c.model,
		Messages: c.normalize(ctx, history, input),
	}
	body, err := json.Marshal(apiReq)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

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
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("parsing response: no choices returned")
	}
	reply := apiResp.Choices[0].Message.Content

	c.logger.DebugContext(ctx, "llm request completed",
		slog.String("provider", c.name),
		slog.String("model", c.model),
		slog.Int("history_messages", len(history)),
		slog.Int("reply_chars", len(reply)),
	)

	return reply, nil
}

// --- OpenAI API wire types (unexported) ---

type apiRequest struct {
	Model    string            `json:"model"`
	Messages []llm.WireMessage `json:"messages"`
}

type apiContentPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *apiImageURL `json:"image_url,omitempty"`
}

type apiImageURL struct {
	URL string `json:"url"`
}

type apiResponse struct {
	Choices []apiChoice `json:"choices"`
}

type apiChoice struct {
	Message apiChoiceMessage `json:"message"`
}

type apiChoiceMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
