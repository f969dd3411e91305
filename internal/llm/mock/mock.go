// Package mock implements a deterministic, network-free LLM provider used
// as the default backend and in tests.
package mock

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/sc-hua/conversation/internal/llm"
)

// defaultDelay models provider latency so concurrency behavior is
// observable in tests.
const defaultDelay = 100 * time.Millisecond

// Client implements llm.Provider without any external dependency. Replies
// enumerate the input blocks in the order given and count prior
// interactions, so ordering and history handling are assertable.
type Client struct {
	delay time.Duration
}

var _ llm.Provider = (*Client)(nil)

// Option configures the mock client.
type Option func(*Client)

// WithDelay overrides the artificial response delay.
func WithDelay(d time.Duration) Option {
	return func(c *Client) { c.delay = d }
}

// NewClient creates a mock provider. It accepts any configuration and
// never fails.
func NewClient(opts ...Option) *Client {
	c := &Client{delay: defaultDelay}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return "mock" }

// Normalize renders every message through the display rule, mirroring
// what a text-only backend would receive.
func (c *Client) Normalize(history []llm.Message, input *llm.Content) []llm.WireMessage {
	msgs := make([]llm.WireMessage, 0, len(history)+1)
	for i := range history {
		msgs = append(msgs, llm.WireMessage{Role: string(history[i].Role), Content: history[i].Display()})
	}
	if input != nil {
		msgs = append(msgs, llm.WireMessage{Role: string(llm.RoleUser), Content: input.Display()})
	}
	return msgs
}

// Complete produces the deterministic reply after the configured delay.
func (c *Client) Complete(ctx context.Context, history []llm.Message, input *llm.Content) (string, error) {
	select {
	case <-time.After(c.delay):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	parts := []string{"I analyzed your content in the order given:"}
	if input != nil {
		for i, b := range input.Blocks() {
			parts = append(parts, fmt.Sprintf("item %d: %s - %s", i+1, b.Kind, summarize(b)))
		}
	}
	if prior := countUserMessages(history); prior > 0 {
		parts = append(parts, fmt.Sprintf("This is interaction #%d in our conversation.", prior+1))
	}
	return strings.Join(parts, " "), nil
}

func summarize(b llm.ContentBlock) string {
	if b.Kind != llm.BlockJSON {
		return fmt.Sprint(b.Payload)
	}
	n := fieldCount(b.Payload)
	if n == 1 {
		return "1 field"
	}
	return fmt.Sprintf("%d fields", n)
}

func fieldCount(v any) int {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map {
		return rv.Len()
	}
	return 0
}

func countUserMessages(history []llm.Message) int {
	n := 0
	for i := range history {
		if history[i].Role == llm.RoleUser {
			n++
		}
	}
	return n
}
