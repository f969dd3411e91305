// Package mcp exposes the conversation pipeline as an MCP stdio server.
// Two tools drive it: "chat" runs one turn (message plus optional image and
// json attachments) and "end_conversation" exports and/or evicts. Tool
// results are JSON payloads so callers can thread conversation ids between
// calls.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sc-hua/conversation/internal/dialog"
	"github.com/sc-hua/conversation/internal/history"
	"github.com/sc-hua/conversation/internal/llm"
)

// Gateway serves conversation tools over MCP stdio.
type Gateway struct {
	orch   *dialog.Orchestrator
	logger *slog.Logger
	server *server.MCPServer

	// Fallback system prompt when the tool call carries none.
	systemPrompt string
}

// NewGateway creates an MCP gateway backed by the given orchestrator.
func NewGateway(orch *dialog.Orchestrator, systemPrompt string, logger *slog.Logger) *Gateway {
	g := &Gateway{
		orch:         orch,
		logger:       logger,
		systemPrompt: systemPrompt,
	}

	s := server.NewMCPServer("convo", "v0.1.0",
		server.WithToolCapabilities(false),
	)

	s.AddTool(mcp.NewTool("chat",
		mcp.WithDescription("Run one conversation turn. Returns a JSON object "+
			"with conversation_id, reply, and message_count; pass the "+
			"conversation_id back to continue the same conversation."),
		mcp.WithString("message",
			mcp.Description("Text to send."),
		),
		mcp.WithString("conversation_id",
			mcp.Description("Conversation to continue. Empty starts a new one."),
		),
		mcp.WithString("system_prompt",
			mcp.Description("System prompt, applied only before the first message."),
		),
		mcp.WithString("image",
			mcp.Description("Optional image path or URL attached after the message."),
		),
		mcp.WithString("json",
			mcp.Description("Optional raw JSON payload attached after the message."),
		),
	), g.handleChat)

	s.AddTool(mcp.NewTool("end_conversation",
		mcp.WithDescription("End a conversation. With persist=true the "+
			"history is exported to a JSON file first; the result carries "+
			"the export path."),
		mcp.WithString("conversation_id",
			mcp.Required(),
			mcp.Description("Conversation to end."),
		),
		mcp.WithBoolean("persist",
			mcp.Description("Export the history before evicting it."),
		),
	), g.handleEnd)

	g.server = s
	return g
}

// Start serves MCP over stdin/stdout until ctx is canceled or stdin closes.
func (g *Gateway) Start(ctx context.Context) error {
	g.logger.Info("mcp gateway starting", slog.String("transport", "stdio"))
	return server.NewStdioServer(g.server).Listen(ctx, os.Stdin, os.Stdout)
}

// Stop is a no-op; the stdio listener exits when Start's context is canceled.
func (g *Gateway) Stop(_ context.Context) error {
	return nil
}

// chatPayload is the JSON body of a successful chat tool result.
type chatPayload struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
	MessageCount   int    `json:"message_count"`
}

// endPayload is the JSON body of a successful end_conversation tool result.
type endPayload struct {
	ConversationID string `json:"conversation_id"`
	ExportPath     string `json:"export_path,omitempty"`
}

func (g *Gateway) handleChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message := req.GetString("message", "")
	image := req.GetString("image", "")
	rawJSON := req.GetString("json", "")

	items := make([]any, 0, 3)
	if message != "" {
		items = append(items, message)
	}
	if image != "" {
		items = append(items, map[string]any{"image": image})
	}
	if rawJSON != "" {
		var v any
		if err := json.Unmarshal([]byte(rawJSON), &v); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid json argument: %v", err)), nil
		}
		items = append(items, map[string]any{"json": v})
	}
	if len(items) == 0 {
		return mcp.NewToolResultError("at least one of message, image, or json is required"), nil
	}

	content, err := llm.NewContent(items...)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := g.orch.Chat(ctx, dialog.Request{
		ConversationID: req.GetString("conversation_id", ""),
		SystemPrompt:   req.GetString("system_prompt", g.systemPrompt),
		Content:        content,
	})
	if err != nil {
		g.logger.ErrorContext(ctx, "turn failed", slog.String("error", err.Error()))
		return mcp.NewToolResultError("turn failed: " + err.Error()), nil
	}

	return toolResultJSON(chatPayload{
		ConversationID: res.ConversationID,
		Reply:          res.Reply,
		MessageCount:   res.MessageCount,
	})
}

func (g *Gateway) handleEnd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("conversation_id")
	if err != nil {
		return mcp.NewToolResultError("conversation_id is required"), nil
	}
	persist := req.GetBool("persist", false)

	location, err := g.orch.End(ctx, id, persist)
	if err != nil {
		if errors.Is(err, history.ErrConversationNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("conversation %s not found", id)), nil
		}
		g.logger.ErrorContext(ctx, "ending conversation failed",
			slog.String("conversation_id", id),
			slog.String("error", err.Error()),
		)
		return mcp.NewToolResultError("ending conversation failed: " + err.Error()), nil
	}

	return toolResultJSON(endPayload{ConversationID: id, ExportPath: location})
}

// toolResultJSON wraps v as a text tool result holding compact JSON.
func toolResultJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
