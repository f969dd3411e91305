// Package cli implements the interactive terminal gateway. Plain lines run
// turns on one conversation; slash commands attach blocks to the next turn
// or manage the conversation itself.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sc-hua/conversation/internal/dialog"
	"github.com/sc-hua/conversation/internal/history"
	"github.com/sc-hua/conversation/internal/llm"
)

const prompt = "convo> "

// Gateway is the interactive command-line interface.
type Gateway struct {
	orch   *dialog.Orchestrator
	store  *history.Store
	logger *slog.Logger
	done   chan struct{} // closed by Stop to signal shutdown

	systemPrompt  string
	persistOnExit bool // Export the conversation when the user leaves.

	conversationID string
	pending        []any // Attachments queued for the next turn.

	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

// NewGateway creates a CLI gateway backed by the given orchestrator.
func NewGateway(orch *dialog.Orchestrator, store *history.Store, systemPrompt string, persistOnExit bool, logger *slog.Logger) *Gateway {
	return &Gateway{
		orch:          orch,
		store:         store,
		logger:        logger,
		done:          make(chan struct{}),
		systemPrompt:  systemPrompt,
		persistOnExit: persistOnExit,
		in:            os.Stdin,
		out:           os.Stdout,
		errOut:        os.Stderr,
	}
}

// Start runs the interactive REPL. Blocks until ctx is cancelled,
// Stop is called, or the user leaves with "exit" or EOF.
func (g *Gateway) Start(ctx context.Context) error {
	scanner := bufio.NewScanner(g.in)

	fmt.Fprintln(g.out, "convo — multimodal conversation pipeline")
	fmt.Fprintln(g.out, "Type a message, or \"/help\" for commands.")
	fmt.Fprintln(g.out)

	for {
		fmt.Fprint(g.out, prompt)

		// Check for context cancellation or Stop signal between prompts.
		select {
		case <-ctx.Done():
			fmt.Fprintln(g.out, "\nShutting down.")
			return g.leave(ctx)
		case <-g.done:
			fmt.Fprintln(g.out, "\nShutting down.")
			return g.leave(ctx)
		default:
		}

		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			fmt.Fprintln(g.out, "Goodbye.")
			return g.leave(ctx)
		}
		if strings.HasPrefix(line, "/") {
			g.handleCommand(ctx, line)
			continue
		}

		g.runTurn(ctx, line)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}

	return g.leave(ctx)
}

// Stop signals the REPL to shut down.
func (g *Gateway) Stop(_ context.Context) error {
	select {
	case <-g.done:
		// Already closed.
	default:
		close(g.done)
	}
	return nil
}

// runTurn sends one turn: the typed line first, then any queued attachments.
func (g *Gateway) runTurn(ctx context.Context, line string) {
	items := make([]any, 0, len(g.pending)+1)
	items = append(items, line)
	items = append(items, g.pending...)

	content, err := llm.NewContent(items...)
	if err != nil {
		fmt.Fprintf(g.errOut, "Error: %v\n", err)
		return
	}

	res, err := g.orch.Chat(ctx, dialog.Request{
		ConversationID: g.conversationID,
		SystemPrompt:   g.systemPrompt,
		Content:        content,
	})
	if err != nil {
		g.logger.ErrorContext(ctx, "turn failed", slog.String("error", err.Error()))
		fmt.Fprintf(g.errOut, "Error: %v\n", err)
		return
	}

	// Attachments are consumed only by a successful turn.
	g.pending = nil
	g.conversationID = res.ConversationID

	g.logger.DebugContext(ctx, "cli turn",
		slog.String("conversation_id", res.ConversationID),
		slog.Int("message_count", res.MessageCount),
	)

	fmt.Fprintln(g.out)
	fmt.Fprintln(g.out, res.Reply)
	fmt.Fprintln(g.out)
}

func (g *Gateway) handleCommand(ctx context.Context, line string) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/help":
		fmt.Fprintln(g.out, "Commands:")
		fmt.Fprintln(g.out, "  /image <path or URL>  attach an image to your next message")
		fmt.Fprintln(g.out, "  /json <raw JSON>      attach a structured payload to your next message")
		fmt.Fprintln(g.out, "  /new                  start a fresh conversation")
		fmt.Fprintln(g.out, "  /end                  export the conversation and close it")
		fmt.Fprintln(g.out, "  /history              list the stored messages")
		fmt.Fprintln(g.out, "  exit                  leave")

	case "/image":
		if arg == "" {
			fmt.Fprintln(g.out, "Usage: /image <path or URL>")
			return
		}
		g.pending = append(g.pending, map[string]any{"image": arg})
		fmt.Fprintf(g.out, "Attached image %s (sent with your next message).\n", arg)

	case "/json":
		if arg == "" {
			fmt.Fprintln(g.out, "Usage: /json <raw JSON>")
			return
		}
		var v any
		if err := json.Unmarshal([]byte(arg), &v); err != nil {
			fmt.Fprintf(g.errOut, "Error: invalid json: %v\n", err)
			return
		}
		g.pending = append(g.pending, map[string]any{"json": v})
		fmt.Fprintln(g.out, "Attached json payload (sent with your next message).")

	case "/new":
		g.conversationID = ""
		g.pending = nil
		fmt.Fprintln(g.out, "Started a new conversation.")

	case "/end":
		if g.conversationID == "" {
			fmt.Fprintln(g.out, "No active conversation.")
			return
		}
		location, err := g.orch.End(ctx, g.conversationID, true)
		if err != nil {
			g.logger.ErrorContext(ctx, "ending conversation failed", slog.String("error", err.Error()))
			fmt.Fprintf(g.errOut, "Error: %v\n", err)
			return
		}
		fmt.Fprintf(g.out, "Conversation saved to %s\n", location)
		g.conversationID = ""

	case "/history":
		if g.conversationID == "" {
			fmt.Fprintln(g.out, "No active conversation.")
			return
		}
		msgs := g.store.Messages(g.conversationID)
		fmt.Fprintf(g.out, "%d messages in %s:\n", len(msgs), g.conversationID)
		for _, m := range msgs {
			fmt.Fprintf(g.out, "  [%s] %s\n", m.Role, m.Display())
		}

	default:
		fmt.Fprintf(g.out, "Unknown command %q; try /help.\n", cmd)
	}
}

// leave ends the session, exporting the conversation when configured.
func (g *Gateway) leave(ctx context.Context) error {
	if g.conversationID == "" || !g.persistOnExit {
		return nil
	}
	location, err := g.orch.End(ctx, g.conversationID, true)
	if err != nil {
		return fmt.Errorf("saving conversation: %w", err)
	}
	fmt.Fprintf(g.out, "Conversation saved to %s\n", location)
	g.conversationID = ""
	return nil
}
