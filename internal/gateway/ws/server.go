// Package ws implements the WebSocket session gateway. Each connection
// drives one conversation: chat frames run turns, an end frame exports
// and/or evicts it and closes the session. A dropped connection leaves the
// conversation in the store so a client may resume it later.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/sc-hua/conversation/internal/dialog"
	"github.com/sc-hua/conversation/internal/history"
	"github.com/sc-hua/conversation/internal/llm"
	"github.com/sc-hua/conversation/internal/ratelimit"
)

const subprotocol = "convo-v1"

// Server upgrades HTTP connections and runs one conversation per socket.
type Server struct {
	orch    *dialog.Orchestrator
	limiter *ratelimit.Limiter
	logger  *slog.Logger

	// SystemPrompt is offered on every turn; the orchestrator only seeds
	// it before the first stored message.
	systemPrompt string
}

// NewServer creates a WebSocket session server. The limiter may be nil.
func NewServer(orch *dialog.Orchestrator, limiter *ratelimit.Limiter, systemPrompt string, logger *slog.Logger) *Server {
	return &Server{
		orch:         orch,
		limiter:      limiter,
		systemPrompt: systemPrompt,
		logger:       logger,
	}
}

// Handler returns an http.Handler that upgrades connections to WebSocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	s.handleConnection(r.Context(), conn, clientKey(r))
}

// Frame is one client message. Type selects the operation; the remaining
// fields apply to the type that names them.
type Frame struct {
	Type string `json:"type"` // "chat" or "end"

	// chat fields. ConversationID resumes an existing conversation on the
	// first turn and is ignored once the session is pinned.
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message,omitempty"`
	Image          string `json:"image,omitempty"` // Optional image path or URL.
	JSON           any    `json:"json,omitempty"`  // Optional structured payload.

	// end fields.
	Persist bool `json:"persist,omitempty"`
}

// Reply is one server message.
type Reply struct {
	Type           string `json:"type"` // "reply", "ended", or "error"
	ConversationID string `json:"conversation_id,omitempty"`
	Reply          string `json:"reply,omitempty"`
	MessageCount   int    `json:"message_count,omitempty"`
	ExportPath     string `json:"export_path,omitempty"`
	Error          string `json:"error,omitempty"`
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn, client string) {
	defer conn.Close(websocket.StatusNormalClosure, "session closed")

	s.logger.Info("websocket session opened", slog.String("client", client))

	// The conversation this session drives. Pinned by the first chat frame.
	conversationID := ""

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.logger.Info("websocket session closed", slog.String("client", client))
			} else {
				s.logger.Warn("websocket read failed",
					slog.String("client", client),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.writeReply(ctx, conn, Reply{Type: "error", Error: "invalid frame"})
			continue
		}

		switch frame.Type {
		case "chat":
			conversationID = s.handleChat(ctx, conn, client, conversationID, &frame)

		case "end":
			s.handleEnd(ctx, conn, conversationID, frame.Persist)
			return

		default:
			s.writeReply(ctx, conn, Reply{
				Type:  "error",
				Error: fmt.Sprintf("unknown frame type %q", frame.Type),
			})
		}
	}
}

// handleChat runs one turn and returns the session's conversation ID.
func (s *Server) handleChat(ctx context.Context, conn *websocket.Conn, client, conversationID string, frame *Frame) string {
	if s.limiter != nil {
		if err := s.limiter.Allow(client); err != nil {
			s.writeReply(ctx, conn, Reply{Type: "error", Error: "rate limit exceeded"})
			return conversationID
		}
	}

	content := buildContent(frame)
	if content == nil {
		s.writeReply(ctx, conn, Reply{Type: "error", Error: "message, image, or json is required"})
		return conversationID
	}

	if conversationID == "" {
		conversationID = frame.ConversationID
	}

	res, err := s.orch.Chat(ctx, dialog.Request{
		ConversationID: conversationID,
		SystemPrompt:   s.systemPrompt,
		Content:        content,
	})
	if err != nil {
		s.logger.Error("turn failed",
			slog.String("client", client),
			slog.String("error", err.Error()),
		)
		s.writeReply(ctx, conn, Reply{Type: "error", ConversationID: conversationID, Error: "turn failed"})
		return conversationID
	}

	s.writeReply(ctx, conn, Reply{
		Type:           "reply",
		ConversationID: res.ConversationID,
		Reply:          res.Reply,
		MessageCount:   res.MessageCount,
	})
	return res.ConversationID
}

// handleEnd tears the session's conversation down and reports the export
// location when one was written.
func (s *Server) handleEnd(ctx context.Context, conn *websocket.Conn, conversationID string, persist bool) {
	if conversationID == "" {
		s.writeReply(ctx, conn, Reply{Type: "error", Error: "no active conversation"})
		return
	}

	location, err := s.orch.End(ctx, conversationID, persist)
	if err != nil {
		msg := "ending conversation failed"
		if errors.Is(err, history.ErrConversationNotFound) {
			msg = "conversation not found"
		}
		s.writeReply(ctx, conn, Reply{Type: "error", ConversationID: conversationID, Error: msg})
		return
	}

	s.writeReply(ctx, conn, Reply{
		Type:           "ended",
		ConversationID: conversationID,
		ExportPath:     location,
	})
}

// buildContent assembles turn input from a chat frame; nil when the frame
// carries nothing to say.
func buildContent(frame *Frame) *llm.Content {
	c := &llm.Content{}
	if frame.Message != "" {
		c.AddText(frame.Message)
	}
	if frame.Image != "" {
		c.AddImage(frame.Image)
	}
	if frame.JSON != nil {
		c.AddJSON(frame.JSON)
	}
	if c.Len() == 0 {
		return nil
	}
	return c
}

func (s *Server) writeReply(ctx context.Context, conn *websocket.Conn, reply Reply) {
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Error("marshaling reply failed", slog.String("error", err.Error()))
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.logger.Debug("websocket write failed", slog.String("error", err.Error()))
	}
}

// clientKey identifies the caller for rate limiting.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
