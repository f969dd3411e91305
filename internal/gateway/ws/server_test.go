package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/sc-hua/conversation/internal/dialog"
	"github.com/sc-hua/conversation/internal/history"
	"github.com/sc-hua/conversation/internal/llm/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer starts a session server around a fresh orchestrator.
func newTestServer(t *testing.T, systemPrompt string) (*httptest.Server, *history.Store) {
	t.Helper()

	store, err := history.NewStore(t.TempDir(), discardLogger())
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	orch := dialog.NewOrchestrator(mock.NewClient(mock.WithDelay(0)), store, discardLogger())
	srv := httptest.NewServer(NewServer(orch, nil, systemPrompt, discardLogger()).Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

// newTestSession starts a server and dials one session on it.
func newTestSession(t *testing.T, systemPrompt string) (*websocket.Conn, *history.Store) {
	t.Helper()
	srv, store := newTestServer(t, systemPrompt)
	return dial(t, srv), store
}

func send(t *testing.T, conn *websocket.Conn, frame Frame) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshaling frame: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("writing frame: %v", err)
	}
}

func receive(t *testing.T, conn *websocket.Conn) Reply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("reading reply: %v", err)
	}
	var reply Reply
	if err := json.Unmarshal(data, &reply); err != nil {
		t.Fatalf("unmarshaling reply: %v", err)
	}
	return reply
}

func TestChatRunsTurns(t *testing.T) {
	conn, _ := newTestSession(t, "be brief")

	send(t, conn, Frame{Type: "chat", Message: "hello"})
	reply := receive(t, conn)

	if reply.Type != "reply" {
		t.Fatalf("expected reply frame, got %q (%s)", reply.Type, reply.Error)
	}
	if reply.ConversationID == "" {
		t.Error("expected a conversation id")
	}
	if !strings.HasPrefix(reply.Reply, "I analyzed your content") {
		t.Errorf("unexpected reply text %q", reply.Reply)
	}
	if reply.MessageCount != 3 {
		t.Errorf("expected 3 stored messages, got %d", reply.MessageCount)
	}

	// The session stays pinned to the same conversation.
	send(t, conn, Frame{Type: "chat", Message: "again"})
	second := receive(t, conn)
	if second.ConversationID != reply.ConversationID {
		t.Errorf("expected conversation %q, got %q", reply.ConversationID, second.ConversationID)
	}
	if second.MessageCount != 5 {
		t.Errorf("expected 5 stored messages, got %d", second.MessageCount)
	}
}

func TestChatCarriesAttachments(t *testing.T) {
	conn, _ := newTestSession(t, "")

	send(t, conn, Frame{
		Type:    "chat",
		Message: "look at this",
		Image:   "chart.png",
		JSON:    map[string]any{"a": 1, "b": 2},
	})
	reply := receive(t, conn)

	if reply.Type != "reply" {
		t.Fatalf("expected reply frame, got %q (%s)", reply.Type, reply.Error)
	}
	for _, want := range []string{"item 1: text", "item 2: image - chart.png", "item 3: json - 2 fields"} {
		if !strings.Contains(reply.Reply, want) {
			t.Errorf("expected reply to contain %q, got %q", want, reply.Reply)
		}
	}
}

func TestChatRequiresInput(t *testing.T) {
	conn, _ := newTestSession(t, "")

	send(t, conn, Frame{Type: "chat"})
	reply := receive(t, conn)

	if reply.Type != "error" {
		t.Fatalf("expected error frame, got %q", reply.Type)
	}
	if !strings.Contains(reply.Error, "required") {
		t.Errorf("unexpected error text %q", reply.Error)
	}
}

func TestUnknownFrameType(t *testing.T) {
	conn, _ := newTestSession(t, "")

	send(t, conn, Frame{Type: "subscribe"})
	reply := receive(t, conn)

	if reply.Type != "error" {
		t.Fatalf("expected error frame, got %q", reply.Type)
	}
}

func TestEndExportsAndCloses(t *testing.T) {
	conn, store := newTestSession(t, "")

	send(t, conn, Frame{Type: "chat", Message: "hello"})
	reply := receive(t, conn)

	send(t, conn, Frame{Type: "end", Persist: true})
	ended := receive(t, conn)

	if ended.Type != "ended" {
		t.Fatalf("expected ended frame, got %q (%s)", ended.Type, ended.Error)
	}
	if ended.ExportPath == "" {
		t.Fatal("expected an export path")
	}
	if filepath.Ext(ended.ExportPath) != ".json" {
		t.Errorf("expected a .json export, got %q", ended.ExportPath)
	}
	if _, err := os.Stat(ended.ExportPath); err != nil {
		t.Errorf("expected export file on disk: %v", err)
	}
	if store.Exists(reply.ConversationID) {
		t.Error("expected the conversation to be evicted")
	}

	// The server closes the session after an end frame.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("expected a normal closure, got %v", err)
	}
}

func TestEndWithoutConversation(t *testing.T) {
	conn, _ := newTestSession(t, "")

	send(t, conn, Frame{Type: "end", Persist: false})
	reply := receive(t, conn)

	if reply.Type != "error" {
		t.Fatalf("expected error frame, got %q", reply.Type)
	}
}

func TestResumeByConversationID(t *testing.T) {
	srv, store := newTestServer(t, "")

	conn := dial(t, srv)
	send(t, conn, Frame{Type: "chat", Message: "first"})
	first := receive(t, conn)
	if first.Type != "reply" {
		t.Fatalf("expected reply frame, got %q", first.Type)
	}
	conn.Close(websocket.StatusNormalClosure, "reconnecting")

	// The conversation survives the disconnect.
	if !store.Exists(first.ConversationID) {
		t.Fatal("expected the conversation to survive the disconnect")
	}

	// A fresh session resumes it by id and sees the prior turns.
	again := dial(t, srv)
	send(t, again, Frame{Type: "chat", ConversationID: first.ConversationID, Message: "second"})
	resumed := receive(t, again)

	if resumed.Type != "reply" {
		t.Fatalf("expected reply frame, got %q (%s)", resumed.Type, resumed.Error)
	}
	if resumed.ConversationID != first.ConversationID {
		t.Errorf("expected conversation %q, got %q", first.ConversationID, resumed.ConversationID)
	}
	if resumed.MessageCount != 4 {
		t.Errorf("expected 4 stored messages, got %d", resumed.MessageCount)
	}
	if !strings.Contains(resumed.Reply, "interaction #2") {
		t.Errorf("expected the provider to see the prior exchange, got %q", resumed.Reply)
	}
}
