package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sc-hua/conversation/internal/dialog"
	"github.com/sc-hua/conversation/internal/history"
	"github.com/sc-hua/conversation/internal/llm/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// runScript feeds the REPL a scripted session and returns its output, the
// backing store, and the export directory.
func runScript(t *testing.T, script, systemPrompt string, persistOnExit bool) (string, *history.Store, string) {
	t.Helper()

	dir := t.TempDir()
	store, err := history.NewStore(dir, discardLogger())
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	orch := dialog.NewOrchestrator(mock.NewClient(mock.WithDelay(0)), store, discardLogger())

	g := NewGateway(orch, store, systemPrompt, persistOnExit, discardLogger())
	var out bytes.Buffer
	g.in = strings.NewReader(script)
	g.out = &out
	g.errOut = &out

	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("running session: %v", err)
	}
	return out.String(), store, dir
}

func exportFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading export dir: %v", err)
	}
	var files []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" {
			files = append(files, e.Name())
		}
	}
	return files
}

func TestTurnPrintsReply(t *testing.T) {
	out, _, _ := runScript(t, "hello\nexit\n", "", false)

	if !strings.Contains(out, "I analyzed your content") {
		t.Errorf("expected the provider reply in the output, got %q", out)
	}
	if !strings.Contains(out, "item 1: text - hello") {
		t.Errorf("expected the text block echo, got %q", out)
	}
	if !strings.Contains(out, "Goodbye.") {
		t.Errorf("expected the exit farewell, got %q", out)
	}
}

func TestAttachmentsJoinNextTurn(t *testing.T) {
	script := "/image chart.png\n/json {\"a\": 1}\nlook at this\nexit\n"
	out, _, _ := runScript(t, script, "", false)

	for _, want := range []string{
		"Attached image chart.png",
		"item 1: text - look at this",
		"item 2: image - chart.png",
		"item 3: json - 1 field",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got %q", want, out)
		}
	}
}

func TestNewStartsFreshConversation(t *testing.T) {
	out, _, _ := runScript(t, "one\ntwo\n/new\nthree\nexit\n", "", false)

	if !strings.Contains(out, "This is interaction #2") {
		t.Errorf("expected the second turn to see the prior exchange, got %q", out)
	}
	if strings.Contains(out, "This is interaction #3") {
		t.Errorf("expected /new to reset the conversation, got %q", out)
	}
}

func TestEndExportsAndCloses(t *testing.T) {
	out, _, dir := runScript(t, "hi\n/end\nexit\n", "", false)

	if !strings.Contains(out, "Conversation saved to") {
		t.Errorf("expected the export location, got %q", out)
	}
	if files := exportFiles(t, dir); len(files) != 1 {
		t.Errorf("expected 1 export file, got %v", files)
	}
}

func TestEndWithoutConversation(t *testing.T) {
	out, _, dir := runScript(t, "/end\nexit\n", "", false)

	if !strings.Contains(out, "No active conversation.") {
		t.Errorf("expected a no-conversation notice, got %q", out)
	}
	if files := exportFiles(t, dir); len(files) != 0 {
		t.Errorf("expected no export files, got %v", files)
	}
}

func TestExitDoesNotPersistByDefault(t *testing.T) {
	_, _, dir := runScript(t, "hi\nexit\n", "", false)

	if files := exportFiles(t, dir); len(files) != 0 {
		t.Errorf("expected no export files, got %v", files)
	}
}

func TestEOFPersistsWhenConfigured(t *testing.T) {
	out, _, dir := runScript(t, "hi\n", "", true)

	if !strings.Contains(out, "Conversation saved to") {
		t.Errorf("expected the export location, got %q", out)
	}
	if files := exportFiles(t, dir); len(files) != 1 {
		t.Errorf("expected 1 export file, got %v", files)
	}
}

func TestHistoryListing(t *testing.T) {
	out, _, _ := runScript(t, "hi\n/history\nexit\n", "stay factual", false)

	for _, want := range []string{
		"3 messages in",
		"[system] stay factual",
		"[user] hi",
		"[assistant] I analyzed your content",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got %q", want, out)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	out, _, _ := runScript(t, "/frob\nexit\n", "", false)

	if !strings.Contains(out, `Unknown command "/frob"`) {
		t.Errorf("expected an unknown-command notice, got %q", out)
	}
}

func TestInvalidJSONAttachment(t *testing.T) {
	out, _, _ := runScript(t, "/json {broken\nexit\n", "", false)

	if !strings.Contains(out, "invalid json") {
		t.Errorf("expected a json parse error, got %q", out)
	}
}

func TestStopUnblocksNextPrompt(t *testing.T) {
	store, err := history.NewStore(t.TempDir(), discardLogger())
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	orch := dialog.NewOrchestrator(mock.NewClient(mock.WithDelay(0)), store, discardLogger())

	g := NewGateway(orch, store, "", false, discardLogger())
	var out bytes.Buffer
	g.in = strings.NewReader("hello\nnever sent\n")
	g.out = &out
	g.errOut = &out

	if err := g.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// Stop twice is a no-op.
	if err := g.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("start after stop: %v", err)
	}
	if !strings.Contains(out.String(), "Shutting down.") {
		t.Errorf("expected the shutdown notice, got %q", out.String())
	}
}
