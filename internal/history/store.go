// Package history keeps per-conversation message logs in memory and
// serializes them to timestamped JSON export files on demand.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sc-hua/conversation/internal/llm"
)

const defaultExportDir = "./conversations"

// ErrConversationNotFound is returned by Export when the conversation id
// has no history in the store.
var ErrConversationNotFound = errors.New("conversation not found")

// Store is an in-memory conversation store. Histories are created lazily on
// the first SaveMessage for an id and only ever grow; eviction is explicit.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*History
	exportDir     string
	logger        *slog.Logger
}

// NewStore creates a store that writes export files under exportDir,
// creating the directory if needed. An empty exportDir selects
// "./conversations".
func NewStore(exportDir string, logger *slog.Logger) (*Store, error) {
	if exportDir == "" {
		exportDir = defaultExportDir
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating export directory %s: %w", exportDir, err)
	}
	return &Store{
		conversations: make(map[string]*History),
		exportDir:     exportDir,
		logger:        logger,
	}, nil
}

// ExportDir returns the directory export files are written to.
func (s *Store) ExportDir() string {
	return s.exportDir
}

// Exists reports whether the id has a history in the store.
func (s *Store) Exists(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conversations[conversationID]
	return ok
}

// Messages returns a copy of the message log for the id, or an empty slice
// when the id is unknown.
func (s *Store) Messages(conversationID string) []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.conversations[conversationID]
	if !ok {
		return []llm.Message{}
	}
	out := make([]llm.Message, len(h.Messages))
	copy(out, h.Messages)
	return out
}

// Length returns the number of messages for the id, or -1 when the id is
// unknown. The -1 sentinel distinguishes "no conversation" from an empty
// one.
func (s *Store) Length(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.conversations[conversationID]
	if !ok {
		return -1
	}
	return len(h.Messages)
}

// SaveMessage appends msg to the conversation's history, creating the
// history on first use. It is the only operation that mutates a history.
func (s *Store) SaveMessage(conversationID string, msg llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.conversations[conversationID]
	if !ok {
		now := time.Now().UTC()
		h = &History{
			ConversationID: conversationID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		s.conversations[conversationID] = h
	} else {
		h.UpdatedAt = time.Now().UTC()
	}
	h.Messages = append(h.Messages, msg)
}

// SetMetadata attaches a key/value pair to the conversation's metadata. It
// reports false when the id is unknown; metadata is never a reason to
// create a history.
func (s *Store) SetMetadata(conversationID, key string, value any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.conversations[conversationID]
	if !ok {
		return false
	}
	if h.Metadata == nil {
		h.Metadata = make(map[string]any)
	}
	h.Metadata[key] = value
	return true
}

// Export writes the conversation to a timestamped JSON file under the
// store's export directory and returns the file path. The history stays in
// the store. Unknown ids yield ErrConversationNotFound.
func (s *Store) Export(conversationID string) (string, error) {
	s.mu.RLock()
	h, ok := s.conversations[conversationID]
	var rec *exportRecord
	var err error
	if ok {
		rec, err = toRecord(h)
	}
	s.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("exporting conversation %s: %w", conversationID, ErrConversationNotFound)
	}
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling conversation %s: %w", conversationID, err)
	}
	name := fmt.Sprintf("%s_%s.json", conversationID, time.Now().Format("20060102_150405"))
	path := filepath.Join(s.exportDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing export file: %w", err)
	}

	s.logger.Debug("conversation exported",
		slog.String("conversation_id", conversationID),
		slog.String("path", path),
		slog.Int("messages", len(rec.Messages)),
	)
	return path, nil
}

// Evict removes the conversation from the store. Evicting an unknown id is
// a no-op. Export files already written are untouched.
func (s *Store) Evict(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, conversationID)
}
