package history

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sc-hua/conversation/internal/llm"
)

// History is the append-only message log for one conversation id. It is
// owned exclusively by the Store; callers only ever see copies.
type History struct {
	ConversationID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Metadata       map[string]any
	Messages       []llm.Message
}

// --- export file layout ---

type exportRecord struct {
	ConversationID string          `json:"conversation_id"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	Messages       []messageRecord `json:"messages"`
}

type messageRecord struct {
	ID        string          `json:"id"`
	Role      string          `json:"role"`
	Timestamp time.Time       `json:"timestamp"`
	Content   json.RawMessage `json:"content"`
}

// structuredContent is the on-disk form of structured message content;
// plain-text content is stored as a bare JSON string instead.
type structuredContent struct {
	Type   string        `json:"type"`
	Blocks []blockRecord `json:"blocks"`
}

type blockRecord struct {
	Type    string         `json:"type"`
	Content any            `json:"content"`
	Extras  map[string]any `json:"extras,omitempty"`
}

func toRecord(h *History) (*exportRecord, error) {
	rec := &exportRecord{
		ConversationID: h.ConversationID,
		CreatedAt:      h.CreatedAt,
		UpdatedAt:      h.UpdatedAt,
		Metadata:       h.Metadata,
		Messages:       make([]messageRecord, 0, len(h.Messages)),
	}
	for i := range h.Messages {
		msg := &h.Messages[i]
		content, err := encodeContent(msg)
		if err != nil {
			return nil, fmt.Errorf("encoding message %s: %w", msg.ID, err)
		}
		rec.Messages = append(rec.Messages, messageRecord{
			ID:        msg.ID,
			Role:      string(msg.Role),
			Timestamp: msg.Timestamp,
			Content:   content,
		})
	}
	return rec, nil
}

func encodeContent(msg *llm.Message) (json.RawMessage, error) {
	if msg.Structured == nil {
		return json.Marshal(msg.Text)
	}
	blocks := msg.Structured.Blocks()
	sc := structuredContent{Type: "structured", Blocks: make([]blockRecord, 0, len(blocks))}
	for i := range blocks {
		sc.Blocks = append(sc.Blocks, blockRecord{
			Type:    string(blocks[i].Kind),
			Content: blocks[i].Payload,
			Extras:  blocks[i].Extras(),
		})
	}
	return json.Marshal(sc)
}

func fromRecord(rec *exportRecord) (*History, error) {
	h := &History{
		ConversationID: rec.ConversationID,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
		Metadata:       rec.Metadata,
		Messages:       make([]llm.Message, 0, len(rec.Messages)),
	}
	for i := range rec.Messages {
		mr := &rec.Messages[i]
		msg := llm.Message{
			ID:        mr.ID,
			Role:      llm.Role(mr.Role),
			Timestamp: mr.Timestamp,
		}
		if err := decodeContent(mr.Content, &msg); err != nil {
			return nil, fmt.Errorf("decoding message %s: %w", mr.ID, err)
		}
		h.Messages = append(h.Messages, msg)
	}
	return h, nil
}

func decodeContent(raw json.RawMessage, msg *llm.Message) error {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		msg.Text = text
		return nil
	}

	var sc structuredContent
	if err := json.Unmarshal(raw, &sc); err != nil {
		return fmt.Errorf("content is neither a string nor structured: %w", err)
	}
	content := &llm.Content{}
	for _, br := range sc.Blocks {
		var opts []llm.BlockOption
		if len(br.Extras) > 0 {
			opts = append(opts, llm.WithExtras(br.Extras))
		}
		switch llm.BlockKind(br.Type) {
		case llm.BlockText:
			content.AddText(stringPayload(br.Content), opts...)
		case llm.BlockImage:
			content.AddImage(stringPayload(br.Content), opts...)
		case llm.BlockJSON:
			content.AddJSON(br.Content, opts...)
		default:
			return fmt.Errorf("unknown block type %q", br.Type)
		}
	}
	msg.Structured = content
	return nil
}

func stringPayload(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// LoadExport reparses an export file produced by Store.Export. Blocks and
// their extras survive the round trip losslessly.
func LoadExport(path string) (*History, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading export file: %w", err)
	}
	var rec exportRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing export file %s: %w", path, err)
	}
	return fromRecord(&rec)
}
