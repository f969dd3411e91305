package llm

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who sent a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation.
// Either Text (plain string) or Structured should be set, not both.
// Messages are immutable after creation and owned exclusively by the
// history they are appended to.
type Message struct {
	ID         string
	Role       Role
	Text       string   // Plain text content. Empty when Structured is used.
	Structured *Content // Structured content. Nil when Text is used.
	Timestamp  time.Time
}

// NewTextMessage creates a plain-text message with a fresh id and timestamp.
func NewTextMessage(role Role, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

// NewMessage creates a structured-content message with a fresh id and timestamp.
func NewMessage(role Role, content *Content) Message {
	return Message{
		ID:         uuid.NewString(),
		Role:       role,
		Structured: content,
		Timestamp:  time.Now().UTC(),
	}
}

// Display resolves the content union to its textual rendering.
func (m *Message) Display() string {
	if m.Structured != nil {
		return m.Structured.Display()
	}
	return m.Text
}
