package types

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"      // RoleUser marks a message typed by the human.
	RoleAssistant Role = "assistant" // RoleAssistant marks a model-generated reply.
	RoleSystem    Role = "system"    // RoleSystem marks synthetic messages such as eviction summaries.
)

// Message is a single conversation message. Messages are immutable once
// appended to a session ledger, except for timestamp correction during import.
type Message struct {
	// Metadata holds optional open-ended annotations for the message.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Content is the message text.
	Content string `json:"content"`

	// Role indicates who authored the message.
	Role Role `json:"role"`

	// Timestamp records when the message was created.
	Timestamp time.Time `json:"timestamp"`

	// Tokens is the estimated token cost of Content. Always >= 0.
	Tokens int `json:"tokens"`
}

// NewMessage creates a message with the given role and content, stamped now.
func NewMessage(role Role, content string, tokens int) *Message {
	return &Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Tokens:    tokens,
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string, tokens int) *Message {
	return NewMessage(RoleUser, content, tokens)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string, tokens int) *Message {
	return NewMessage(RoleAssistant, content, tokens)
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string, tokens int) *Message {
	return NewMessage(RoleSystem, content, tokens)
}

// WithMetadata adds a metadata entry and returns the message for chaining.
func (m *Message) WithMetadata(key string, value interface{}) *Message {
	if m.Metadata == nil {
		m.Metadata = make(map[string]interface{})
	}
	m.Metadata[key] = value
	return m
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	if m.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// ChatEntry is a minimal role/content pair in the shape model providers accept.
type ChatEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
