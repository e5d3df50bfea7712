package memory

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/shenning00/claude-lang-chat/pkg/types"
)

// Metadata holds the bookkeeping fields for one conversation session.
// MessageCount and TotalTokens are derived caches: every ledger mutation
// must keep them equal to len(messages) and sum(tokens).
type Metadata struct {
	SessionID    string    `json:"session_id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	LastUpdated  time.Time `json:"last_updated"`
	MessageCount int       `json:"message_count"`
	TotalTokens  int       `json:"total_tokens"`
	ModelUsed    string    `json:"model_used"`
	IsActive     bool      `json:"is_active"`
	Summary      string    `json:"summary,omitempty"`
}

// Session is a single named conversation thread: an ordered message ledger,
// its metadata, and the set of pinned message positions.
//
// Session is not safe for concurrent use on its own; the owning Manager
// serializes all access.
type Session struct {
	messages []*types.Message
	metadata Metadata
	pinned   []int
}

// newSession constructs an empty session. An empty name defaults to
// "Session <first-8-of-id>".
func newSession(id, name, model string) *Session {
	if name == "" {
		short := id
		if len(short) > 8 {
			short = short[:8]
		}
		name = fmt.Sprintf("Session %s", short)
	}
	now := time.Now().UTC()
	return &Session{
		metadata: Metadata{
			SessionID:   id,
			Name:        name,
			CreatedAt:   now,
			LastUpdated: now,
			ModelUsed:   model,
		},
	}
}

// ID returns the session's stable identifier.
func (s *Session) ID() string { return s.metadata.SessionID }

// Name returns the session's display name.
func (s *Session) Name() string { return s.metadata.Name }

// Metadata returns a copy of the session's metadata.
func (s *Session) Metadata() Metadata { return s.metadata }

// Len returns the number of messages in the ledger.
func (s *Session) Len() int { return len(s.messages) }

// addMessage appends a message and updates the derived aggregates.
func (s *Session) addMessage(role types.Role, content string, tokens int, metadata map[string]interface{}) *types.Message {
	msg := types.NewMessage(role, content, tokens)
	if metadata != nil {
		msg.Metadata = metadata
	}

	s.messages = append(s.messages, msg)
	s.metadata.MessageCount = len(s.messages)
	s.metadata.TotalTokens += tokens
	s.metadata.LastUpdated = msg.Timestamp
	return msg
}

// history returns role/content pairs suitable for a model provider. A
// positive limit keeps only the most recent entries; includeSystem controls
// whether system messages (eviction summaries) are included.
func (s *Session) history(limit int, includeSystem bool) []types.ChatEntry {
	entries := make([]types.ChatEntry, 0, len(s.messages))
	for _, msg := range s.messages {
		if !includeSystem && msg.Role == types.RoleSystem {
			continue
		}
		entries = append(entries, types.ChatEntry{Role: msg.Role, Content: msg.Content})
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

// recentContext returns the newest messages whose token costs fit within
// tokenLimit, oldest first.
func (s *Session) recentContext(tokenLimit int) []types.ChatEntry {
	var entries []types.ChatEntry
	current := 0
	for i := len(s.messages) - 1; i >= 0; i-- {
		msg := s.messages[i]
		if current+msg.Tokens > tokenLimit {
			break
		}
		entries = append([]types.ChatEntry{{Role: msg.Role, Content: msg.Content}}, entries...)
		current += msg.Tokens
	}
	return entries
}

// pin marks the message at index as pinned so optimization rescues it.
// Returns false for an out-of-range index; pinning twice is a no-op success.
func (s *Session) pin(index int) bool {
	if index < 0 || index >= len(s.messages) {
		return false
	}
	for _, p := range s.pinned {
		if p == index {
			return true
		}
	}
	s.pinned = append(s.pinned, index)
	return true
}

// unpin removes a pinned position. Returns false if it was not pinned.
func (s *Session) unpin(index int) bool {
	for i, p := range s.pinned {
		if p == index {
			s.pinned = append(s.pinned[:i], s.pinned[i+1:]...)
			return true
		}
	}
	return false
}

// clear empties the ledger and pinned set, returning how many messages
// were removed.
func (s *Session) clear() int {
	count := len(s.messages)
	s.messages = nil
	s.pinned = nil
	s.metadata.MessageCount = 0
	s.metadata.TotalTokens = 0
	s.metadata.LastUpdated = time.Now().UTC()
	return count
}

// SessionSummary is the per-session line surfaced by Manager.ListSessions.
type SessionSummary struct {
	SessionID          string    `json:"session_id"`
	Name               string    `json:"name"`
	MessageCount       int       `json:"message_count"`
	TotalTokens        int       `json:"total_tokens"`
	LastActivity       time.Time `json:"last_activity"` // zero when the session has no messages
	LastMessagePreview string    `json:"last_message_preview,omitempty"`
	Created            time.Time `json:"created"`
	Model              string    `json:"model"`
	PinnedCount        int       `json:"pinned_count"`
	IsActive           bool      `json:"is_active"`
}

// previewLength caps the most-recent-message preview in session summaries.
const previewLength = 100

// summary builds the session's listing line.
func (s *Session) summary() SessionSummary {
	sum := SessionSummary{
		SessionID:    s.metadata.SessionID,
		Name:         s.metadata.Name,
		MessageCount: len(s.messages),
		TotalTokens:  s.metadata.TotalTokens,
		Created:      s.metadata.CreatedAt,
		Model:        s.metadata.ModelUsed,
		PinnedCount:  len(s.pinned),
	}
	if len(s.messages) == 0 {
		return sum
	}

	last := s.messages[len(s.messages)-1]
	sum.LastActivity = last.Timestamp
	sum.LastMessagePreview = truncate(last.Content, previewLength)
	return sum
}

// truncate caps text at max bytes, backing the cut off to a rune boundary
// so a preview never ends in a split UTF-8 sequence.
func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

// SessionExport is the exported state of one session, as embedded in
// snapshots and single-session export files.
type SessionExport struct {
	Metadata       Metadata         `json:"metadata"`
	Messages       []*types.Message `json:"messages"`
	PinnedMessages []int            `json:"pinned_messages"`
}

// export deep-copies the session into its exported form.
func (s *Session) export() SessionExport {
	messages := make([]*types.Message, len(s.messages))
	for i, msg := range s.messages {
		messages[i] = msg.Clone()
	}
	pinned := make([]int, len(s.pinned))
	copy(pinned, s.pinned)
	return SessionExport{
		Metadata:       s.metadata,
		Messages:       messages,
		PinnedMessages: pinned,
	}
}

// SessionFromExport reconstructs a session from its exported state.
func SessionFromExport(data SessionExport) (*Session, error) {
	if data.Metadata.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session_id", ErrInvalidExport)
	}
	messages := make([]*types.Message, len(data.Messages))
	for i, msg := range data.Messages {
		messages[i] = msg.Clone()
	}
	pinned := make([]int, len(data.PinnedMessages))
	copy(pinned, data.PinnedMessages)
	return &Session{
		messages: messages,
		metadata: data.Metadata,
		pinned:   pinned,
	}, nil
}
