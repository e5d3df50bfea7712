// Package memory implements the conversation session store: bounded
// multi-session chat history with pinning, eviction, search, and
// consistent snapshots for the backup engine.
package memory

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/shenning00/claude-lang-chat/pkg/config"
	"github.com/shenning00/claude-lang-chat/pkg/logging"
	"github.com/shenning00/claude-lang-chat/pkg/types"
)

var (
	// ErrSessionNotFound reports an unknown session identifier.
	ErrSessionNotFound = errors.New("memory: session not found")

	// ErrInvalidExport reports exported session data missing required fields.
	ErrInvalidExport = errors.New("memory: invalid session export")
)

// Manager owns the session mapping and the current-session pointer. All
// methods are safe for concurrent use: a single RWMutex guarantees the
// autosave goroutine snapshots either fully-pre-mutation or
// fully-post-mutation state, never a half-applied append.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	currentID   string
	settings    config.Settings
	countTokens func(string) int
	logger      *logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger overrides the manager's logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithTokenCounter sets the token estimator used by Exchange when appending
// user and assistant messages. Without one, exchanged messages are recorded
// with a zero token estimate.
func WithTokenCounter(count func(string) int) Option {
	return func(m *Manager) { m.countTokens = count }
}

// NewManager creates an empty session store with the given settings.
func NewManager(settings config.Settings, opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		settings: settings,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		logger, err := logging.NewLogger("memory")
		if err != nil {
			logger.Warnf("File logging unavailable, using stderr: %v", err)
		}
		m.logger = logger
	}
	return m
}

// CreateSession allocates a new session and returns its identifier. The
// very first session in the store becomes current and active. An empty
// model falls back to the configured default.
func (m *Manager) CreateSession(name, model string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if model == "" {
		model = m.settings.Model
	}
	id := uuid.New().String()
	session := newSession(id, name, model)
	m.sessions[id] = session

	if m.currentID == "" {
		m.currentID = id
		session.metadata.IsActive = true
	}

	m.logger.Infof("Created new session: %s (%s)", id, session.Name())
	return id
}

// SwitchSession makes id the current session. Returns false if id is
// unknown. Activation is exclusive: the previous current session is
// deactivated first.
func (m *Manager) SwitchSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.switchLocked(id)
}

func (m *Manager) switchLocked(id string) bool {
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	if m.currentID != "" {
		if prev, ok := m.sessions[m.currentID]; ok {
			prev.metadata.IsActive = false
		}
	}
	m.currentID = id
	m.sessions[id].metadata.IsActive = true
	m.logger.Infof("Switched to session: %s", id)
	return true
}

// DeleteSession removes a session. Returns false if id is unknown. When the
// current session is deleted, the first surviving session (sorted by id)
// becomes current; an emptied store has no current session.
func (m *Manager) DeleteSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return false
	}

	if id == m.currentID {
		remaining := make([]string, 0, len(m.sessions)-1)
		for sid := range m.sessions {
			if sid != id {
				remaining = append(remaining, sid)
			}
		}
		if len(remaining) > 0 {
			sort.Strings(remaining)
			m.switchLocked(remaining[0])
		} else {
			m.currentID = ""
		}
	}

	delete(m.sessions, id)
	m.logger.Infof("Deleted session: %s", id)
	return true
}

// CurrentSessionID returns the current session identifier, or "" when the
// store is empty.
func (m *Manager) CurrentSessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentID
}

// currentLocked returns the current session or nil. Callers hold m.mu.
func (m *Manager) currentLocked() *Session {
	if m.currentID == "" {
		return nil
	}
	return m.sessions[m.currentID]
}

// AddMessage appends a message to the current session, creating a "Default"
// session first when the store is empty. Returns a copy of the appended
// record.
func (m *Manager) AddMessage(role types.Role, content string, tokens int, metadata map[string]interface{}) *types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addMessageLocked(m.currentID, role, content, tokens, metadata)
}

func (m *Manager) addMessageLocked(sessionID string, role types.Role, content string, tokens int, metadata map[string]interface{}) *types.Message {
	session := m.sessions[sessionID]
	if session == nil {
		if sessionID != "" && sessionID != m.currentID {
			// The target session was deleted while a reply was in flight.
			return nil
		}
		session = m.createDefaultLocked()
	}

	msg := session.addMessage(role, content, tokens, metadata)
	session.metadata.ModelUsed = m.modelOrDefault(session.metadata.ModelUsed)
	m.logger.Debugf("Added %s message to session %s", role, session.ID())
	return msg.Clone()
}

func (m *Manager) createDefaultLocked() *Session {
	id := uuid.New().String()
	session := newSession(id, "Default", m.settings.Model)
	m.sessions[id] = session
	if m.currentID == "" {
		m.currentID = id
		session.metadata.IsActive = true
	}
	m.logger.Infof("Created new session: %s (%s)", id, session.Name())
	return session
}

func (m *Manager) modelOrDefault(model string) string {
	if model == "" {
		return m.settings.Model
	}
	return model
}

// History returns role/content pairs from the current session. A positive
// limit keeps only the most recent entries.
func (m *Manager) History(limit int, includeSystem bool) []types.ChatEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session := m.currentLocked()
	if session == nil {
		return nil
	}
	return session.history(limit, includeSystem)
}

// RecentContext returns the newest messages from the current session that
// fit within tokenLimit. A non-positive limit defaults to half the
// configured max response tokens.
func (m *Manager) RecentContext(tokenLimit int) []types.ChatEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session := m.currentLocked()
	if session == nil {
		return nil
	}
	if tokenLimit <= 0 {
		tokenLimit = m.settings.MaxTokens / 2
	}
	return session.recentContext(tokenLimit)
}

// Pin marks a message position in the current session as pinned. Pinned
// positions are rescued from eviction but invalidated by it: Optimize
// drops the whole pinned set after any structural rewrite.
func (m *Manager) Pin(index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.currentLocked()
	if session == nil {
		return false
	}
	if !session.pin(index) {
		return false
	}
	m.logger.Infof("Pinned message %d in session %s", index, session.ID())
	return true
}

// Unpin removes a pinned position from the current session.
func (m *Manager) Unpin(index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.currentLocked()
	if session == nil {
		return false
	}
	if !session.unpin(index) {
		return false
	}
	m.logger.Infof("Unpinned message %d in session %s", index, session.ID())
	return true
}

// Pinned returns the current session's pinned positions.
func (m *Manager) Pinned() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session := m.currentLocked()
	if session == nil {
		return nil
	}
	pinned := make([]int, len(session.pinned))
	copy(pinned, session.pinned)
	return pinned
}

// ClearCurrent empties the current session's ledger and pinned set,
// returning how many messages were removed.
func (m *Manager) ClearCurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.currentLocked()
	if session == nil {
		return 0
	}
	count := session.clear()
	m.logger.Infof("Cleared %d messages from session %s", count, session.ID())
	return count
}

// ListSessions returns one summary per session, most recently active first.
func (m *Manager) ListSessions() []SessionSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := make([]SessionSummary, 0, len(m.sessions))
	for _, session := range m.sessions {
		sum := session.summary()
		sum.IsActive = session.ID() == m.currentID
		summaries = append(summaries, sum)
	}

	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].LastActivity.Equal(summaries[j].LastActivity) {
			return summaries[i].LastActivity.After(summaries[j].LastActivity)
		}
		return summaries[i].SessionID < summaries[j].SessionID
	})
	return summaries
}

// SessionModel returns the model assigned to a session. An empty id selects
// the current session.
func (m *Manager) SessionModel(sessionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session := m.resolveLocked(sessionID)
	if session == nil {
		return "", false
	}
	return session.metadata.ModelUsed, true
}

// SetSessionModel assigns a model to a session. An empty id selects the
// current session.
func (m *Manager) SetSessionModel(model, sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.resolveLocked(sessionID)
	if session == nil {
		return false
	}
	session.metadata.ModelUsed = model
	session.metadata.LastUpdated = time.Now().UTC()
	m.logger.Infof("Updated model for session %s to %s", session.ID(), model)
	return true
}

// resolveLocked maps an optional session id to a session. Callers hold m.mu.
func (m *Manager) resolveLocked(sessionID string) *Session {
	if sessionID == "" {
		return m.currentLocked()
	}
	return m.sessions[sessionID]
}

// SearchResult is one message matching a search query.
type SearchResult struct {
	SessionID    string     `json:"session_id"`
	SessionName  string     `json:"session_name"`
	MessageIndex int        `json:"message_index"`
	Role         types.Role `json:"role"`
	Content      string     `json:"content"`
	Timestamp    time.Time  `json:"timestamp"`
	Preview      string     `json:"preview"`
}

// SearchMessages finds messages whose content contains query,
// case-insensitively. A non-empty sessionID scopes the search to one
// session; an unknown id yields no results.
func (m *Manager) SearchMessages(query, sessionID string) []SearchResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	if sessionID != "" {
		ids = []string{sessionID}
	} else {
		for id := range m.sessions {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}

	queryLower := strings.ToLower(query)
	var results []SearchResult
	for _, id := range ids {
		session, ok := m.sessions[id]
		if !ok {
			continue
		}
		for i, msg := range session.messages {
			if !strings.Contains(strings.ToLower(msg.Content), queryLower) {
				continue
			}
			results = append(results, SearchResult{
				SessionID:    id,
				SessionName:  session.Name(),
				MessageIndex: i,
				Role:         msg.Role,
				Content:      msg.Content,
				Timestamp:    msg.Timestamp,
				Preview:      messagePreview(msg.Content, query),
			})
		}
	}
	return results
}

// previewContextChars is the width of the preview window around a match.
const previewContextChars = 100

// messagePreview extracts a window of content centered on the first match
// of query. Without a match the content itself is returned, truncated.
// Window edges snap outward to rune boundaries so the preview stays valid
// UTF-8.
func messagePreview(content, query string) string {
	matchIndex := strings.Index(strings.ToLower(content), strings.ToLower(query))
	if matchIndex == -1 || query == "" {
		return truncate(content, previewContextChars)
	}

	start := matchIndex - previewContextChars/2
	if start < 0 {
		start = 0
	}
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	end := matchIndex + len(query) + previewContextChars/2
	if end > len(content) {
		end = len(content)
	}
	for end < len(content) && !utf8.RuneStart(content[end]) {
		end++
	}

	preview := content[start:end]
	if start > 0 {
		preview = "..." + preview
	}
	if end < len(content) {
		preview = preview + "..."
	}
	return preview
}

// Stats summarizes memory usage across the store.
type Stats struct {
	TotalSessions int `json:"total_sessions"`
	TotalMessages int `json:"total_messages"`
	TotalTokens   int `json:"total_tokens"`
	MemoryLimit   int `json:"memory_limit"`

	// Current-session usage; zero values when no session is current.
	CurrentMessages    int     `json:"current_messages"`
	CurrentTokens      int     `json:"current_tokens"`
	CurrentPinned      int     `json:"current_pinned"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`
}

// MemoryStats reports store-wide and current-session usage.
func (m *Manager) MemoryStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		TotalSessions: len(m.sessions),
		MemoryLimit:   m.settings.MaxMemoryMessages,
	}
	for _, session := range m.sessions {
		stats.TotalMessages += len(session.messages)
		stats.TotalTokens += session.metadata.TotalTokens
	}

	if current := m.currentLocked(); current != nil {
		stats.CurrentMessages = len(current.messages)
		stats.CurrentTokens = current.metadata.TotalTokens
		stats.CurrentPinned = len(current.pinned)
		stats.MemoryUsagePercent = float64(len(current.messages)) / float64(m.settings.MaxMemoryMessages) * 100
	}
	return stats
}

// StoreExport is a consistent deep copy of the whole store, handed to the
// backup codec.
type StoreExport struct {
	Sessions         map[string]SessionExport `json:"sessions"`
	CurrentSessionID string                   `json:"current_session_id"`
}

// Snapshot exports the full store under the read lock, so concurrent
// appends are observed either fully applied or not at all.
func (m *Manager) Snapshot() StoreExport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make(map[string]SessionExport, len(m.sessions))
	for id, session := range m.sessions {
		sessions[id] = session.export()
	}
	return StoreExport{
		Sessions:         sessions,
		CurrentSessionID: m.currentID,
	}
}

// Restore replaces the store's contents with a previously exported state.
// A current-session id naming a missing session falls back to the first
// session (sorted by id), or to none when the export is empty. Exactly one
// session ends up active.
func (m *Manager) Restore(data StoreExport) error {
	sessions := make(map[string]*Session, len(data.Sessions))
	for id, export := range data.Sessions {
		session, err := SessionFromExport(export)
		if err != nil {
			return err
		}
		sessions[id] = session
	}

	currentID := data.CurrentSessionID
	if _, ok := sessions[currentID]; !ok {
		currentID = ""
		if len(sessions) > 0 {
			ids := make([]string, 0, len(sessions))
			for id := range sessions {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			currentID = ids[0]
		}
	}

	for id, session := range sessions {
		session.metadata.IsActive = id == currentID
	}

	m.mu.Lock()
	m.sessions = sessions
	m.currentID = currentID
	m.mu.Unlock()

	m.logger.Infof("Restored %d sessions (current: %s)", len(sessions), currentID)
	return nil
}

// HasMessages reports whether any session holds at least one message. The
// autosave scheduler uses this to skip saves of empty stores.
func (m *Manager) HasMessages() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, session := range m.sessions {
		if len(session.messages) > 0 {
			return true
		}
	}
	return false
}

// SessionCount returns the number of sessions in the store.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
