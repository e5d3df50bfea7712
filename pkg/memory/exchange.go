package memory

import (
	"context"
	"fmt"

	"github.com/shenning00/claude-lang-chat/pkg/llm"
	"github.com/shenning00/claude-lang-chat/pkg/types"
)

// Reply is the outcome of one model exchange.
type Reply struct {
	// SessionID is the session the exchange was issued for. The reply is
	// persisted there even when the user has since switched sessions.
	SessionID string

	// Content is the model's reply text.
	Content string

	// Message is the persisted assistant record, or nil when the session
	// was deleted while the exchange was in flight.
	Message *types.Message

	// Visible reports whether SessionID is still the current session, i.e.
	// whether the caller should surface the reply in the active view.
	Visible bool
}

// Exchange sends the current session's history plus the given user input to
// the provider and persists both sides of the exchange. The user message is
// appended before the call; the reply is appended to the session the
// exchange was issued for, whatever is current by then. The store lock is
// not held across the provider call, so the user may switch or mutate other
// sessions while a reply is in flight.
//
// After delivery the target session is opportunistically optimized against
// the configured message ceiling.
func (m *Manager) Exchange(ctx context.Context, provider llm.Provider, content string) (*Reply, error) {
	m.mu.Lock()
	session := m.currentLocked()
	if session == nil {
		session = m.createDefaultLocked()
	}
	sessionID := session.ID()
	m.addMessageLocked(sessionID, types.RoleUser, content, m.estimate(content), nil)
	history := session.history(0, true)
	m.mu.Unlock()

	reply, err := provider.Complete(ctx, history)
	if err != nil {
		return nil, fmt.Errorf("model completion failed: %w", err)
	}

	m.mu.Lock()
	msg := m.addMessageLocked(sessionID, types.RoleAssistant, reply, m.estimate(reply), nil)
	visible := sessionID == m.currentID
	m.mu.Unlock()

	if msg == nil {
		m.logger.Warnf("Session %s deleted during exchange; reply dropped", sessionID)
		return &Reply{SessionID: sessionID, Content: reply}, nil
	}

	if !visible {
		m.logger.Infof("Session changed during exchange; reply saved to %s only", sessionID)
	}

	if _, ok := m.Optimize(sessionID); !ok {
		m.logger.Warnf("Post-exchange optimize skipped: session %s not found", sessionID)
	}

	return &Reply{
		SessionID: sessionID,
		Content:   reply,
		Message:   msg,
		Visible:   visible,
	}, nil
}

// estimate applies the configured token counter, defaulting to zero.
func (m *Manager) estimate(text string) int {
	if m.countTokens == nil {
		return 0
	}
	return m.countTokens(text)
}
