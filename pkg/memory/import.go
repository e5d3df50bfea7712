package memory

import (
	"fmt"
	"time"
)

// ExportData returns the raw exported state of one session. An empty
// sessionID selects the current session; ok is false for an unknown one.
func (m *Manager) ExportData(sessionID string) (SessionExport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session := m.resolveLocked(sessionID)
	if session == nil {
		return SessionExport{}, false
	}
	return session.export(), true
}

// ImportSession inserts an externally produced session export into the
// store and returns the id it was stored under. Derived aggregates are
// recomputed from the imported ledger, and a colliding session id gets a
// numeric suffix (id_1, id_2, ...) so existing sessions are never replaced.
func (m *Manager) ImportSession(data SessionExport) (string, error) {
	session, err := SessionFromExport(data)
	if err != nil {
		return "", err
	}

	// Imported files may carry stale caches; re-derive them.
	session.metadata.MessageCount = len(session.messages)
	total := 0
	for _, msg := range session.messages {
		total += msg.Tokens
	}
	session.metadata.TotalTokens = total
	session.metadata.IsActive = false
	if session.metadata.LastUpdated.IsZero() {
		session.metadata.LastUpdated = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := session.metadata.SessionID
	for counter := 1; ; counter++ {
		if _, exists := m.sessions[id]; !exists {
			break
		}
		id = fmt.Sprintf("%s_%d", session.metadata.SessionID, counter)
	}
	session.metadata.SessionID = id
	m.sessions[id] = session

	m.logger.Infof("Imported session %q as %s", session.Name(), id)
	return id, nil
}
