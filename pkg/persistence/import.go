package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shenning00/claude-lang-chat/pkg/memory"
	"github.com/shenning00/claude-lang-chat/pkg/types"
)

// sessionInfo is the header block of a single-session export file.
type sessionInfo struct {
	Name         string    `json:"name"`
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
	TotalTokens  int       `json:"total_tokens"`
	ExportedAt   time.Time `json:"exported_at"`
}

// sessionFile is the on-disk shape of a single-session JSON export.
type sessionFile struct {
	SessionInfo    sessionInfo      `json:"session_info"`
	Messages       []*types.Message `json:"messages"`
	PinnedMessages []int            `json:"pinned_messages"`
}

// ExportSessionFile writes one session to a file in the given format. JSON
// exports use a self-contained document with a session_info header;
// Markdown and text exports write the rendered transcript.
func (p *Persistence) ExportSessionFile(manager *memory.Manager, sessionID, path string, format memory.Format) error {
	data, ok := manager.ExportData(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", memory.ErrSessionNotFound, sessionID)
	}

	var content []byte
	if format == memory.FormatJSON {
		doc := sessionFile{
			SessionInfo: sessionInfo{
				Name:         data.Metadata.Name,
				SessionID:    data.Metadata.SessionID,
				CreatedAt:    data.Metadata.CreatedAt,
				MessageCount: len(data.Messages),
				TotalTokens:  data.Metadata.TotalTokens,
				ExportedAt:   time.Now().UTC(),
			},
			Messages:       data.Messages,
			PinnedMessages: data.PinnedMessages,
		}
		b, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode session export: %w", err)
		}
		content = b
	} else {
		result, err := memory.RenderExport(data, format)
		if err != nil {
			return err
		}
		content = []byte(result.Content)
	}

	if err := os.WriteFile(path, content, 0600); err != nil {
		return fmt.Errorf("failed to write session export %s: %w", path, err)
	}
	p.logger.Infof("Exported session %q to %s (%s)", data.Metadata.Name, path, format)
	return nil
}

// ImportSessionFile reads a single-session JSON export and inserts it into
// the store, returning the id it was stored under. Message timestamps come
// from the file, not the import time, and a colliding session id is
// suffixed rather than replacing an existing session.
func (p *Persistence) ImportSessionFile(manager *memory.Manager, path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read session export %s: %w", path, err)
	}

	var doc sessionFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("failed to parse session export %s: %w", path, err)
	}

	info := doc.SessionInfo
	if info.SessionID == "" {
		info.SessionID = "imported_session"
	}
	if info.Name == "" {
		info.Name = "Imported Session"
	}
	createdAt := info.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var lastUpdated time.Time
	for _, msg := range doc.Messages {
		if msg.Timestamp.After(lastUpdated) {
			lastUpdated = msg.Timestamp
		}
	}

	id, err := manager.ImportSession(memory.SessionExport{
		Metadata: memory.Metadata{
			SessionID:   info.SessionID,
			Name:        info.Name,
			CreatedAt:   createdAt,
			LastUpdated: lastUpdated,
		},
		Messages:       doc.Messages,
		PinnedMessages: doc.PinnedMessages,
	})
	if err != nil {
		return "", err
	}

	p.logger.Infof("Imported session %q from %s", info.Name, path)
	return id, nil
}
