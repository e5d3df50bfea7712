package memory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shenning00/claude-lang-chat/pkg/types"
)

// Format is the closed set of session export renderings.
type Format int

const (
	FormatJSON Format = iota
	FormatMarkdown
	FormatText
)

// String returns the format's conventional name.
func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatMarkdown:
		return "markdown"
	case FormatText:
		return "text"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat maps a format name to a Format. Recognizes "json",
// "markdown", and "txt"/"text".
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "txt", "text":
		return FormatText, nil
	default:
		return 0, fmt.Errorf("unsupported format: %s", name)
	}
}

// ExportResult is a rendered session export.
type ExportResult struct {
	Content string `json:"content"`
	Format  Format `json:"format"`
}

// ExportSession renders a session in the given format. An empty sessionID
// selects the current session; ok is false for an unknown session.
func (m *Manager) ExportSession(sessionID string, format Format) (ExportResult, bool) {
	m.mu.RLock()
	session := m.resolveLocked(sessionID)
	if session == nil {
		m.mu.RUnlock()
		return ExportResult{}, false
	}
	data := session.export()
	m.mu.RUnlock()

	result, err := RenderExport(data, format)
	if err != nil {
		m.logger.Errorf("Failed to render session %s: %v", data.Metadata.SessionID, err)
		return ExportResult{}, false
	}
	return result, true
}

// RenderExport renders exported session data in the given format. Each
// variant is handled by a pure function over the exported state.
func RenderExport(data SessionExport, format Format) (ExportResult, error) {
	switch format {
	case FormatJSON:
		return renderJSON(data)
	case FormatMarkdown:
		return ExportResult{Content: renderMarkdown(data), Format: FormatMarkdown}, nil
	case FormatText:
		return ExportResult{Content: renderText(data), Format: FormatText}, nil
	default:
		return ExportResult{}, fmt.Errorf("unsupported format: %s", format)
	}
}

func renderJSON(data SessionExport) (ExportResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return ExportResult{}, fmt.Errorf("failed to encode session: %w", err)
	}
	return ExportResult{Content: string(b), Format: FormatJSON}, nil
}

func roleLabel(role types.Role, markdown bool) string {
	if markdown {
		if role == types.RoleUser {
			return "🧑 **You**"
		}
		return "🤖 **Claude**"
	}
	if role == types.RoleUser {
		return "You"
	}
	return "Claude"
}

func renderMarkdown(data SessionExport) string {
	meta := data.Metadata
	pinned := pinnedSet(data.PinnedMessages)

	lines := []string{
		fmt.Sprintf("# Chat Session: %s", meta.Name),
		fmt.Sprintf("**Session ID:** %s", meta.SessionID),
		fmt.Sprintf("**Created:** %s", meta.CreatedAt.Format("2006-01-02T15:04:05Z07:00")),
		fmt.Sprintf("**Messages:** %d", len(data.Messages)),
		fmt.Sprintf("**Total Tokens:** %d", meta.TotalTokens),
		fmt.Sprintf("**Model:** %s", meta.ModelUsed),
		"",
		"---",
		"",
	}

	for i, msg := range data.Messages {
		lines = append(lines, fmt.Sprintf("## %s [%s]", roleLabel(msg.Role, true), msg.Timestamp.Format("15:04:05")))
		lines = append(lines, "")
		if msg.Role == types.RoleSystem {
			lines = append(lines, fmt.Sprintf("*System: %s*", msg.Content))
		} else {
			lines = append(lines, msg.Content)
		}
		if pinned[i] {
			lines = append(lines, "📌 *Pinned*")
		}
		lines = append(lines, "", "---", "")
	}

	return strings.Join(lines, "\n")
}

func renderText(data SessionExport) string {
	meta := data.Metadata
	pinned := pinnedSet(data.PinnedMessages)

	lines := []string{
		fmt.Sprintf("Chat Session: %s", meta.Name),
		fmt.Sprintf("Session ID: %s", meta.SessionID),
		fmt.Sprintf("Created: %s", meta.CreatedAt.Format("2006-01-02T15:04:05Z07:00")),
		fmt.Sprintf("Messages: %d", len(data.Messages)),
		fmt.Sprintf("Total Tokens: %d", meta.TotalTokens),
		fmt.Sprintf("Model: %s", meta.ModelUsed),
		"",
		strings.Repeat("=", 80),
		"",
	}

	for i, msg := range data.Messages {
		lines = append(lines, fmt.Sprintf("[%s] %s:", msg.Timestamp.Format("15:04:05"), roleLabel(msg.Role, false)))
		lines = append(lines, msg.Content)
		if pinned[i] {
			lines = append(lines, "(Pinned)")
		}
		lines = append(lines, "", strings.Repeat("-", 40), "")
	}

	return strings.Join(lines, "\n")
}

func pinnedSet(positions []int) map[int]bool {
	set := make(map[int]bool, len(positions))
	for _, p := range positions {
		set[p] = true
	}
	return set
}
