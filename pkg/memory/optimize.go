package memory

import (
	"fmt"
	"sort"

	"github.com/shenning00/claude-lang-chat/pkg/types"
)

// OptimizeResult reports what a memory optimization pass did.
type OptimizeResult struct {
	// Optimized is true when the ledger was rewritten.
	Optimized bool `json:"optimized"`

	// Reason explains a skipped optimization.
	Reason string `json:"reason,omitempty"`

	// OldCount and NewCount are the ledger sizes before and after.
	OldCount int `json:"old_count,omitempty"`
	NewCount int `json:"new_count,omitempty"`

	// TokensSaved is the estimated token count reclaimed by replacing the
	// discarded messages with the compressed summary marker.
	TokensSaved int `json:"tokens_saved,omitempty"`

	// SummaryCreated is true when a summary message was synthesized.
	SummaryCreated bool `json:"summary_created,omitempty"`

	// MessageCount is the ledger size when nothing was optimized.
	MessageCount int `json:"message_count,omitempty"`
}

// Optimize bounds a session's ledger to the configured message ceiling.
// When the ledger exceeds the ceiling, the oldest messages are replaced by
// a single system-role summary marker; pinned messages in the evicted
// prefix are rescued in ledger order. The pinned-position set is cleared
// after any rewrite — indices shift and are not remapped, so callers must
// re-pin. An empty sessionID targets the current session; ok is false for
// an unknown session.
func (m *Manager) Optimize(sessionID string) (OptimizeResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessionID == "" {
		sessionID = m.currentID
	}
	session, ok := m.sessions[sessionID]
	if !ok {
		return OptimizeResult{}, false
	}

	limit := m.settings.MaxMemoryMessages
	if len(session.messages) <= limit {
		return OptimizeResult{
			Optimized:    false,
			Reason:       "session within memory limits",
			MessageCount: len(session.messages),
		}, true
	}

	keep := limit / 2
	boundary := len(session.messages) - keep
	recent := session.messages[boundary:]

	pinnedSet := make(map[int]bool, len(session.pinned))
	rescuedIdx := make([]int, 0, len(session.pinned))
	for _, idx := range session.pinned {
		if idx < boundary {
			pinnedSet[idx] = true
			rescuedIdx = append(rescuedIdx, idx)
		}
	}
	sort.Ints(rescuedIdx)

	rescued := make([]*types.Message, 0, len(rescuedIdx))
	for _, idx := range rescuedIdx {
		rescued = append(rescued, session.messages[idx])
	}

	var discarded []*types.Message
	for i, msg := range session.messages[:boundary] {
		if !pinnedSet[i] {
			discarded = append(discarded, msg)
		}
	}

	if len(discarded) == 0 {
		// Everything old is pinned; there is nothing to evict.
		return OptimizeResult{
			Optimized:    false,
			Reason:       "no optimization possible",
			MessageCount: len(session.messages),
		}, true
	}

	discardedTokens := 0
	for _, msg := range discarded {
		discardedTokens += msg.Tokens
	}

	summary := &types.Message{
		Role:      types.RoleSystem,
		Content:   fmt.Sprintf("[Previous conversation summary: %d messages exchanged]", len(discarded)),
		Timestamp: discarded[0].Timestamp,
		Tokens:    discardedTokens / 10, // lossy compression marker, not real summarization
		Metadata: map[string]interface{}{
			"type":           "summary",
			"original_count": len(discarded),
		},
	}

	oldCount := len(session.messages)
	rebuilt := make([]*types.Message, 0, 1+len(rescued)+len(recent))
	rebuilt = append(rebuilt, summary)
	rebuilt = append(rebuilt, rescued...)
	rebuilt = append(rebuilt, recent...)

	totalTokens := 0
	for _, msg := range rebuilt {
		totalTokens += msg.Tokens
	}

	session.messages = rebuilt
	session.metadata.MessageCount = len(rebuilt)
	session.metadata.TotalTokens = totalTokens

	// Positions shifted; pinned indices are invalidated wholesale rather
	// than remapped, including for rescued messages still present.
	session.pinned = nil

	m.logger.Infof("Optimized session %s: %d -> %d messages", sessionID, oldCount, len(rebuilt))

	return OptimizeResult{
		Optimized:      true,
		OldCount:       oldCount,
		NewCount:       len(rebuilt),
		TokensSaved:    discardedTokens - discardedTokens/10,
		SummaryCreated: true,
	}, true
}
