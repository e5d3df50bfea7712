package memory

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shenning00/claude-lang-chat/pkg/config"
	"github.com/shenning00/claude-lang-chat/pkg/types"
)

// fillSession appends count alternating user/assistant messages, each
// costing tokens.
func fillSession(m *Manager, count, tokens int) {
	for i := 0; i < count; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		m.AddMessage(role, fmt.Sprintf("Message %d", i), tokens, nil)
	}
}

func optimizeManager(t *testing.T, ceiling int) *Manager {
	t.Helper()
	settings := config.Default()
	settings.MaxMemoryMessages = ceiling
	return NewManager(settings)
}

func TestOptimizeUnderCeiling(t *testing.T) {
	m := optimizeManager(t, 50)
	m.CreateSession("Test", "")
	fillSession(m, 10, 5)

	result, ok := m.Optimize("")
	require.True(t, ok)
	assert.False(t, result.Optimized)
	assert.Equal(t, "session within memory limits", result.Reason)
	assert.Equal(t, 10, result.MessageCount)
}

func TestOptimizeUnknownSession(t *testing.T) {
	m := optimizeManager(t, 50)
	_, ok := m.Optimize("missing")
	assert.False(t, ok)

	// Empty store: no current session to target either.
	_, ok = m.Optimize("")
	assert.False(t, ok)
}

func TestOptimizeEviction(t *testing.T) {
	// Ceiling 50, 120 messages, none pinned:
	// keep = 25 recent, 95 discarded, 1 summary -> 26 messages.
	m := optimizeManager(t, 50)
	m.CreateSession("Test", "")
	fillSession(m, 120, 10)

	result, ok := m.Optimize("")
	require.True(t, ok)
	assert.True(t, result.Optimized)
	assert.True(t, result.SummaryCreated)
	assert.Equal(t, 120, result.OldCount)
	assert.Equal(t, 26, result.NewCount)

	// 95 discarded messages at 10 tokens each compress to 950/10 = 95.
	assert.Equal(t, 950-95, result.TokensSaved)

	history := m.History(0, true)
	require.Len(t, history, 26)
	assert.Equal(t, types.RoleSystem, history[0].Role)
	assert.Equal(t, "[Previous conversation summary: 95 messages exchanged]", history[0].Content)
	assert.Equal(t, "Message 95", history[1].Content, "recent suffix follows the summary")
	assert.Equal(t, "Message 119", history[25].Content)

	assertInvariants(t, m)
}

func TestOptimizeSummaryMessage(t *testing.T) {
	m := optimizeManager(t, 4)
	m.CreateSession("Test", "")
	fillSession(m, 6, 20)

	snapBefore := m.Snapshot()
	var firstTimestamp = snapBefore.Sessions[m.CurrentSessionID()].Messages[0].Timestamp

	result, ok := m.Optimize("")
	require.True(t, ok)
	require.True(t, result.Optimized)

	snap := m.Snapshot()
	session := snap.Sessions[m.CurrentSessionID()]
	summary := session.Messages[0]

	assert.Equal(t, types.RoleSystem, summary.Role)
	assert.True(t, summary.Timestamp.Equal(firstTimestamp),
		"summary inherits the first discarded message's timestamp")
	// 4 discarded at 20 tokens -> 80/10 = 8.
	assert.Equal(t, 8, summary.Tokens)
	assert.Equal(t, "summary", summary.Metadata["type"])
	assert.Equal(t, 4, summary.Metadata["original_count"])
}

func TestOptimizeRescuesPinned(t *testing.T) {
	// Pin index 0 of a 120-message session: it is rescued into the new
	// ledger, but the pinned set is emptied afterwards.
	m := optimizeManager(t, 50)
	m.CreateSession("Test", "")
	fillSession(m, 120, 10)
	require.True(t, m.Pin(0))

	result, ok := m.Optimize("")
	require.True(t, ok)
	assert.True(t, result.Optimized)
	assert.Equal(t, 120, result.OldCount)
	assert.Equal(t, 27, result.NewCount, "1 summary + 1 rescued + 25 recent")

	history := m.History(0, true)
	assert.Equal(t, "Message 0", history[1].Content, "rescued message follows the summary")
	assert.Empty(t, m.Pinned(), "pinned positions are invalidated by the rewrite")

	// 94 discarded at 10 tokens.
	assert.Equal(t, 940-94, result.TokensSaved)
	assertInvariants(t, m)
}

func TestOptimizeRescueOrder(t *testing.T) {
	m := optimizeManager(t, 10)
	m.CreateSession("Test", "")
	fillSession(m, 20, 1)

	// Pin out of ledger order; rescue must restore ledger order.
	require.True(t, m.Pin(7))
	require.True(t, m.Pin(2))

	result, ok := m.Optimize("")
	require.True(t, ok)
	require.True(t, result.Optimized)

	history := m.History(0, true)
	assert.Equal(t, "Message 2", history[1].Content)
	assert.Equal(t, "Message 7", history[2].Content)
}

func TestOptimizeAllOldPinned(t *testing.T) {
	// With every old-prefix message pinned there is nothing to discard.
	m := optimizeManager(t, 2)
	m.CreateSession("Test", "")
	fillSession(m, 3, 5)
	require.True(t, m.Pin(0))
	require.True(t, m.Pin(1))

	result, ok := m.Optimize("")
	require.True(t, ok)
	assert.False(t, result.Optimized)
	assert.Equal(t, "no optimization possible", result.Reason)
	assert.Equal(t, 3, result.MessageCount)
	assert.Len(t, m.Pinned(), 2, "a skipped optimization must not touch the pinned set")
}

func TestOptimizeIdempotent(t *testing.T) {
	m := optimizeManager(t, 50)
	m.CreateSession("Test", "")
	fillSession(m, 120, 10)

	first, ok := m.Optimize("")
	require.True(t, ok)
	require.True(t, first.Optimized)

	before := m.History(0, true)
	second, ok := m.Optimize("")
	require.True(t, ok)
	assert.False(t, second.Optimized, "a bounded ledger must not be rewritten again")
	assert.Equal(t, before, m.History(0, true))
}

func TestOptimizeBySessionID(t *testing.T) {
	m := optimizeManager(t, 10)
	busy := m.CreateSession("Busy", "")
	fillSession(m, 20, 1)
	idle := m.CreateSession("Idle", "")

	require.True(t, m.SwitchSession(idle))
	result, ok := m.Optimize(busy)
	require.True(t, ok)
	assert.True(t, result.Optimized, "optimize targets the named session, not the current one")
}
