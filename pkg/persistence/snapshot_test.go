package persistence

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shenning00/claude-lang-chat/pkg/config"
	"github.com/shenning00/claude-lang-chat/pkg/memory"
	"github.com/shenning00/claude-lang-chat/pkg/types"
)

// testExport builds store state with two sessions, a pinned message, and
// known token counts.
func testExport(t *testing.T) memory.StoreExport {
	t.Helper()

	m := memory.NewManager(config.Default())
	m.CreateSession("Work", "claude-3-7-sonnet-latest")
	m.AddMessage(types.RoleUser, "How do I write a goroutine?", 7, nil)
	m.AddMessage(types.RoleAssistant, "Use the go keyword.", 5, nil)
	m.Pin(0)

	m.CreateSession("Personal", "")
	m.AddMessage(types.RoleUser, "Remind me to buy milk", 6, nil)

	return m.Snapshot()
}

func TestSnapshotRoundTrip(t *testing.T) {
	export := testExport(t)

	snap, err := newSnapshot(export, false)
	require.NoError(t, err)

	assert.Equal(t, formatVersion, snap.Metadata.Version)
	assert.Equal(t, formatVersion, snap.FormatVersion)
	assert.Equal(t, createdBy, snap.CreatedBy)
	assert.Equal(t, "full", snap.Metadata.BackupType)
	assert.Equal(t, 2, snap.Metadata.SessionCount)
	assert.Equal(t, 3, snap.Metadata.TotalMessages)
	assert.Equal(t, 18, snap.Metadata.TotalTokens)
	assert.False(t, snap.Metadata.Compression)
	assert.NotEmpty(t, snap.Metadata.Checksum)
	assert.WithinDuration(t, time.Now(), snap.Metadata.CreatedAt, time.Minute)

	data, err := snap.encode()
	require.NoError(t, err)

	decoded, intact, err := decodeSnapshot(data)
	require.NoError(t, err)
	assert.True(t, intact)

	restored := decoded.StoreExport()
	assert.Equal(t, export.CurrentSessionID, restored.CurrentSessionID)
	require.Len(t, restored.Sessions, 2)

	work := restored.Sessions[findSession(t, restored, "Work")]
	require.Len(t, work.Messages, 2)
	assert.Equal(t, types.RoleUser, work.Messages[0].Role)
	assert.Equal(t, "How do I write a goroutine?", work.Messages[0].Content)
	assert.Equal(t, 7, work.Messages[0].Tokens)
	assert.Equal(t, []int{0}, work.PinnedMessages)
}

func findSession(t *testing.T, export memory.StoreExport, name string) string {
	t.Helper()
	for id, session := range export.Sessions {
		if session.Metadata.Name == name {
			return id
		}
	}
	t.Fatalf("no session named %q", name)
	return ""
}

func TestSnapshotChecksumDeterministic(t *testing.T) {
	snap, err := newSnapshot(testExport(t), true)
	require.NoError(t, err)

	first, err := snap.computeChecksum()
	require.NoError(t, err)
	second, err := snap.computeChecksum()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, snap.Metadata.Checksum, first, "stamped checksum matches recomputation")
}

func TestSnapshotTamperDetection(t *testing.T) {
	snap, err := newSnapshot(testExport(t), false)
	require.NoError(t, err)
	data, err := snap.encode()
	require.NoError(t, err)

	tampered := bytes.Replace(data, []byte("buy milk"), []byte("buy eggs"), 1)
	require.NotEqual(t, data, tampered, "replacement must have applied")

	decoded, intact, err := decodeSnapshot(tampered)
	require.NoError(t, err, "a corrupted snapshot still decodes")
	assert.False(t, intact)
	assert.NotNil(t, decoded)
}

func TestSnapshotMissingChecksumIsIntact(t *testing.T) {
	snap, err := newSnapshot(testExport(t), false)
	require.NoError(t, err)
	snap.Metadata.Checksum = ""
	data, err := snap.encode()
	require.NoError(t, err)

	_, intact, err := decodeSnapshot(data)
	require.NoError(t, err)
	assert.True(t, intact, "no stored checksum means nothing to verify")
}

func TestDecodeSnapshotValidation(t *testing.T) {
	t.Run("not json", func(t *testing.T) {
		_, _, err := decodeSnapshot([]byte("not a snapshot"))
		assert.Error(t, err)
	})

	t.Run("missing version", func(t *testing.T) {
		_, _, err := decodeSnapshot([]byte(`{"metadata":{},"sessions":{}}`))
		assert.ErrorIs(t, err, ErrInvalidSnapshot)
	})

	t.Run("missing sessions", func(t *testing.T) {
		_, _, err := decodeSnapshot([]byte(`{"metadata":{"version":"1.0"}}`))
		assert.ErrorIs(t, err, ErrInvalidSnapshot)
	})

	t.Run("empty store is valid", func(t *testing.T) {
		snap, intact, err := decodeSnapshot([]byte(`{"metadata":{"version":"1.0"},"sessions":{}}`))
		require.NoError(t, err)
		assert.True(t, intact)
		assert.Empty(t, snap.Sessions)
	})
}
