package persistence

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shenning00/claude-lang-chat/pkg/config"
	"github.com/shenning00/claude-lang-chat/pkg/memory"
	"github.com/shenning00/claude-lang-chat/pkg/types"
)

func testStore(t *testing.T, compression bool, maxBackups int) *Persistence {
	t.Helper()

	settings := config.Default()
	settings.BackupDir = t.TempDir()
	settings.Compression = compression
	settings.MaxBackups = maxBackups

	p, err := New(settings)
	require.NoError(t, err)
	return p
}

func TestNewCreatesBackupDir(t *testing.T) {
	settings := config.Default()
	settings.BackupDir = filepath.Join(t.TempDir(), "nested", "backups")

	p, err := New(settings)
	require.NoError(t, err)

	info, err := os.Stat(p.BackupDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSaveSnapshotDefaultName(t *testing.T) {
	p := testStore(t, false, 10)

	path, err := p.SaveSnapshot(testExport(t), "")
	require.NoError(t, err)

	base := filepath.Base(path)
	assert.True(t, strings.HasPrefix(base, "session_backup_"), base)
	assert.True(t, strings.HasSuffix(base, plainSuffix), base)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestSaveLoadRoundTripPlain(t *testing.T) {
	p := testStore(t, false, 10)
	export := testExport(t)

	path, err := p.SaveSnapshot(export, "roundtrip")
	require.NoError(t, err)

	restored, err := p.LoadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, export.CurrentSessionID, restored.CurrentSessionID)
	require.Len(t, restored.Sessions, 2)

	work := restored.Sessions[findSession(t, restored, "Work")]
	assert.Equal(t, "Use the go keyword.", work.Messages[1].Content)
	assert.Equal(t, types.RoleAssistant, work.Messages[1].Role)
	assert.Equal(t, []int{0}, work.PinnedMessages)
}

func TestSaveLoadRoundTripCompressed(t *testing.T) {
	p := testStore(t, true, 10)
	export := testExport(t)

	path, err := p.SaveSnapshot(export, "roundtrip")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, compressedSuffix), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(raw), 2)
	assert.Equal(t, []byte{0x1f, 0x8b}, raw[:2], "gzip magic bytes")

	restored, err := p.LoadSnapshot(path)
	require.NoError(t, err)
	assert.Len(t, restored.Sessions, 2)
}

func TestLoadSnapshotByFilename(t *testing.T) {
	p := testStore(t, false, 10)

	_, err := p.SaveSnapshot(testExport(t), "named")
	require.NoError(t, err)

	restored, err := p.LoadSnapshot("named" + plainSuffix)
	require.NoError(t, err)
	assert.Len(t, restored.Sessions, 2)
}

func TestLoadSnapshotMissing(t *testing.T) {
	p := testStore(t, false, 10)

	_, err := p.LoadSnapshot("no_such_backup")
	assert.ErrorIs(t, err, ErrBackupNotFound)
}

func TestLoadSnapshotChecksumMismatchIsLenient(t *testing.T) {
	p := testStore(t, false, 10)

	path, err := p.SaveSnapshot(testExport(t), "tampered")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data = []byte(strings.Replace(string(data), "buy milk", "buy eggs", 1))
	require.NoError(t, os.WriteFile(path, data, 0600))

	restored, err := p.LoadSnapshot(path)
	require.NoError(t, err, "corrupted backups stay recoverable")
	assert.Len(t, restored.Sessions, 2)
}

// Deleting a session in memory must not touch backups already on disk.
func TestBackupSurvivesInMemoryDeletion(t *testing.T) {
	p := testStore(t, true, 10)

	m := memory.NewManager(config.Default())
	first := m.CreateSession("First", "")
	m.AddMessage(types.RoleUser, "hello from first", 4, nil)
	m.CreateSession("Second", "")
	m.AddMessage(types.RoleUser, "hello from second", 4, nil)

	path, err := p.SaveSnapshot(m.Snapshot(), "two_sessions")
	require.NoError(t, err)

	require.True(t, m.DeleteSession(first))
	assert.Equal(t, 1, m.SessionCount())

	fresh := memory.NewManager(config.Default())
	restored, err := p.LoadSnapshot(path)
	require.NoError(t, err)
	require.NoError(t, fresh.Restore(restored))

	assert.Equal(t, 2, fresh.SessionCount())
	snap := fresh.Snapshot()
	assert.Equal(t, "hello from first", snap.Sessions[first].Messages[0].Content)
}

func TestListBackups(t *testing.T) {
	p := testStore(t, false, 10)
	export := testExport(t)

	for _, name := range []string{"oldest", "middle", "newest"} {
		_, err := p.SaveSnapshot(export, name)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	backups := p.ListBackups()
	require.Len(t, backups, 3)
	assert.Equal(t, "newest"+plainSuffix, backups[0].Filename)
	assert.Equal(t, "middle"+plainSuffix, backups[1].Filename)
	assert.Equal(t, "oldest"+plainSuffix, backups[2].Filename)

	for _, b := range backups {
		assert.Equal(t, 2, b.SessionCount)
		assert.Equal(t, 3, b.TotalMessages)
		assert.Equal(t, "full", b.BackupType)
		assert.False(t, b.Compressed)
		assert.Greater(t, b.FileSize, int64(0))
		assert.Equal(t, filepath.Join(p.BackupDir(), b.Filename), b.FullPath)
	}
}

func TestListBackupsSkipsForeignFiles(t *testing.T) {
	p := testStore(t, false, 10)

	_, err := p.SaveSnapshot(testExport(t), "real")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(p.BackupDir(), "notes.txt"), []byte("n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(p.BackupDir(), "broken"+plainSuffix), []byte("{"), 0600))

	backups := p.ListBackups()
	require.Len(t, backups, 1)
	assert.Equal(t, "real"+plainSuffix, backups[0].Filename)
}

// A snapshot whose metadata block sits beyond the bounded prefix read must
// still be listed via the full-decode fallback.
func TestListBackupsMetadataFallback(t *testing.T) {
	p := testStore(t, false, 10)

	padding := strings.Repeat("x", 2*metadataPrefixLen)
	doc := fmt.Sprintf(`{
  "current_session_id": "s1",
  "sessions": {
    "s1": {
      "metadata": {"session_id": "s1", "name": "%s"},
      "messages": [],
      "pinned_messages": []
    }
  },
  "format_version": "1.0",
  "created_by": "Claude Chat Client",
  "metadata": {
    "version": "1.0",
    "created_at": "2026-08-26T10:00:00Z",
    "session_count": 1,
    "total_messages": 0,
    "total_tokens": 0,
    "backup_type": "full",
    "compression": false,
    "checksum": ""
  }
}`, padding)
	require.NoError(t, os.WriteFile(filepath.Join(p.BackupDir(), "reordered"+plainSuffix), []byte(doc), 0600))

	backups := p.ListBackups()
	require.Len(t, backups, 1)
	assert.Equal(t, 1, backups[0].SessionCount)
	assert.Equal(t, "full", backups[0].BackupType)
}

func TestDeleteBackup(t *testing.T) {
	p := testStore(t, false, 10)

	path, err := p.SaveSnapshot(testExport(t), "doomed")
	require.NoError(t, err)

	assert.True(t, p.DeleteBackup("doomed"+plainSuffix))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	assert.False(t, p.DeleteBackup("doomed"+plainSuffix))
}

func TestCleanupOldBackups(t *testing.T) {
	p := testStore(t, false, 10)
	export := testExport(t)

	for i := 1; i <= 15; i++ {
		_, err := p.SaveSnapshot(export, fmt.Sprintf("b%02d", i))
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	deleted := p.CleanupOldBackups()
	assert.Equal(t, 5, deleted)

	backups := p.ListBackups()
	require.Len(t, backups, 10)
	assert.Equal(t, "b15"+plainSuffix, backups[0].Filename)
	assert.Equal(t, "b06"+plainSuffix, backups[9].Filename)
}

func TestCleanupOldBackupsUnderLimit(t *testing.T) {
	p := testStore(t, false, 10)

	_, err := p.SaveSnapshot(testExport(t), "only")
	require.NoError(t, err)

	assert.Equal(t, 0, p.CleanupOldBackups())
	assert.Len(t, p.ListBackups(), 1)
}
