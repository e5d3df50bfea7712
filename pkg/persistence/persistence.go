// Package persistence implements durable backups for the session store:
// a checksummed, optionally gzip-compressed snapshot codec, backup listing
// and rotation, and a background autosave scheduler.
package persistence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/shenning00/claude-lang-chat/pkg/config"
	"github.com/shenning00/claude-lang-chat/pkg/logging"
	"github.com/shenning00/claude-lang-chat/pkg/memory"
)

// ErrBackupNotFound reports a backup file that exists neither at the given
// path nor inside the backup directory.
var ErrBackupNotFound = errors.New("persistence: backup file not found")

const (
	plainSuffix      = ".backup.json"
	compressedSuffix = ".backup.gz"
)

// Persistence writes and reads snapshot files in a backup directory and
// enforces the retained-count ceiling.
type Persistence struct {
	backupDir   string
	compression bool
	maxBackups  int
	logger      *logging.Logger
}

// Option configures a Persistence.
type Option func(*Persistence)

// WithPersistenceLogger overrides the backup engine's logger.
func WithPersistenceLogger(l *logging.Logger) Option {
	return func(p *Persistence) { p.logger = l }
}

// New creates a Persistence rooted at the configured backup directory
// (default ~/.chat_client/backups), creating it if needed.
func New(settings config.Settings, opts ...Option) (*Persistence, error) {
	dir := settings.BackupDir
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".chat_client", "backups")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create backup directory %s: %w", dir, err)
	}

	p := &Persistence{
		backupDir:   dir,
		compression: settings.Compression,
		maxBackups:  settings.MaxBackups,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		logger, err := logging.NewLogger("persistence")
		if err != nil {
			logger.Warnf("File logging unavailable, using stderr: %v", err)
		}
		p.logger = logger
	}
	return p, nil
}

// BackupDir returns the directory snapshots are written to.
func (p *Persistence) BackupDir() string {
	return p.backupDir
}

// SaveSnapshot writes exported store state to a snapshot file and returns
// its path. An empty name derives one from the current timestamp
// (session_backup_YYYYMMDD_HHMMSS). The write is atomic: a temporary file
// is renamed into place.
func (p *Persistence) SaveSnapshot(export memory.StoreExport, name string) (string, error) {
	if name == "" {
		name = fmt.Sprintf("session_backup_%s", time.Now().Format("20060102_150405"))
	}

	snap, err := newSnapshot(export, p.compression)
	if err != nil {
		return "", err
	}
	data, err := snap.encode()
	if err != nil {
		return "", err
	}

	var path string
	if p.compression {
		path = filepath.Join(p.backupDir, name+compressedSuffix)
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(data); err != nil {
			return "", fmt.Errorf("failed to compress snapshot: %w", err)
		}
		if err := gz.Close(); err != nil {
			return "", fmt.Errorf("failed to finalize compressed snapshot: %w", err)
		}
		data = buf.Bytes()
	} else {
		path = filepath.Join(p.backupDir, name+plainSuffix)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to replace snapshot %s: %w", path, err)
	}

	p.logger.Infof("Saved %d sessions to %s", len(export.Sessions), path)
	return path, nil
}

// LoadSnapshot reads a snapshot file and returns the store state it holds.
// The file is looked up first at the given path, then inside the backup
// directory. A checksum mismatch logs an integrity warning but does not
// block recovery.
func (p *Persistence) LoadSnapshot(file string) (memory.StoreExport, error) {
	path, err := p.resolve(file)
	if err != nil {
		return memory.StoreExport{}, err
	}

	data, err := p.readFile(path)
	if err != nil {
		return memory.StoreExport{}, err
	}

	snap, intact, err := decodeSnapshot(data)
	if err != nil {
		p.logger.Errorf("Failed to read backup file %s: %v", path, err)
		return memory.StoreExport{}, err
	}
	if !intact {
		p.logger.Warnf("Checksum mismatch in backup file %s", path)
	}

	p.logger.Infof("Loaded %d sessions from %s", len(snap.Sessions), path)
	return snap.StoreExport(), nil
}

// resolve maps a backup reference to an existing file path.
func (p *Persistence) resolve(file string) (string, error) {
	if _, err := os.Stat(file); err == nil {
		return file, nil
	}
	inDir := filepath.Join(p.backupDir, file)
	if _, err := os.Stat(inDir); err == nil {
		return inDir, nil
	}
	return "", fmt.Errorf("%w: %s", ErrBackupNotFound, file)
}

// readFile reads a snapshot file, transparently decompressing .gz files.
func (p *Persistence) readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !strings.HasSuffix(path, ".gz") {
		return data, nil
	}

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open compressed snapshot %s: %w", path, err)
	}
	defer gz.Close()

	decompressed, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress snapshot %s: %w", path, err)
	}
	return decompressed, nil
}

// BackupInfo is one entry in a backup listing.
type BackupInfo struct {
	Filename      string    `json:"filename"`
	FullPath      string    `json:"full_path"`
	CreatedAt     time.Time `json:"created_at"`
	SessionCount  int       `json:"session_count"`
	TotalMessages int       `json:"total_messages"`
	FileSize      int64     `json:"file_size"`
	BackupType    string    `json:"backup_type"`
	Compressed    bool      `json:"compressed"`
}

// ListBackups enumerates the backup directory, newest first. Files whose
// metadata cannot be read are logged and skipped.
func (p *Persistence) ListBackups() []BackupInfo {
	entries, err := os.ReadDir(p.backupDir)
	if err != nil {
		p.logger.Errorf("Failed to list backup directory %s: %v", p.backupDir, err)
		return nil
	}

	var backups []BackupInfo
	for _, entry := range entries {
		if entry.IsDir() || !isBackupFile(entry.Name()) {
			continue
		}
		path := filepath.Join(p.backupDir, entry.Name())

		meta, err := p.readMetadata(path)
		if err != nil {
			p.logger.Warnf("Could not read backup metadata for %s: %v", path, err)
			continue
		}
		info, err := entry.Info()
		if err != nil {
			p.logger.Warnf("Could not stat backup file %s: %v", path, err)
			continue
		}

		backups = append(backups, BackupInfo{
			Filename:      entry.Name(),
			FullPath:      path,
			CreatedAt:     meta.CreatedAt,
			SessionCount:  meta.SessionCount,
			TotalMessages: meta.TotalMessages,
			FileSize:      info.Size(),
			BackupType:    meta.BackupType,
			Compressed:    meta.Compression,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].CreatedAt.After(backups[j].CreatedAt)
		}
		return backups[i].Filename < backups[j].Filename
	})
	return backups
}

func isBackupFile(name string) bool {
	return strings.HasSuffix(name, plainSuffix) || strings.HasSuffix(name, compressedSuffix)
}

// metadataPrefixLen bounds how much of a snapshot the metadata fast path
// reads. The metadata block is the first field of the document, so this is
// plenty.
const metadataPrefixLen = 1024

var metadataPattern = regexp.MustCompile(`"metadata":\s*(\{[^}]*\})`)

// readMetadata parses just the snapshot header without materializing the
// full document. It reads a bounded prefix and extracts the metadata block;
// on any parse failure it falls back to a full decode.
func (p *Persistence) readMetadata(path string) (BackupMeta, error) {
	prefix, err := p.readPrefix(path, metadataPrefixLen)
	if err == nil {
		if match := metadataPattern.FindSubmatch(prefix); match != nil {
			var meta BackupMeta
			if jsonErr := json.Unmarshal(match[1], &meta); jsonErr == nil {
				return meta, nil
			}
		}
	}

	// Fast path failed; fall back to a full decode.
	data, err := p.readFile(path)
	if err != nil {
		return BackupMeta{}, err
	}
	snap, _, err := decodeSnapshot(data)
	if err != nil {
		return BackupMeta{}, err
	}
	return snap.Metadata, nil
}

// readPrefix reads up to n decompressed bytes from the start of a file.
func (p *Persistence) readPrefix(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}

	buf := make([]byte, n)
	read, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:read], nil
}

// DeleteBackup removes a backup file. Returns false when the file does not
// exist or cannot be deleted.
func (p *Persistence) DeleteBackup(file string) bool {
	path, err := p.resolve(file)
	if err != nil {
		p.logger.Errorf("Failed to delete backup %s: %v", file, err)
		return false
	}
	if err := os.Remove(path); err != nil {
		p.logger.Errorf("Failed to delete backup %s: %v", path, err)
		return false
	}
	p.logger.Infof("Deleted backup: %s", path)
	return true
}

// CleanupOldBackups deletes every backup beyond the configured retained
// count, oldest first, and returns how many were deleted. Individual
// deletion failures are logged and do not abort the rest.
func (p *Persistence) CleanupOldBackups() int {
	backups := p.ListBackups()
	if len(backups) <= p.maxBackups {
		return 0
	}

	deleted := 0
	for _, backup := range backups[p.maxBackups:] {
		if p.DeleteBackup(backup.FullPath) {
			deleted++
		}
	}
	p.logger.Infof("Cleaned up %d old backup files", deleted)
	return deleted
}
