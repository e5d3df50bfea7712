package persistence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shenning00/claude-lang-chat/pkg/memory"
)

// ErrInvalidSnapshot reports a snapshot document missing required fields.
var ErrInvalidSnapshot = errors.New("persistence: invalid snapshot")

// formatVersion tags the snapshot wire format.
const formatVersion = "1.0"

// createdBy identifies the producing application in snapshot files.
const createdBy = "Claude Chat Client"

// BackupMeta is the snapshot header used for fast listing.
type BackupMeta struct {
	Version       string    `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	SessionCount  int       `json:"session_count"`
	TotalMessages int       `json:"total_messages"`
	TotalTokens   int       `json:"total_tokens"`
	BackupType    string    `json:"backup_type"`
	Compression   bool      `json:"compression"`
	Checksum      string    `json:"checksum"`
}

// Snapshot is the self-describing, checksummed capture of the whole store.
//
// The checksum is a hex SHA-256 over the compact JSON encoding of the
// document with the checksum field blanked. encoding/json emits struct
// fields in declaration order and sorts map keys, so encode and decode
// recompute over identical canonical bytes; the field order below is part
// of the wire format contract.
type Snapshot struct {
	Metadata         BackupMeta                      `json:"metadata"`
	CurrentSessionID string                          `json:"current_session_id"`
	Sessions         map[string]memory.SessionExport `json:"sessions"`
	FormatVersion    string                          `json:"format_version"`
	CreatedBy        string                          `json:"created_by"`
}

// newSnapshot builds a snapshot document from exported store state and
// stamps its checksum.
func newSnapshot(export memory.StoreExport, compression bool) (*Snapshot, error) {
	totalMessages := 0
	totalTokens := 0
	for _, session := range export.Sessions {
		totalMessages += len(session.Messages)
		totalTokens += session.Metadata.TotalTokens
	}

	snap := &Snapshot{
		Metadata: BackupMeta{
			Version:       formatVersion,
			CreatedAt:     time.Now().UTC(),
			SessionCount:  len(export.Sessions),
			TotalMessages: totalMessages,
			TotalTokens:   totalTokens,
			BackupType:    "full",
			Compression:   compression,
		},
		CurrentSessionID: export.CurrentSessionID,
		Sessions:         export.Sessions,
		FormatVersion:    formatVersion,
		CreatedBy:        createdBy,
	}

	sum, err := snap.computeChecksum()
	if err != nil {
		return nil, err
	}
	snap.Metadata.Checksum = sum
	return snap, nil
}

// computeChecksum returns the checksum of the canonical (checksum-blanked)
// form. The receiver's stored checksum is preserved.
func (s *Snapshot) computeChecksum() (string, error) {
	stored := s.Metadata.Checksum
	s.Metadata.Checksum = ""
	data, err := json.Marshal(s)
	s.Metadata.Checksum = stored
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize snapshot: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// encode serializes the snapshot to its on-disk JSON rendering.
func (s *Snapshot) encode() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// decodeSnapshot parses and validates snapshot bytes. It returns the parsed
// document together with whether the stored checksum matched the recomputed
// one; a mismatch is deliberately non-fatal so corrupted backups remain
// recoverable.
func decodeSnapshot(data []byte) (*Snapshot, bool, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("failed to parse snapshot: %w", err)
	}

	if snap.Metadata.Version == "" {
		return nil, false, fmt.Errorf("%w: missing metadata version", ErrInvalidSnapshot)
	}
	if snap.Sessions == nil {
		return nil, false, fmt.Errorf("%w: missing sessions", ErrInvalidSnapshot)
	}

	intact := true
	if snap.Metadata.Checksum != "" {
		recomputed, err := snap.computeChecksum()
		if err != nil {
			return nil, false, err
		}
		intact = recomputed == snap.Metadata.Checksum
	}
	return &snap, intact, nil
}

// StoreExport converts the snapshot back to importable store state.
func (s *Snapshot) StoreExport() memory.StoreExport {
	return memory.StoreExport{
		Sessions:         s.Sessions,
		CurrentSessionID: s.CurrentSessionID,
	}
}
