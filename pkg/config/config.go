// Package config provides the settings value object injected into the
// session store and the backup engine. Settings come from defaults, an
// optional YAML file, and environment variable overrides, in that order.
// There is deliberately no process-wide singleton: each component receives
// the Settings it was constructed with, so tests can vary them per instance.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds every tunable the session store and backup engine read.
type Settings struct {
	// Model is the model identifier stamped onto new sessions.
	Model string `yaml:"model"`

	// MaxTokens is the model's response token budget. Half of it bounds
	// the recent-context window handed back to the model.
	MaxTokens int `yaml:"max_tokens"`

	// MaxMemoryMessages is the per-session message-count ceiling that
	// triggers memory optimization.
	MaxMemoryMessages int `yaml:"max_memory_messages"`

	// AutoSaveIntervalSecs is the autosave cadence in seconds.
	AutoSaveIntervalSecs int `yaml:"auto_save_interval"`

	// BackupDir is where snapshots are written. Empty selects
	// ~/.chat_client/backups.
	BackupDir string `yaml:"backup_dir"`

	// MaxBackups is the retained snapshot ceiling enforced by rotation.
	MaxBackups int `yaml:"max_backups"`

	// Compression enables the gzip snapshot variant.
	Compression bool `yaml:"compression"`
}

// Default returns the settings used when no file or environment overrides
// are present.
func Default() Settings {
	return Settings{
		Model:                "claude-3-7-sonnet-latest",
		MaxTokens:            4000,
		MaxMemoryMessages:    50,
		AutoSaveIntervalSecs: 300,
		MaxBackups:           10,
		Compression:          true,
	}
}

// DefaultPath returns the default settings file location,
// ~/.chat_client/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".chat_client", "config.yaml"), nil
}

// Load reads settings from a YAML file layered over the defaults. A missing
// file is not an error: the defaults are returned unchanged.
func Load(path string) (Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &s); err != nil {
		return Default(), fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return s, s.Validate()
}

// Save writes the settings to a YAML file via a temporary file and rename so
// a crash never leaves a half-written config behind.
func (s Settings) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides settings from environment variables and returns the
// result. Unset or malformed values leave the existing setting in place.
func (s Settings) ApplyEnv() Settings {
	if v := os.Getenv("CLAUDE_MODEL"); v != "" {
		s.Model = v
	}
	if v, ok := envInt("MAX_TOKENS"); ok {
		s.MaxTokens = v
	}
	if v, ok := envInt("MAX_MEMORY_MESSAGES"); ok {
		s.MaxMemoryMessages = v
	}
	if v, ok := envInt("AUTO_SAVE_INTERVAL"); ok {
		s.AutoSaveIntervalSecs = v
	}
	if v := os.Getenv("BACKUP_DIR"); v != "" {
		s.BackupDir = v
	}
	if v, ok := envInt("MAX_BACKUPS"); ok {
		s.MaxBackups = v
	}
	if v := os.Getenv("BACKUP_COMPRESSION"); v != "" {
		s.Compression = strings.EqualFold(v, "true")
	}
	return s
}

// FromEnv returns the defaults with environment overrides applied.
func FromEnv() Settings {
	return Default().ApplyEnv()
}

// AutoSaveInterval returns the autosave cadence as a duration.
func (s Settings) AutoSaveInterval() time.Duration {
	return time.Duration(s.AutoSaveIntervalSecs) * time.Second
}

// Validate reports settings no component can operate with.
func (s Settings) Validate() error {
	if s.MaxMemoryMessages < 2 {
		return fmt.Errorf("max_memory_messages must be at least 2, got %d", s.MaxMemoryMessages)
	}
	if s.AutoSaveIntervalSecs <= 0 {
		return fmt.Errorf("auto_save_interval must be positive, got %d", s.AutoSaveIntervalSecs)
	}
	if s.MaxBackups < 1 {
		return fmt.Errorf("max_backups must be at least 1, got %d", s.MaxBackups)
	}
	return nil
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
