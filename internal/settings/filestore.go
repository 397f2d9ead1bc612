package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const defaultFilePath = "~/.config/breezebar/settings.toml"

// DefaultPath returns the default settings file path.
func DefaultPath() string {
	return defaultFilePath
}

// FileStore persists settings as a TOML file. The file is created on first
// Save with 0600 permissions since it carries the API token.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by the given path. An empty path uses
// DefaultPath.
func NewFileStore(path string) *FileStore {
	if strings.TrimSpace(path) == "" {
		path = defaultFilePath
	}
	return &FileStore{path: path}
}

// Load reads settings from disk. A missing file yields Defaults() and
// ErrNotFound; a corrupt file is an error so a bad token is not silently
// discarded.
func (s *FileStore) Load() (Settings, error) {
	resolved, err := expandPath(s.path)
	if err != nil {
		return Defaults(), fmt.Errorf("resolve settings path: %w", err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Defaults(), ErrNotFound
		}
		return Defaults(), fmt.Errorf("read settings: %w", err)
	}

	loaded := Defaults()
	if err := toml.Unmarshal(data, &loaded); err != nil {
		return Defaults(), fmt.Errorf("parse settings: %w", err)
	}

	if !ValidInterval(loaded.IntervalSeconds) {
		loaded.IntervalSeconds = DefaultIntervalSeconds
	}

	return loaded, nil
}

// Save writes settings to disk, creating parent directories as needed.
func (s *FileStore) Save(settings Settings) error {
	resolved, err := expandPath(s.path)
	if err != nil {
		return fmt.Errorf("resolve settings path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	data, err := toml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(resolved, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
