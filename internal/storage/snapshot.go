// Package storage persists the token sequence as a single JSON snapshot file.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/dkeye/tabletop/internal/domain"
)

// SnapshotFile overwrites path wholesale on every Save. It writes a sibling
// temp file first and renames it into place so a crash never leaves half a file.
type SnapshotFile struct {
	fs   afero.Fs
	path string
}

func NewSnapshotFile(fs afero.Fs, path string) *SnapshotFile {
	return &SnapshotFile{fs: fs, path: path}
}

func (s *SnapshotFile) Path() string { return s.path }

// Load reads the snapshot. A missing or unreadable file yields an empty
// sequence: the hub starts fresh rather than refusing to start.
func (s *SnapshotFile) Load() []domain.Token {
	b, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("module", "storage").Str("path", s.path).Msg("snapshot unreadable, starting empty")
		}
		return []domain.Token{}
	}
	var tokens []domain.Token
	if err := json.Unmarshal(b, &tokens); err != nil {
		log.Warn().Err(err).Str("module", "storage").Str("path", s.path).Msg("snapshot corrupt, starting empty")
		return []domain.Token{}
	}
	if tokens == nil {
		tokens = []domain.Token{}
	}
	log.Info().Str("module", "storage").Str("path", s.path).Int("tokens", len(tokens)).Msg("snapshot loaded")
	return tokens
}

func (s *SnapshotFile) Save(tokens []domain.Token) error {
	if tokens == nil {
		tokens = []domain.Token{}
	}
	b, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, b, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
