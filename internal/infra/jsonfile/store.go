// Package jsonfile persists the player snapshot as a single JSON document,
// the same shape a browser client keeps in local storage.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fog-of-explore/explore/internal/domain"
)

// Store reads and writes one snapshot file.
type Store struct {
	path string
}

// New creates a store for the file at path.
func New(path string) *Store { return &Store{path: path} }

// Path returns the snapshot file path.
func (s *Store) Path() string { return s.path }

// Load returns the stored state. A missing file yields nil; a malformed one is
// reported as domain.ErrCorruptState.
func (s *Store) Load(_ context.Context) (*domain.PlayerState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "jsonfile: read")
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		zap.L().Warn("jsonfile: malformed snapshot", zap.String("path", s.path), zap.Error(err))
		return nil, eris.Wrap(domain.ErrCorruptState, "jsonfile: decode snapshot")
	}
	st := snap.State()
	st.Level = snap.UserLevel
	return &st, nil
}

// Save writes the snapshot atomically: a temp file in the same directory is
// renamed over the target.
func (s *Store) Save(_ context.Context, state domain.PlayerState) error {
	data, err := json.Marshal(state.ToSnapshot())
	if err != nil {
		return eris.Wrap(err, "jsonfile: encode snapshot")
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "jsonfile: create dir")
	}
	tmp, err := os.CreateTemp(dir, ".explore-*.json")
	if err != nil {
		return eris.Wrap(err, "jsonfile: create temp")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return eris.Wrap(err, "jsonfile: write temp")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "jsonfile: close temp")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return eris.Wrap(err, "jsonfile: rename")
	}
	return nil
}

// Reset removes the snapshot file.
func (s *Store) Reset(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrap(err, "jsonfile: remove")
	}
	return nil
}
