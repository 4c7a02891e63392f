// Package facts persists the restart-needed marker consumed by post-run
// tasks.
package facts

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/moby/sys/atomicwriter"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/melih/harbormaster/internal/core/domain"
	"github.com/melih/harbormaster/internal/core/ports"
	"github.com/melih/harbormaster/internal/logging"
)

var _ ports.FactStore = (*Store)(nil)

// Store keeps the fact as a JSON document at a fixed path.
type Store struct {
	path   string
	mode   os.FileMode
	logger *zap.Logger
}

func NewStore(path string, mode os.FileMode) *Store {
	if mode == 0 {
		mode = 0o644
	}
	return &Store{path: path, mode: mode, logger: logging.ComponentLogger("facts")}
}

func (s *Store) Path() string { return s.path }

// Write replaces the fact file atomically, creating its directory.
func (s *Store) Write(_ context.Context, fact domain.Fact) error {
	data, err := json.MarshalIndent(fact, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode fact")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(s.path))
	}
	if err := atomicwriter.WriteFile(s.path, append(data, '\n'), s.mode); err != nil {
		return errors.Wrapf(err, "failed to write fact %s", s.path)
	}
	s.logger.Debug("fact written", zap.String("path", s.path), zap.Int("containers", len(fact.Containers)))
	return nil
}

func (s *Store) Clean(context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove fact %s", s.path)
	}
	return nil
}

// Read returns the current fact. ok is false when no fact exists.
func (s *Store) Read(context.Context) (fact domain.Fact, ok bool, err error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return fact, false, nil
	}
	if err != nil {
		return fact, false, errors.Wrapf(err, "failed to read fact %s", s.path)
	}
	if err := json.Unmarshal(data, &fact); err != nil {
		return fact, false, errors.Wrapf(err, "malformed fact %s", s.path)
	}
	return fact, true, nil
}
