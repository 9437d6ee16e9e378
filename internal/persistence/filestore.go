// Package persistence implements dispatch.PersistenceSink as a directory
// of one JSON file per round, written with the temp-file-plus-rename
// pattern so a crash mid-write never corrupts a snapshot (spec §4.5).
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/taskrelay/dispatchd/internal/dispatch"
	logpkg "github.com/taskrelay/dispatchd/internal/log"
	"github.com/taskrelay/dispatchd/internal/metrics"
)

// FileStore persists round snapshots as "<roundID>.json" under dir.
type FileStore struct {
	dir    string
	logger logpkg.Logger
}

// NewFileStore creates a FileStore rooted at dir, creating it (and any
// parents) if necessary.
func NewFileStore(dir string, logger logpkg.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("persistence: create directory %q: %w", dir, err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) path(roundID string) string {
	return filepath.Join(s.dir, roundID+".json")
}

// Read returns nil, nil when no snapshot has ever been written for roundID.
func (s *FileStore) Read(_ context.Context, roundID string) (*dispatch.RoundSnapshot, error) {
	data, err := os.ReadFile(s.path(roundID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: read %q: %w", roundID, err)
	}
	var snap dispatch.RoundSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("persistence: unmarshal %q: %w", roundID, err)
	}
	return &snap, nil
}

// Write atomically replaces the on-disk snapshot for roundID. A unique
// per-call temp file in the same directory keeps the final os.Rename a
// same-filesystem, same-directory move, which POSIX guarantees is atomic.
func (s *FileStore) Write(_ context.Context, roundID string, snap dispatch.RoundSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		metrics.PersistenceErrorsTotal.WithLabelValues("marshal").Inc()
		return fmt.Errorf("persistence: marshal %q: %w", roundID, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+roundID+".*.tmp")
	if err != nil {
		metrics.PersistenceErrorsTotal.WithLabelValues("create_temp").Inc()
		return fmt.Errorf("persistence: create temp file for %q: %w", roundID, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		metrics.PersistenceErrorsTotal.WithLabelValues("write").Inc()
		return fmt.Errorf("persistence: write temp file for %q: %w", roundID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		metrics.PersistenceErrorsTotal.WithLabelValues("close").Inc()
		return fmt.Errorf("persistence: close temp file for %q: %w", roundID, err)
	}

	final := s.path(roundID)
	if err := os.Rename(tmpName, final); err != nil {
		_ = os.Remove(tmpName)
		metrics.PersistenceErrorsTotal.WithLabelValues("rename").Inc()
		return fmt.Errorf("persistence: rename into %q: %w", final, err)
	}

	if s.logger != nil {
		s.logger.WithField("round_id", roundID).Debug("round snapshot persisted")
	}
	return nil
}

// Delete removes the persisted snapshot for roundID. Missing files are not
// an error (idempotent, mirrors Clear's best-effort cleanup semantics).
func (s *FileStore) Delete(_ context.Context, roundID string) error {
	err := os.Remove(s.path(roundID))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// ListRoundIDs returns every round id with a persisted snapshot, used by
// the dispatcher / CLI to rehydrate dispatcher state across a restart.
func (s *FileStore) ListRoundIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: read directory %q: %w", s.dir, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}
