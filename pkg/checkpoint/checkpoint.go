// Package checkpoint persists the crawl cursor so incremental runs can
// resume where the previous one stopped.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"askscraper/pkg/errors"
	"askscraper/pkg/logger"
	"askscraper/pkg/models"
)

// Store handles checkpoint persistence for one data directory
type Store struct {
	path   string
	logger logger.Logger
}

// NewStore creates a checkpoint store writing to the given file path
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	return &Store{
		path:   path,
		logger: logger.GetLogger(),
	}, nil
}

// Load reads the checkpoint. A missing file means no prior run and returns
// (nil, nil). A file that exists but cannot be parsed returns an error
// wrapping errors.ErrCorruptCheckpoint; the caller must abort rather than
// fall back to a full crawl, which would either re-fetch everything or
// silently under-report against an intact seen set.
func (s *Store) Load() (*models.Checkpoint, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No checkpoint exists
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var cp models.Checkpoint
	if err := json.NewDecoder(file).Decode(&cp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrCorruptCheckpoint, s.path, err)
	}

	s.logger.InfoWithFields("checkpoint loaded", map[string]interface{}{
		"last_post_id": cp.LastPostID,
		"total_posts":  cp.TotalPostsScraped,
		"last_run":     cp.LastRunTime,
	})

	return &cp, nil
}

// Save writes the checkpoint to disk atomically: encode into a temp file,
// fsync, then rename over the old one. A crash mid-write never leaves a
// partial checkpoint behind.
func (s *Store) Save(cp *models.Checkpoint) error {
	tempPath := s.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cp); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	s.logger.DebugWithFields("checkpoint saved", map[string]interface{}{
		"last_post_id": cp.LastPostID,
		"total_posts":  cp.TotalPostsScraped,
	})

	return nil
}

// Delete removes the checkpoint file
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Exists checks if a checkpoint file exists
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}
