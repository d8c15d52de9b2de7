// Package storage persists harvested posts under a data directory: one
// JSON file per post plus an append-only JSONL dataset for export.
package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"askscraper/pkg/models"
)

const (
	postsDirName    = "posts"
	datasetFileName = "dataset.jsonl"
)

// Manager handles file storage operations for harvested posts
type Manager struct {
	dataDir     string
	datasetFile string
	mu          sync.Mutex
}

// NewManager creates a storage manager rooted at dataDir, creating the
// directory layout if it does not exist yet. An empty datasetFile selects
// the default dataset name.
func NewManager(dataDir, datasetFile string) (*Manager, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, postsDirName), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if datasetFile == "" {
		datasetFile = datasetFileName
	}
	return &Manager{dataDir: dataDir, datasetFile: datasetFile}, nil
}

// DataDir returns the root data directory
func (m *Manager) DataDir() string {
	return m.dataDir
}

// DatasetPath returns the path of the append-only JSONL dataset
func (m *Manager) DatasetPath() string {
	return filepath.Join(m.dataDir, m.datasetFile)
}

// WriteIndividual saves a post as posts/<id>_<fp8>.json, where fp8 is the
// first eight hex characters of the post fingerprint. The write goes
// through a temp file and rename so a crash never leaves a torn file.
func (m *Manager) WriteIndividual(post *models.Post) error {
	fp := post.Fingerprint()
	if len(fp) > 8 {
		fp = fp[:8]
	}
	filename := filepath.Join(m.dataDir, postsDirName, fmt.Sprintf("%d_%s.json", post.ID, fp))

	data, err := json.MarshalIndent(post, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode post %d: %w", post.ID, err)
	}

	tempFile := filename + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write post file: %w", err)
	}
	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename post file: %w", err)
	}

	return nil
}

// AppendRecord appends one post as a single JSON line to dataset.jsonl
func (m *Manager) AppendRecord(post *models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.Marshal(post)
	if err != nil {
		return fmt.Errorf("failed to encode post %d: %w", post.ID, err)
	}

	file, err := os.OpenFile(m.DatasetPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open dataset: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append to dataset: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync dataset: %w", err)
	}

	return nil
}

// ReadDataset loads every record from dataset.jsonl. A missing dataset
// yields an empty slice. Malformed lines are skipped rather than failing
// the whole read, since the dataset is append-only and a crash can leave
// a truncated final line.
func (m *Manager) ReadDataset() ([]*models.Post, error) {
	file, err := os.Open(m.DatasetPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer file.Close()

	var posts []*models.Post
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var post models.Post
		if err := json.Unmarshal([]byte(line), &post); err != nil {
			continue
		}
		posts = append(posts, &post)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	return posts, nil
}

// Export writes the full dataset to outFile as JSONL, deduplicated by
// post ID with the last record winning
func (m *Manager) Export(outFile string) (int, error) {
	posts, err := m.ReadDataset()
	if err != nil {
		return 0, err
	}

	latest := make(map[int64]*models.Post, len(posts))
	var order []int64
	for _, post := range posts {
		if _, ok := latest[post.ID]; !ok {
			order = append(order, post.ID)
		}
		latest[post.ID] = post
	}

	if dir := filepath.Dir(outFile); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, fmt.Errorf("failed to create export directory: %w", err)
		}
	}

	tempFile := outFile + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file: %w", err)
	}

	writer := bufio.NewWriter(out)
	for _, id := range order {
		data, err := json.Marshal(latest[id])
		if err != nil {
			out.Close()
			os.Remove(tempFile)
			return 0, fmt.Errorf("failed to encode post %d: %w", id, err)
		}
		if _, err := writer.Write(append(data, '\n')); err != nil {
			out.Close()
			os.Remove(tempFile)
			return 0, fmt.Errorf("failed to write export: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		out.Close()
		os.Remove(tempFile)
		return 0, fmt.Errorf("failed to flush export: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tempFile)
		return 0, fmt.Errorf("failed to close export: %w", err)
	}
	if err := os.Rename(tempFile, outFile); err != nil {
		os.Remove(tempFile)
		return 0, fmt.Errorf("failed to rename export: %w", err)
	}

	return len(order), nil
}

// Stats summarizes what is on disk
type Stats struct {
	PostFiles      int
	DatasetRecords int
	UniquePosts    int
	TotalComments  int
}

// Stats scans the data directory and dataset
func (m *Manager) Stats() (*Stats, error) {
	stats := &Stats{}

	entries, err := os.ReadDir(filepath.Join(m.dataDir, postsDirName))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read posts directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			stats.PostFiles++
		}
	}

	posts, err := m.ReadDataset()
	if err != nil {
		return nil, err
	}
	stats.DatasetRecords = len(posts)

	seen := make(map[int64]struct{}, len(posts))
	for _, post := range posts {
		if _, ok := seen[post.ID]; !ok {
			seen[post.ID] = struct{}{}
			stats.UniquePosts++
		}
		stats.TotalComments += len(post.Comments)
	}

	return stats, nil
}
