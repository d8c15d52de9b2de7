package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askscraper/pkg/models"
)

func testPost(id int64, content string) *models.Post {
	return &models.Post{
		ID:          id,
		Username:    "user",
		PublishTime: "2026-08-29 10:00",
		Content:     content,
	}
}

func TestNewManagerCreatesLayout(t *testing.T) {
	dir := t.TempDir()
	_, err := NewManager(dir, "")
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "posts"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestWriteIndividual(t *testing.T) {
	m, err := NewManager(t.TempDir(), "")
	require.NoError(t, err)

	post := testPost(42, "hello")
	require.NoError(t, m.WriteIndividual(post))

	fp8 := post.Fingerprint()[:8]
	path := filepath.Join(m.DataDir(), "posts", "42_"+fp8+".json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"post_id": 42`)

	// Rewrite of the same post replaces the file in place
	require.NoError(t, m.WriteIndividual(post))
	entries, err := os.ReadDir(filepath.Join(m.DataDir(), "posts"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAppendRecordAndReadDataset(t *testing.T) {
	m, err := NewManager(t.TempDir(), "")
	require.NoError(t, err)

	require.NoError(t, m.AppendRecord(testPost(1, "first")))
	require.NoError(t, m.AppendRecord(testPost(2, "second")))

	posts, err := m.ReadDataset()
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, int64(1), posts[0].ID)
	assert.Equal(t, "second", posts[1].Content)
}

func TestCustomDatasetFile(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, "harvest.jsonl")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "harvest.jsonl"), m.DatasetPath())

	require.NoError(t, m.AppendRecord(testPost(1, "first")))

	_, err = os.Stat(filepath.Join(dir, "harvest.jsonl"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "dataset.jsonl"))
	assert.True(t, os.IsNotExist(err))

	posts, err := m.ReadDataset()
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, int64(1), posts[0].ID)
}

func TestReadDatasetMissingFile(t *testing.T) {
	m, err := NewManager(t.TempDir(), "")
	require.NoError(t, err)

	posts, err := m.ReadDataset()
	assert.NoError(t, err)
	assert.Empty(t, posts)
}

func TestReadDatasetSkipsTruncatedLine(t *testing.T) {
	m, err := NewManager(t.TempDir(), "")
	require.NoError(t, err)

	require.NoError(t, m.AppendRecord(testPost(1, "ok")))
	f, err := os.OpenFile(m.DatasetPath(), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id": 2, "content"`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	posts, err := m.ReadDataset()
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, int64(1), posts[0].ID)
}

func TestExportDeduplicatesByID(t *testing.T) {
	m, err := NewManager(t.TempDir(), "")
	require.NoError(t, err)

	require.NoError(t, m.AppendRecord(testPost(1, "old")))
	require.NoError(t, m.AppendRecord(testPost(2, "other")))
	require.NoError(t, m.AppendRecord(testPost(1, "new")))

	outFile := filepath.Join(t.TempDir(), "export.jsonl")
	count, err := m.Export(outFile)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"new"`)
	assert.NotContains(t, string(data), `"old"`)
}

func TestStats(t *testing.T) {
	m, err := NewManager(t.TempDir(), "")
	require.NoError(t, err)

	post := testPost(1, "with comments")
	post.Comments = []models.Comment{{Content: "a"}, {Content: "b"}}
	require.NoError(t, m.WriteIndividual(post))
	require.NoError(t, m.AppendRecord(post))
	require.NoError(t, m.AppendRecord(testPost(1, "again")))

	stats, err := m.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PostFiles)
	assert.Equal(t, 2, stats.DatasetRecords)
	assert.Equal(t, 1, stats.UniquePosts)
	assert.Equal(t, 2, stats.TotalComments)
}
