package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadWritesFileUnderBaseDir(t *testing.T) {
	dir := t.TempDir()
	adapter, err := NewLocalAdapter(dir, "archive")
	require.NoError(t, err)

	err = adapter.Upload(context.Background(), "famsync-archive", "dt=2026-03-14/jobs_093000.parquet", strings.NewReader("payload"), "application/x-parquet")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "famsync-archive", "dt=2026-03-14", "jobs_093000.parquet"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestUploadRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	adapter, err := NewLocalAdapter(dir, "archive")
	require.NoError(t, err)

	err = adapter.Upload(context.Background(), "", "../escape.txt", strings.NewReader("x"), "text/plain")
	require.Error(t, err)
}

func TestNewLocalAdapterCreatesMissingBaseDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "archive")
	_, err := NewLocalAdapter(dir, "archive")
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
