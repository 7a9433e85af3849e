package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTaskReadsJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"run_id":"run1","task_id":3,"num_games":4}`), 0664))

	task, err := loadTask(path)
	require.NoError(t, err)
	assert.Equal(t, "run1", task.RunID)
	assert.Equal(t, 3, task.TaskID)
	assert.Equal(t, 4, task.NumGames)
}

func TestLoadTaskRejectsMissingFile(t *testing.T) {
	_, err := loadTask(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadTaskRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.json")
	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0664))

	_, err := loadTask(path)
	assert.Error(t, err)
}
