package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestSetup_ErrorStreamOnlyGetsFailures(t *testing.T) {
	dir := t.TempDir()
	all := filepath.Join(dir, "pipeline.log")
	failures := filepath.Join(dir, "error.log")

	logger, warnings, err := Setup(Options{Level: "info", Path: all, ErrorPath: failures})
	require.NoError(t, err)
	require.Empty(t, warnings)

	logger.Info("fetch attempt succeeded")
	logger.Warn("fetch attempt failed")
	logger.Error("pipeline failed")
	require.NoError(t, logger.Close())

	allLines := strings.Split(strings.TrimSpace(readFile(t, all)), "\n")
	require.Len(t, allLines, 3)
	assert.Contains(t, allLines[0], "INFO")
	assert.Contains(t, allLines[0], "fetch attempt succeeded")
	assert.Contains(t, allLines[2], "ERROR")

	failureLines := strings.Split(strings.TrimSpace(readFile(t, failures)), "\n")
	require.Len(t, failureLines, 1)
	assert.Contains(t, failureLines[0], "pipeline failed")
}

func TestSetup_LevelFiltersAllStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.log")

	logger, _, err := Setup(Options{Level: "warn", Path: path})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	require.NoError(t, logger.Close())

	content := readFile(t, path)
	assert.NotContains(t, content, "hidden")
	assert.Contains(t, content, "shown")
}

func TestSetup_UnwritablePathDegrades(t *testing.T) {
	missingDir := filepath.Join(t.TempDir(), "nope", "pipeline.log")

	logger, warnings, err := Setup(Options{Path: missingDir})
	require.NoError(t, err)
	require.Len(t, warnings, 1)

	logger.Info("still works")
	require.NoError(t, logger.Close())
}

func TestSetup_InvalidLevel(t *testing.T) {
	_, _, err := Setup(Options{Level: "loud"})
	require.Error(t, err)
}

func TestRotatingWriter_RotatesAndKeepsBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.log")

	w, err := OpenRotating(path, 16)
	require.NoError(t, err)

	_, err = w.Write([]byte("0123456789\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("abcdefghij\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("after\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, "0123456789\nabcdefghij\n", readFile(t, path+".1"))
	assert.Equal(t, "after\n", readFile(t, path))
}
