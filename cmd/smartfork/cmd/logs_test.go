package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogsCmd_TailsDefaultLines(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "smart-fork.log")
	content := `{"time":"2026-01-15T10:00:00Z","level":"INFO","msg":"first"}` + "\n" +
		`{"time":"2026-01-15T10:01:00Z","level":"ERROR","msg":"second"}` + "\n"
	require.NoError(t, os.WriteFile(logPath, []byte(content), 0o644))

	cmd := newLogsCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--file", logPath, "--no-color"})

	err := cmd.Execute()

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "first")
	assert.Contains(t, buf.String(), "second")
}

func TestLogsCmd_LevelFilter(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "smart-fork.log")
	content := `{"time":"2026-01-15T10:00:00Z","level":"INFO","msg":"info line"}` + "\n" +
		`{"time":"2026-01-15T10:01:00Z","level":"ERROR","msg":"error line"}` + "\n"
	require.NoError(t, os.WriteFile(logPath, []byte(content), 0o644))

	cmd := newLogsCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--file", logPath, "--no-color", "--level", "error"})

	err := cmd.Execute()

	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "info line")
	assert.Contains(t, buf.String(), "error line")
}

func TestLogsCmd_MissingFile(t *testing.T) {
	cmd := newLogsCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--file", "/nonexistent/smart-fork.log"})

	err := cmd.Execute()

	require.Error(t, err)
}

func TestLogsCmd_AddedToRoot(t *testing.T) {
	rootCmd := NewRootCmd()

	logsCmd, _, err := rootCmd.Find([]string{"logs"})

	require.NoError(t, err)
	assert.Equal(t, "logs", logsCmd.Name())
}
