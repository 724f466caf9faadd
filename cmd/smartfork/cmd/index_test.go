package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEligibleSessionFiles_FiltersBySuffixAndSortsName(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"b.jsonl", "a.jsonl", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.jsonl"), 0o755))

	files, err := eligibleSessionFiles(dir)

	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(dir, "a.jsonl"), files[0])
	assert.Equal(t, filepath.Join(dir, "b.jsonl"), files[1])
}

func TestEligibleSessionFiles_EmptyDir(t *testing.T) {
	dir := t.TempDir()

	files, err := eligibleSessionFiles(dir)

	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestIndexCmd_ShowsHelp(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetArgs([]string{"index", "--help"})
	require.NoError(t, cmd.Execute())
}
