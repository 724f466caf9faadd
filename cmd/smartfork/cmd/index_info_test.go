package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSessionFile(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sess-1.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIndexInfoCmd_ReportsMarkerOccurrences(t *testing.T) {
	path := writeSessionFile(t,
		`{"role":"user","content":"what approach should we use here"}`,
		`{"role":"assistant","content":"we found a working solution, all tests pass"}`,
	)

	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--config", writeTestConfig(t), "index", "info", path})

	err := cmd.Execute()

	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "sess-1")
	assert.Contains(t, out, "PATTERN")
	assert.Contains(t, out, "WORKING_SOLUTION")
}

func TestIndexInfoCmd_JSONOutput(t *testing.T) {
	path := writeSessionFile(t,
		`{"role":"user","content":"waiting on a decision here"}`,
	)

	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--config", writeTestConfig(t), "index", "info", "--json", path})

	err := cmd.Execute()

	require.NoError(t, err)
	var out indexInfoOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "sess-1", out.SessionID)
	require.NotEmpty(t, out.Chunks)
	require.NotEmpty(t, out.Chunks[0].Markers)
	assert.Equal(t, "WAITING", out.Chunks[0].Markers[0].Marker)
}

func TestIndexInfoCmd_NoMarkers(t *testing.T) {
	path := writeSessionFile(t, `{"role":"user","content":"hello there"}`)

	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--config", writeTestConfig(t), "index", "info", path})

	err := cmd.Execute()

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "chunks:")
}

func TestIndexInfoCmd_AddedUnderIndex(t *testing.T) {
	rootCmd := NewRootCmd()

	infoCmd, _, err := rootCmd.Find([]string{"index", "info"})

	require.NoError(t, err)
	assert.Equal(t, "info", infoCmd.Name())
}
