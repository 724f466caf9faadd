// Package atomicfile centralises the write-temp-then-rename pattern
// used by every piece of durable state smart-fork owns: the session
// registry sidecar, the embedding cache file, and the setup-engine
// sidecar. A reader either sees the previous complete file or the new
// complete file, never a partial write.
package atomicfile

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/renameio"
)

// WriteJSON marshals v as indented JSON and atomically replaces path.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o644)
}

// ReadJSON decodes path into v. Callers are expected to treat a
// missing file and a corrupt file identically: start from an empty
// value (see sferrors.Corruption for the corresponding error shape).
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Exists reports whether path is present on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
