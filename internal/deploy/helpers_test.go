package deploy

import (
	"os"
	"path/filepath"
	"testing"
)

// writeTree creates files under dir. Keys are slash-separated relative paths.
func writeTree(dir string, files map[string]string) error {
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func newTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	if err := writeTree(dir, files); err != nil {
		t.Fatalf("didn't want %q", err)
	}
	return dir
}

func readFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("didn't want %q", err)
	}
	return string(data)
}
