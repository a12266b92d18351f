package digest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "conffile")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestMD5(t *testing.T) {
	path := writeTemp(t, "hello world")
	got, err := MD5(path)
	if err != nil {
		t.Fatalf("MD5() error = %v", err)
	}
	want := "5eb63bbbe01eeed093cb22bb8f5acdc3"
	if got != want {
		t.Errorf("MD5() = %q, want %q", got, want)
	}
}

func TestSHA256(t *testing.T) {
	path := writeTemp(t, "hello world")
	got, err := SHA256(path)
	if err != nil {
		t.Fatalf("SHA256() error = %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Errorf("SHA256() = %q, want %q", got, want)
	}
}

func TestMD5_MissingFile(t *testing.T) {
	if _, err := MD5(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("MD5() on missing file: want error, got nil")
	}
}
