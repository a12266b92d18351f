package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mvossen/opkgo/internal/control"
)

func TestLoad_MissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Arch) == 0 {
		t.Error("Default() config should have at least one architecture entry")
	}
}

func TestLoad_ParsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "opkgo.toml")
	contents := `
mirror = "https://example.org/packages"
status_db = "/var/lib/opkgo/status"
cache_dir = "/var/cache/opkgo"

[[arch]]
name = "mips_24kc"
priority = 10

[[arch]]
name = "all"
priority = 1
`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mirror != "https://example.org/packages" {
		t.Errorf("Mirror = %q", cfg.Mirror)
	}

	priorities := cfg.ArchPriorityMap()
	if priorities["mips_24kc"] != 10 || priorities["all"] != 1 {
		t.Errorf("ArchPriorityMap() = %v", priorities)
	}
}

func TestLoad_ParsesLegacyYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "opkgo.yaml")
	contents := `
mirror: https://example.org/packages
status_db: /var/lib/opkgo/status
cache_dir: /var/cache/opkgo
arch:
  - name: mips_24kc
    priority: 10
  - name: all
    priority: 1
`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mirror != "https://example.org/packages" {
		t.Errorf("Mirror = %q", cfg.Mirror)
	}

	priorities := cfg.ArchPriorityMap()
	if priorities["mips_24kc"] != 10 || priorities["all"] != 1 {
		t.Errorf("ArchPriorityMap() = %v", priorities)
	}
}

func TestFieldMask_EmptyMeansAllFields(t *testing.T) {
	cfg := Default()
	if cfg.FieldMask() != control.AllFields {
		t.Error("FieldMask() should default to AllFields when parse_fields is unset")
	}
}

func TestFieldMask_RestrictsToNamedFields(t *testing.T) {
	cfg := Default()
	cfg.ParseMask = []string{"package", "version", "depends"}

	mask := cfg.FieldMask()
	want := control.FieldPackage | control.FieldVersion | control.FieldDepends
	if mask != want {
		t.Errorf("FieldMask() = %v, want %v", mask, want)
	}
}
