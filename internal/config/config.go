// Package config loads the opkgo configuration file: the
// architecture-priority list, the parse-field mask, the package mirror,
// and the cache/status-db paths.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/mvossen/opkgo/internal/control"
)

// Config is the on-disk opkgo.toml (or legacy opkgo.yaml) shape.
type Config struct {
	Mirror    string         `toml:"mirror" yaml:"mirror"`
	StatusDB  string         `toml:"status_db" yaml:"status_db"`
	CacheDir  string         `toml:"cache_dir" yaml:"cache_dir"`
	Arch      []ArchPriority `toml:"arch" yaml:"arch"`
	ParseMask []string       `toml:"parse_fields" yaml:"parse_fields"`
}

// ArchPriority is one entry of the configured architecture-priority list
// (§4.3); a higher Priority wins, and file order does not break ties.
type ArchPriority struct {
	Name     string `toml:"name" yaml:"name"`
	Priority int    `toml:"priority" yaml:"priority"`
}

// Default returns the built-in configuration used when no opkgo.toml is
// found: a single "all" architecture and the full parse-field mask.
func Default() Config {
	return Config{
		Mirror:   "https://downloads.openwrt.org",
		StatusDB: filepath.Join(xdg.DataHome, "opkgo", "status"),
		CacheDir: filepath.Join(xdg.CacheHome, "opkgo"),
		Arch:     []ArchPriority{{Name: "all", Priority: 1}},
	}
}

// DefaultPath resolves the configuration file location the way opkgo looks
// for it when no --config flag is given: $XDG_CONFIG_HOME/opkgo/opkgo.toml.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "opkgo", "opkgo.toml")
}

// Load reads and parses the config at path. A missing file is not an
// error: Default() is returned instead, since opkgo is expected to run
// against its built-in defaults out of the box. Files named *.yaml or
// *.yml are decoded with yaml.v3 instead of TOML, for sites carrying
// over a config written against an older opkgo that only spoke YAML.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	default:
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if len(cfg.Arch) == 0 {
		cfg.Arch = Default().Arch
	}
	return cfg, nil
}

// ArchPriorityMap flattens the configured architecture list into the
// name->priority map pkgdb.NewDatabase wants.
func (c Config) ArchPriorityMap() map[string]int {
	m := make(map[string]int, len(c.Arch))
	for _, a := range c.Arch {
		m[a.Name] = a.Priority
	}
	return m
}

// FieldMask resolves the configured parse_fields list into a
// control.FieldMask, defaulting to control.AllFields when unset or when no
// entry is recognized; unrecognized entries are ignored (economy is an
// optimization, never a correctness requirement).
func (c Config) FieldMask() control.FieldMask {
	if len(c.ParseMask) == 0 {
		return control.AllFields
	}

	var mask control.FieldMask
	for _, name := range c.ParseMask {
		if bit, ok := fieldByName[strings.ToLower(name)]; ok {
			mask |= bit
		}
	}
	if mask == 0 {
		return control.AllFields
	}
	return mask
}

var fieldByName = map[string]control.FieldMask{
	"package":         control.FieldPackage,
	"version":         control.FieldVersion,
	"architecture":    control.FieldArchitecture,
	"maintainer":      control.FieldMaintainer,
	"section":         control.FieldSection,
	"priority":        control.FieldPriority,
	"source":          control.FieldSource,
	"filename":        control.FieldFilename,
	"size":            control.FieldSize,
	"installed-size":  control.FieldInstalledSize,
	"installed-time":  control.FieldInstalledTime,
	"md5sum":          control.FieldMD5Sum,
	"sha256sum":       control.FieldSHA256Sum,
	"description":     control.FieldDescription,
	"tags":            control.FieldTags,
	"depends":         control.FieldDepends,
	"pre-depends":     control.FieldPreDepends,
	"recommends":      control.FieldRecommends,
	"suggests":        control.FieldSuggests,
	"conflicts":       control.FieldConflicts,
	"provides":        control.FieldProvides,
	"replaces":        control.FieldReplaces,
	"conffiles":       control.FieldConffiles,
	"status":          control.FieldStatus,
	"essential":       control.FieldEssential,
	"auto-installed":  control.FieldAutoInstalled,
}
