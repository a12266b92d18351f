// Package format serializes a package record back to stanza form, for
// writing the installed-status database.
package format

import (
	"fmt"
	"io"
	"strings"

	"github.com/mvossen/opkgo/internal/control"
	"github.com/mvossen/opkgo/internal/pkgdb"
)

// Format writes pkg as a single stanza in the fixed field order, omitting
// empty fields. Only fields set in mask are emitted.
func Format(w io.Writer, pkg *pkgdb.Package, mask control.FieldMask) error {
	f := &fielder{w: w}

	if mask&control.FieldPackage != 0 {
		f.printf("Package: %s\n", pkg.Name)
	}
	if mask&control.FieldVersion != 0 {
		f.printf("Version: %s\n", pkg.Version.String())
	}
	if mask&control.FieldDepends != 0 {
		f.depList("Depends", pkg.Depends, control.Depend)
	}
	if mask&control.FieldRecommends != 0 {
		f.depList("Recommends", pkg.Depends, control.Recommend)
	}
	if mask&control.FieldSuggests != 0 {
		f.depList("Suggests", pkg.Depends, control.Suggest)
	}
	if mask&control.FieldProvides != 0 {
		f.nameList("Provides", withoutSelf(pkg.Name, pkg.Provides))
	}
	if mask&control.FieldReplaces != 0 {
		f.nameList("Replaces", pkg.Replaces)
	}
	if mask&control.FieldConflicts != 0 {
		f.conflictList(pkg.Conflicts)
	}
	if mask&control.FieldStatus != 0 {
		f.printf("Status: %s %s %s\n", pkg.StateWant, pkg.StateFlag, pkg.StateStatus)
	}
	if mask&control.FieldSection != 0 && pkg.Section != "" {
		f.printf("Section: %s\n", pkg.Section)
	}
	if mask&control.FieldEssential != 0 && pkg.Essential {
		f.printf("Essential: yes\n")
	}
	if mask&control.FieldArchitecture != 0 && pkg.Architecture != "" {
		f.printf("Architecture: %s\n", pkg.Architecture)
	}
	if mask&control.FieldMaintainer != 0 && pkg.Maintainer != "" {
		f.printf("Maintainer: %s\n", pkg.Maintainer)
	}
	if mask&control.FieldMD5Sum != 0 && pkg.MD5Sum != "" {
		f.printf("MD5sum: %s\n", pkg.MD5Sum)
	}
	if mask&control.FieldSize != 0 && pkg.Size != 0 {
		f.printf("Size: %d\n", pkg.Size)
	}
	if mask&control.FieldFilename != 0 && pkg.Filename != "" {
		f.printf("Filename: %s\n", pkg.Filename)
	}
	if mask&control.FieldConffiles != 0 && len(pkg.Conffiles) > 0 {
		f.printf("Conffiles:\n")
		for _, c := range pkg.Conffiles {
			f.printf(" %s %s\n", c.Path, c.Digest)
		}
	}
	if mask&control.FieldSource != 0 && pkg.Source != "" {
		f.printf("Source: %s\n", pkg.Source)
	}
	if mask&control.FieldDescription != 0 && pkg.Description != "" {
		f.printf("Description: %s\n", strings.ReplaceAll(pkg.Description, "\n", "\n "))
	}
	if mask&control.FieldInstalledTime != 0 && pkg.InstalledTime != 0 {
		f.printf("Installed-Time: %d\n", pkg.InstalledTime)
	}
	if mask&control.FieldTags != 0 && pkg.Tags != "" {
		f.printf("Tags: %s\n", pkg.Tags)
	}

	return f.err
}

// fielder accumulates the first write error so callers don't have to check
// every Fprintf.
type fielder struct {
	w   io.Writer
	err error
}

func (f *fielder) printf(format string, args ...interface{}) {
	if f.err != nil {
		return
	}
	_, f.err = fmt.Fprintf(f.w, format, args...)
}

func (f *fielder) nameList(field string, names []string) {
	if len(names) == 0 {
		return
	}
	f.printf("%s: %s\n", field, strings.Join(names, ", "))
}

// depList emits only the compounds of the given kind, matching the
// original formatter's behavior of never re-serializing Pre-Depends or
// greedy compounds.
func (f *fielder) depList(field string, deps []control.CompoundDepend, kind control.DependKind) {
	var parts []string
	for _, c := range deps {
		if c.Kind != kind {
			continue
		}
		parts = append(parts, control.DependString(c))
	}
	if len(parts) == 0 {
		return
	}
	f.printf("%s: %s\n", field, strings.Join(parts, ", "))
}

func (f *fielder) conflictList(conflicts []control.CompoundDepend) {
	if len(conflicts) == 0 {
		return
	}
	var parts []string
	for _, c := range conflicts {
		parts = append(parts, control.DependString(c))
	}
	f.printf("Conflicts: %s\n", strings.Join(parts, ", "))
}

func withoutSelf(name string, provides []string) []string {
	var out []string
	for _, p := range provides {
		if p != name {
			out = append(out, p)
		}
	}
	return out
}
