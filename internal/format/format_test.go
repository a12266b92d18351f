package format

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mvossen/opkgo/internal/control"
	"github.com/mvossen/opkgo/internal/pkgdb"
	"github.com/mvossen/opkgo/internal/version"
)

func mustVersion(t *testing.T, s string) version.Version {
	t.Helper()
	v, ok := version.Parse(s)
	if !ok {
		t.Fatalf("version.Parse(%q): malformed epoch", s)
	}
	return v
}

func TestFormat_FieldOrderAndOmission(t *testing.T) {
	db := pkgdb.NewDatabase(map[string]int{"mips": 10})
	db.Insert(&control.Stanza{
		Name:         "postfix",
		Version:      mustVersion(t, "1:3.0-2"),
		Architecture: "mips",
		Depends:      control.ParseDepList("libc (>= 2.0)", control.Depend),
		Provides:     control.ParseProvides("postfix", "mail-transport-agent"),
		StateWant:    control.WantInstall,
		StateStatus:  control.Installed,
	})
	pkg, ok := db.FetchInstalled("postfix")
	if !ok {
		t.Fatal("postfix not found as installed")
	}

	var buf bytes.Buffer
	if err := Format(&buf, pkg, control.AllFields); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	out := buf.String()

	wantOrder := []string{"Package:", "Version:", "Depends:", "Provides:", "Status:", "Architecture:"}
	last := -1
	for _, field := range wantOrder {
		idx := strings.Index(out, field)
		if idx == -1 {
			t.Fatalf("output missing field %q:\n%s", field, out)
		}
		if idx < last {
			t.Fatalf("field %q out of order:\n%s", field, out)
		}
		last = idx
	}

	if strings.Contains(out, "Section:") {
		t.Errorf("empty Section field should be omitted:\n%s", out)
	}
	if !strings.Contains(out, "Provides: mail-transport-agent") {
		t.Errorf("Provides should omit self-provision:\n%s", out)
	}
}

func TestFormat_DependsOmitsPreDependsAndGreedy(t *testing.T) {
	db := pkgdb.NewDatabase(map[string]int{"mips": 10})
	pkg := db.Insert(&control.Stanza{
		Name:         "app",
		Version:      mustVersion(t, "1.0"),
		Architecture: "mips",
		Depends: append(
			control.ParseDepList("libc", control.Depend),
			append(
				control.ParseDepList("bootstrap", control.PreDepend),
				control.ParseDepList("plugin-a *", control.Depend)...,
			)...,
		),
		Provides:    control.ParseProvides("app", ""),
		StateStatus: control.Installed,
	})

	var buf bytes.Buffer
	if err := Format(&buf, pkg, control.AllFields); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "Depends: libc") {
		t.Errorf("Depends field missing libc:\n%s", out)
	}
	if strings.Contains(out, "bootstrap") {
		t.Errorf("Pre-Depends compound should not round-trip through Depends:\n%s", out)
	}
	if strings.Contains(out, "plugin-a") {
		t.Errorf("greedy compound should not round-trip through Depends:\n%s", out)
	}
}

func TestFormat_RoundTrip(t *testing.T) {
	db := pkgdb.NewDatabase(map[string]int{"mips": 10})
	original := db.Insert(&control.Stanza{
		Name:         "foo",
		Version:      mustVersion(t, "2.1-3"),
		Architecture: "mips",
		Maintainer:   "Jane Dev <jane@example.com>",
		Depends:      control.ParseDepList("libc (>= 2.0), libssl", control.Depend),
		Conflicts:    control.ParseDepList("bar", control.Conflict),
		Provides:     control.ParseProvides("foo", ""),
		StateWant:    control.WantInstall,
		StateFlag:    control.FlagHold,
		StateStatus:  control.Installed,
		Conffiles: []control.Conffile{
			{Path: "/etc/foo.conf", Digest: "d41d8cd98f00b204e9800998ecf8427e"},
		},
	})

	var buf bytes.Buffer
	if err := Format(&buf, original, control.AllFields); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	r := control.NewReader(&buf, control.AllFields)
	reparsed, err := r.Next()
	if err != nil {
		t.Fatalf("re-parsing formatted stanza: %v", err)
	}

	if reparsed.Name != original.Name {
		t.Errorf("Name: got %q, want %q", reparsed.Name, original.Name)
	}
	if reparsed.Version.String() != original.Version.String() {
		t.Errorf("Version: got %q, want %q", reparsed.Version.String(), original.Version.String())
	}
	if reparsed.Maintainer != original.Maintainer {
		t.Errorf("Maintainer: got %q, want %q", reparsed.Maintainer, original.Maintainer)
	}
	if len(reparsed.Depends) != len(original.Depends) {
		t.Errorf("Depends: got %d compounds, want %d", len(reparsed.Depends), len(original.Depends))
	}
	if len(reparsed.Conflicts) != 1 || reparsed.Conflicts[0].Atoms[0].Name != "bar" {
		t.Errorf("Conflicts: got %+v", reparsed.Conflicts)
	}
	if reparsed.StateWant != original.StateWant || reparsed.StateFlag != original.StateFlag || reparsed.StateStatus != original.StateStatus {
		t.Errorf("Status: got (%v,%v,%v), want (%v,%v,%v)",
			reparsed.StateWant, reparsed.StateFlag, reparsed.StateStatus,
			original.StateWant, original.StateFlag, original.StateStatus)
	}
	if len(reparsed.Conffiles) != 1 || reparsed.Conffiles[0].Path != "/etc/foo.conf" {
		t.Errorf("Conffiles: got %+v", reparsed.Conffiles)
	}
}
