package depgraph

import (
	"strings"
	"testing"

	"github.com/mvossen/opkgo/internal/control"
	"github.com/mvossen/opkgo/internal/pkgdb"
	"github.com/mvossen/opkgo/internal/version"
)

func mustVersion(t *testing.T, s string) version.Version {
	t.Helper()
	v, _ := version.Parse(s)
	return v
}

func TestToDOT_IncludesNodesAndProvidesEdges(t *testing.T) {
	db := pkgdb.NewDatabase(map[string]int{"mips": 10})
	db.Insert(&control.Stanza{
		Name:         "postfix",
		Version:      mustVersion(t, "3.0"),
		Architecture: "mips",
		Provides:     control.ParseProvides("postfix", "mail-transport-agent"),
		StateStatus:  control.Installed,
	})

	dot := ToDOT(db)

	if !strings.HasPrefix(dot, "digraph opkgo {") {
		t.Errorf("ToDOT() should start with digraph header, got:\n%s", dot)
	}
	if !strings.Contains(dot, `"postfix"`) {
		t.Error("ToDOT() missing postfix node")
	}
	if !strings.Contains(dot, `"mail-transport-agent"`) {
		t.Error("ToDOT() missing mail-transport-agent node")
	}
	if !strings.Contains(dot, `"postfix" -> "mail-transport-agent"`) {
		t.Errorf("ToDOT() missing provides edge, got:\n%s", dot)
	}
}

func TestToDOT_MarksInstalledPackages(t *testing.T) {
	db := pkgdb.NewDatabase(map[string]int{"mips": 10})
	db.Insert(&control.Stanza{
		Name:         "libfoo",
		Version:      mustVersion(t, "1.0"),
		Architecture: "mips",
		Provides:     control.ParseProvides("libfoo", ""),
		StateStatus:  control.Installed,
	})

	dot := ToDOT(db)
	if !strings.Contains(dot, "lightgreen") {
		t.Error("ToDOT() should mark installed packages with a fill color")
	}
}
