// Package depgraph renders a package database's provides graph (§3.3's
// provider closure) as Graphviz DOT, for the "opkgo graph" command to
// visualize why a resolve pulled in a given package.
package depgraph

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/mvossen/opkgo/internal/pkgdb"
)

// ToDOT renders every abstract package in db and the provider edges into
// it (provider -> abstract, labelled "provides") as a Graphviz DOT digraph.
// Abstracts with an installed concrete package are filled light green; the
// rest are filled white.
func ToDOT(db *pkgdb.Database) string {
	var buf bytes.Buffer
	buf.WriteString("digraph opkgo {\n")
	buf.WriteString("  rankdir=LR;\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=11];\n\n")

	abstracts := db.Abstracts()
	sort.Slice(abstracts, func(i, j int) bool { return abstracts[i].Name < abstracts[j].Name })

	for _, abs := range abstracts {
		attrs := []string{fmt.Sprintf("label=%q", nodeLabel(abs))}
		if anyInstalled(abs) {
			attrs = append(attrs, "fillcolor=lightgreen")
		}
		fmt.Fprintf(&buf, "  %q [%s];\n", abs.Name, strings.Join(attrs, ", "))
	}

	buf.WriteString("\n")
	for _, abs := range abstracts {
		for _, provider := range abs.Providers {
			if provider == abs {
				continue
			}
			fmt.Fprintf(&buf, "  %q -> %q [label=\"provides\"];\n", provider.Name, abs.Name)
		}
	}

	buf.WriteString("}\n")
	return buf.String()
}

func nodeLabel(abs *pkgdb.AbstractPackage) string {
	if len(abs.Concretes) == 0 {
		return abs.Name + "\n(virtual)"
	}
	versions := make([]string, 0, len(abs.Concretes))
	for _, c := range abs.Concretes {
		versions = append(versions, c.Version.String())
	}
	return fmt.Sprintf("%s\n%s", abs.Name, strings.Join(versions, ", "))
}

func anyInstalled(abs *pkgdb.AbstractPackage) bool {
	for _, c := range abs.Concretes {
		if pkgdb.IsInstalled(c) {
			return true
		}
	}
	return false
}

// RenderSVG renders a DOT graph produced by ToDOT to SVG using Graphviz.
func RenderSVG(dot string) ([]byte, error) {
	ctx := context.Background()
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return buf.Bytes(), nil
}
