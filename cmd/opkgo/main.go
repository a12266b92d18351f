// Command opkgo is the embedded package manager's resolver CLI: it loads a
// status database and reports what a request would install, which of its
// dependencies are unresolved, and what it conflicts with.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mvossen/opkgo/internal/config"
	"github.com/mvossen/opkgo/internal/control"
	"github.com/mvossen/opkgo/internal/depgraph"
	"github.com/mvossen/opkgo/internal/format"
	"github.com/mvossen/opkgo/internal/pkgdb"
	"github.com/mvossen/opkgo/internal/pkgerr"
	"github.com/mvossen/opkgo/internal/pkglog"
	"github.com/mvossen/opkgo/internal/resolver"
)

var (
	configPath string
	verbosity  int
	svgOut     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "opkgo",
		Short: "opkgo resolves and reports on embedded-system package dependencies",
		Long:  "opkgo is the dependency resolver and package database for ipk-based embedded package management.",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "Path to opkgo.toml")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v, -vv)")

	resolveCmd := &cobra.Command{
		Use:   "resolve <status-db> <package>",
		Short: "Report the install set and any unresolved dependencies for a package",
		Args:  cobra.ExactArgs(2),
		RunE:  runResolve,
	}

	statusCmd := &cobra.Command{
		Use:   "status <status-db>",
		Short: "Round-trip a status database through parse and format to validate it",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}

	conflictsCmd := &cobra.Command{
		Use:   "conflicts <status-db> <package>",
		Short: "Report installed packages that conflict with a package",
		Args:  cobra.ExactArgs(2),
		RunE:  runConflicts,
	}

	graphCmd := &cobra.Command{
		Use:   "graph <status-db>",
		Short: "Emit the provides graph as Graphviz DOT (or SVG with --svg)",
		Args:  cobra.ExactArgs(1),
		RunE:  runGraph,
	}
	graphCmd.Flags().StringVar(&svgOut, "svg", "", "Write an SVG render to this path instead of DOT to stdout")

	rootCmd.AddCommand(resolveCmd, statusCmd, conflictsCmd, graphCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogSink() func(string, ...interface{}) {
	return pkglog.Sink(pkglog.New(os.Stderr, verbosity))
}

func loadDatabase(path string, cfg config.Config) (*pkgdb.Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening status database %s: %v", pkgerr.IO, path, err)
	}
	defer f.Close()

	db := pkgdb.NewDatabase(cfg.ArchPriorityMap())
	reader := control.NewReader(f, cfg.FieldMask())

	for {
		stanza, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var malformed *control.MalformedError
		if errors.As(err, &malformed) {
			fmt.Fprintf(os.Stderr, "warning: skipping malformed stanza: %s\n", malformed.Reason)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading status database %s: %v", pkgerr.IO, path, err)
		}
		db.Insert(stanza)
	}
	db.Reindex()
	return db, nil
}

// lookupInstallable resolves name to the first concrete package filed
// under its abstract, reporting pkgerr.UnknownPackage if the database has
// no abstract entry (or no concretes) for it.
func lookupInstallable(db *pkgdb.Database, name string) (*pkgdb.Package, error) {
	abs, ok := db.LookupAbstract(name)
	if !ok || len(abs.Concretes) == 0 {
		return nil, fmt.Errorf("%w: %s", pkgerr.UnknownPackage, name)
	}
	return abs.Concretes[0], nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logFn := newLogSink()

	db, err := loadDatabase(args[0], cfg)
	if err != nil {
		return err
	}

	pkg, err := lookupInstallable(db, args[1])
	if err != nil {
		return err
	}

	res := resolver.New(db)
	res.SetLogger(logFn)
	res.Reset()

	toInstall, unresolved := res.Unsatisfied(pkg)

	if len(toInstall) == 0 {
		fmt.Println("Nothing to install.")
	} else {
		fmt.Println("Packages to install:")
		for _, p := range toInstall {
			fmt.Printf("  %s (%s)\n", p.Name, p.Version.String())
		}
	}

	if len(unresolved) > 0 {
		fmt.Println("Unresolved dependencies:")
		errs := make([]error, 0, len(unresolved))
		for _, dep := range unresolved {
			fmt.Printf("  %s\n", dep)
			errs = append(errs, &pkgerr.UnresolvedError{Package: pkg.Name, Depend: dep})
		}
		return errors.Join(errs...)
	}

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := loadDatabase(args[0], cfg)
	if err != nil {
		return err
	}

	mask := cfg.FieldMask()
	count := 0
	for _, pkg := range db.FetchAllInstalled() {
		if err := format.Format(os.Stdout, pkg, mask); err != nil {
			return fmt.Errorf("formatting %s: %w", pkg.Name, err)
		}
		fmt.Println()
		count++
	}
	fmt.Fprintf(os.Stderr, "validated %d installed stanzas\n", count)
	return nil
}

func runConflicts(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := loadDatabase(args[0], cfg)
	if err != nil {
		return err
	}

	pkg, err := lookupInstallable(db, args[1])
	if err != nil {
		return err
	}

	res := resolver.New(db)
	conflicts := res.Conflicts(pkg)
	if len(conflicts) == 0 {
		fmt.Println("No conflicts.")
		return nil
	}

	fmt.Println("Conflicts with:")
	errs := make([]error, 0, len(conflicts))
	for _, c := range conflicts {
		fmt.Printf("  %s (%s)\n", c.Name, c.Version.String())
		errs = append(errs, &pkgerr.ConflictError{Package: pkg.Name, Conflicts: c.Name})
	}
	return errors.Join(errs...)
}

func runGraph(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := loadDatabase(args[0], cfg)
	if err != nil {
		return err
	}

	dot := depgraph.ToDOT(db)

	if svgOut == "" {
		fmt.Print(dot)
		return nil
	}

	svg, err := depgraph.RenderSVG(dot)
	if err != nil {
		return fmt.Errorf("rendering graph: %w", err)
	}
	if err := os.WriteFile(svgOut, svg, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", svgOut, err)
	}
	fmt.Printf("wrote %s\n", svgOut)
	return nil
}
