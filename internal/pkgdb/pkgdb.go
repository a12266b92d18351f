// Package pkgdb is the package database and provides graph: a bipartite
// relation between abstract packages (names anyone can reference) and
// concrete packages (specific name+version+architecture records).
package pkgdb

import (
	"github.com/mvossen/opkgo/internal/control"
	"github.com/mvossen/opkgo/internal/version"
)

// AbstractPackage is the identity of a name that packages can provide or
// depend upon, independent of any concrete version.
type AbstractPackage struct {
	Name      string
	Concretes []*Package

	// Providers holds every abstract package (including this one) whose
	// Provides list names this abstract. Ranging over Providers and then
	// their Concretes yields the provider closure.
	Providers []*AbstractPackage

	ReplacedBy []*AbstractPackage

	// DependenciesChecked is the cycle guard the resolver sets on first
	// visit within a traversal. Reset sweeps it back to false.
	DependenciesChecked bool
	NeedDetail          bool
}

// Package is a concrete (name, version, architecture) record.
type Package struct {
	Name          string
	Version       version.Version
	Architecture  string
	Source        string
	Dest          string
	Filename      string
	LocalFilename string
	Size          uint64
	InstalledSize uint64
	InstalledTime uint64
	MD5Sum        string
	SHA256Sum     string
	Section       string
	Maintainer    string
	Description   string
	Priority      string
	Tags          string
	Conffiles     []control.Conffile
	AutoInstalled bool
	Essential     bool
	ProvidedByHand bool

	StateWant   control.StateWant
	StateFlag   control.StateFlag
	StateStatus control.StateStatus

	Depends   []control.CompoundDepend
	Conflicts []control.CompoundDepend
	Provides  []string
	Replaces  []string

	abstract *AbstractPackage
}

// Abstract returns the abstract package this concrete record is filed
// under (its own name's entry).
func (p *Package) Abstract() *AbstractPackage { return p.abstract }

// identity is the (name, version, architecture) tuple the database merges
// on, per §3.4.
func identity(name, ver, arch string) string {
	return name + "\x00" + ver + "\x00" + arch
}

// Database is the process-wide package store: name -> abstract package,
// abstract -> provider set, concrete package vectors.
type Database struct {
	archPriority map[string]int
	abstracts    map[string]*AbstractPackage
	byIdentity   map[string]*Package
}

// NewDatabase creates an empty database. archPriority maps architecture
// name to priority rank; higher wins (§4.3).
func NewDatabase(archPriority map[string]int) *Database {
	return &Database{
		archPriority: archPriority,
		abstracts:    make(map[string]*AbstractPackage),
		byIdentity:   make(map[string]*Package),
	}
}

// InternAbstract returns the abstract package for name, creating it on
// first use.
func (db *Database) InternAbstract(name string) *AbstractPackage {
	if a, ok := db.abstracts[name]; ok {
		return a
	}
	a := &AbstractPackage{Name: name}
	db.abstracts[name] = a
	return a
}

// LookupAbstract returns the abstract package for name without creating
// it.
func (db *Database) LookupAbstract(name string) (*AbstractPackage, bool) {
	a, ok := db.abstracts[name]
	return a, ok
}

// Insert adds a concrete package to the database, attaching it to its
// abstract and wiring the provides/replaces graph. If an equal package
// (same name+version+architecture) already exists, the two are merged
// field-wise: the old record keeps any field it already has and adopts
// fields it lacks from the new one (§3.4).
func (db *Database) Insert(stanza *control.Stanza) *Package {
	id := identity(stanza.Name, stanza.Version.String(), stanza.Architecture)

	if existing, ok := db.byIdentity[id]; ok {
		mergeInto(existing, fromStanza(stanza))
		db.link(existing)
		return existing
	}

	pkg := fromStanza(stanza)
	pkg.abstract = db.InternAbstract(pkg.Name)
	pkg.abstract.Concretes = append(pkg.abstract.Concretes, pkg)
	db.byIdentity[id] = pkg
	db.link(pkg)
	return pkg
}

func fromStanza(s *control.Stanza) *Package {
	return &Package{
		Name:          s.Name,
		Version:       s.Version,
		Architecture:  s.Architecture,
		Filename:      s.Filename,
		Size:          s.Size,
		InstalledSize: s.InstalledSize,
		InstalledTime: s.InstalledTime,
		MD5Sum:        s.MD5Sum,
		SHA256Sum:     s.SHA256Sum,
		Section:       s.Section,
		Maintainer:    s.Maintainer,
		Description:   s.Description,
		Priority:      s.Priority,
		Source:        s.Source,
		Tags:          s.Tags,
		Conffiles:     s.Conffiles,
		AutoInstalled: s.AutoInstalled,
		Essential:     s.Essential,
		StateWant:     s.StateWant,
		StateFlag:     s.StateFlag,
		StateStatus:   s.StateStatus,
		Depends:       s.Depends,
		Conflicts:     s.Conflicts,
		Provides:      s.Provides,
		Replaces:      s.Replaces,
	}
}

// mergeInto applies neu's fields onto old wherever old is the zero value,
// per the "take new value only when the old is absent" merge rule.
func mergeInto(old, neu *Package) {
	if old.Architecture == "" {
		old.Architecture = neu.Architecture
	}
	if old.Maintainer == "" {
		old.Maintainer = neu.Maintainer
	}
	if old.Section == "" {
		old.Section = neu.Section
	}
	if old.Priority == "" {
		old.Priority = neu.Priority
	}
	if old.Source == "" {
		old.Source = neu.Source
	}
	if old.Filename == "" {
		old.Filename = neu.Filename
	}
	if old.LocalFilename == "" {
		old.LocalFilename = neu.LocalFilename
	}
	if old.Size == 0 {
		old.Size = neu.Size
	}
	if old.InstalledSize == 0 {
		old.InstalledSize = neu.InstalledSize
	}
	if old.InstalledTime == 0 {
		old.InstalledTime = neu.InstalledTime
	}
	if old.MD5Sum == "" {
		old.MD5Sum = neu.MD5Sum
	}
	if old.SHA256Sum == "" {
		old.SHA256Sum = neu.SHA256Sum
	}
	if old.Description == "" {
		old.Description = neu.Description
	}
	if old.Tags == "" {
		old.Tags = neu.Tags
	}
	if len(old.Conffiles) == 0 {
		old.Conffiles = neu.Conffiles
	}
	if len(old.Depends) == 0 {
		old.Depends = neu.Depends
	}
	if len(old.Conflicts) == 0 {
		old.Conflicts = neu.Conflicts
	}
	if len(old.Provides) == 0 {
		old.Provides = neu.Provides
	}
	if len(old.Replaces) == 0 {
		old.Replaces = neu.Replaces
	}
	if old.StateStatus == control.NotInstalled {
		old.StateStatus = neu.StateStatus
	}
	if old.StateWant == control.WantUnknown {
		old.StateWant = neu.StateWant
	}
	old.StateFlag |= neu.StateFlag
	if !old.AutoInstalled {
		old.AutoInstalled = neu.AutoInstalled
	}
	if !old.Essential {
		old.Essential = neu.Essential
	}
}

// link wires pkg into the provides/replaces graph: every abstract named in
// pkg.Provides records pkg's own abstract as a provider (this always
// includes pkg's own abstract, since control.Reader guarantees
// self-provision), and every abstract named in pkg.Replaces that pkg also
// conflicts with records pkg's abstract in its replaced-by set.
func (db *Database) link(pkg *Package) {
	own := pkg.abstract
	if own == nil {
		own = db.InternAbstract(pkg.Name)
		pkg.abstract = own
	}

	for _, provided := range pkg.Provides {
		provAbs := db.InternAbstract(provided)
		addAbstract(&provAbs.Providers, own)
	}

	for _, replaced := range pkg.Replaces {
		if !conflictsWithName(pkg.Conflicts, replaced) {
			continue
		}
		replAbs := db.InternAbstract(replaced)
		addAbstract(&replAbs.ReplacedBy, own)
	}
}

func conflictsWithName(conflicts []control.CompoundDepend, name string) bool {
	for _, c := range conflicts {
		for _, a := range c.Atoms {
			if a.Name == name {
				return true
			}
		}
	}
	return false
}

func addAbstract(list *[]*AbstractPackage, a *AbstractPackage) {
	for _, existing := range *list {
		if existing == a {
			return
		}
	}
	*list = append(*list, a)
}

// Reindex rebuilds the provides/replaces cross-reference slices from
// scratch. Useful after a bulk load that inserted packages without going
// through Insert's incremental linking.
func (db *Database) Reindex() {
	for _, a := range db.abstracts {
		a.Providers = nil
		a.ReplacedBy = nil
	}
	for _, pkg := range db.byIdentity {
		db.link(pkg)
	}
}

// IsInstalled reports whether p's status is Installed or Unpacked.
func IsInstalled(p *Package) bool {
	return p.StateStatus == control.Installed || p.StateStatus == control.Unpacked
}

// NotHeld reports whether p does not carry the Hold sticky flag.
func NotHeld(p *Package) bool {
	return p.StateFlag&control.FlagHold == 0
}

// And combines predicates with logical AND, short-circuiting on the first
// failure.
func And(preds ...func(*Package) bool) func(*Package) bool {
	return func(p *Package) bool {
		for _, pred := range preds {
			if !pred(p) {
				return false
			}
		}
		return true
	}
}

// FetchInstalled returns the currently installed package for name, if
// any.
func (db *Database) FetchInstalled(name string) (*Package, bool) {
	abs, ok := db.abstracts[name]
	if !ok {
		return nil, false
	}
	for _, pkg := range abs.Concretes {
		if IsInstalled(pkg) {
			return pkg, true
		}
	}
	return nil, false
}

// FetchAllInstalled returns a snapshot of every package with status
// Installed or Unpacked.
func (db *Database) FetchAllInstalled() []*Package {
	var out []*Package
	for _, pkg := range db.byIdentity {
		if IsInstalled(pkg) {
			out = append(out, pkg)
		}
	}
	return out
}

// BestCandidate iterates the full provider closure of name, collects every
// concrete matching predicate, and returns the one maximizing
// (architecture-priority, version). When honorArch is true, a concrete
// whose architecture is absent from the configured priority list is never
// a candidate.
func (db *Database) BestCandidate(name string, predicate func(*Package) bool, honorArch bool) (*Package, bool) {
	abs, ok := db.abstracts[name]
	if !ok {
		return nil, false
	}

	var best *Package
	for _, provider := range abs.Providers {
		for _, pkg := range provider.Concretes {
			if honorArch {
				if _, ok := db.archPriority[pkg.Architecture]; !ok {
					continue
				}
			}
			if predicate != nil && !predicate(pkg) {
				continue
			}
			if best == nil || db.better(pkg, best) {
				best = pkg
			}
		}
	}
	return best, best != nil
}

func (db *Database) better(a, b *Package) bool {
	pa, pb := db.archPriority[a.Architecture], db.archPriority[b.Architecture]
	if pa != pb {
		return pa > pb
	}
	return version.Compare(a.Version, b.Version) > 0
}

// AtomSatisfied reports whether p's version satisfies a's constraint.
func AtomSatisfied(a control.Atom, p *Package) bool {
	if a.Constraint == version.None {
		return true
	}
	ref, _ := version.Parse(a.Version)
	return version.Satisfies(p.Version, a.Constraint, ref)
}

// DependenceSatisfied reports whether an installed package already
// satisfies atom. Ported from opkg's pkg_dependence_satisfied.
func (db *Database) DependenceSatisfied(atom control.Atom) bool {
	_, ok := db.BestCandidate(atom.Name, And(IsInstalled, func(p *Package) bool {
		return AtomSatisfied(atom, p)
	}), true)
	return ok
}

// DependenceSatisfiable reports whether any known package, installed or
// not, could satisfy atom. Ported from opkg's pkg_dependence_satisfiable.
func (db *Database) DependenceSatisfiable(atom control.Atom) bool {
	_, ok := db.BestCandidate(atom.Name, func(p *Package) bool {
		return AtomSatisfied(atom, p)
	}, true)
	return ok
}

// Abstracts returns every interned abstract package. Used by the resolver
// to sweep the dependencies-checked cycle guard between traversals.
func (db *Database) Abstracts() []*AbstractPackage {
	out := make([]*AbstractPackage, 0, len(db.abstracts))
	for _, a := range db.abstracts {
		out = append(out, a)
	}
	return out
}
