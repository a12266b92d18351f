// Package resolver walks compound dependencies to produce the set of
// packages needed to satisfy a request, honoring alternatives, Provides,
// Replaces and Conflicts.
package resolver

import (
	"github.com/mvossen/opkgo/internal/control"
	"github.com/mvossen/opkgo/internal/pkgdb"
)

// Resolver resolves dependencies against a package database.
type Resolver struct {
	db    *pkgdb.Database
	logFn func(string, ...interface{})
}

// New creates a Resolver over db. By default it logs nothing; attach a
// logger with SetLogger.
func New(db *pkgdb.Database) *Resolver {
	return &Resolver{
		db:    db,
		logFn: func(string, ...interface{}) {},
	}
}

// SetLogger installs a printf-style sink for the NOTICE/DEBUG messages the
// resolver emits while walking dependencies.
func (r *Resolver) SetLogger(fn func(string, ...interface{})) {
	r.logFn = fn
}

// Reset clears the dependencies_checked cycle guard on every abstract
// package. Every public entry point that performs a fresh traversal must
// call this first.
func (r *Resolver) Reset() {
	for _, abs := range r.db.Abstracts() {
		abs.DependenciesChecked = false
	}
}

// Unsatisfied produces the set of packages that must be installed to
// satisfy pkg's dependencies, plus the printable form of any compound
// dependency that could not be satisfied. It calls Reset before walking.
func (r *Resolver) Unsatisfied(pkg *pkgdb.Package) ([]*pkgdb.Package, []string) {
	r.Reset()
	var toInstall []*pkgdb.Package
	unresolved := r.unsatisfied(pkg, &toInstall)
	return toInstall, unresolved
}

func (r *Resolver) unsatisfied(pkg *pkgdb.Package, toInstall *[]*pkgdb.Package) []string {
	abs := pkg.Abstract()
	if abs == nil {
		return nil
	}
	if abs.DependenciesChecked {
		return nil
	}
	abs.DependenciesChecked = true

	if len(pkg.Depends) == 0 {
		return nil
	}

	var unresolved []string
	for _, compound := range pkg.Depends {
		if compound.Kind == control.Greedy {
			r.greedy(compound, toInstall)
			continue
		}
		unresolved = append(unresolved, r.normal(pkg, compound, toInstall)...)
	}
	return unresolved
}

func (r *Resolver) greedy(compound control.CompoundDepend, toInstall *[]*pkgdb.Package) {
	for _, atom := range compound.Atoms {
		target, ok := r.db.LookupAbstract(atom.Name)
		if !ok {
			continue
		}
		for _, providerAbs := range target.Providers {
			for _, scout := range providerAbs.Concretes {
				if scout.StateWant == control.WantInstall {
					continue
				}
				if scout.Abstract() != nil && scout.Abstract().DependenciesChecked {
					continue
				}
				if containsPkg(*toInstall, scout) {
					continue
				}

				var recursed []*pkgdb.Package
				newUnresolved := r.unsatisfied(scout, &recursed)
				if len(newUnresolved) != 0 {
					r.logFn("DEBUG: not installing %s due to broken depends", scout.Name)
					continue
				}

				allWantInstall := true
				for _, p := range recursed {
					if p.StateWant != control.WantInstall {
						allWantInstall = false
						break
					}
				}
				if !allWantInstall {
					r.logFn("DEBUG: not installing %s due to requirement on a package not wanted", scout.Name)
					continue
				}

				r.logFn("NOTICE: adding satisfier for greedy dependence %s", scout.Name)
				*toInstall = append(*toInstall, scout)
			}
		}
	}
}

func (r *Resolver) normal(pkg *pkgdb.Package, compound control.CompoundDepend, toInstall *[]*pkgdb.Package) []string {
	for _, atom := range compound.Atoms {
		if _, ok := r.db.BestCandidate(atom.Name, pkgdb.And(pkgdb.IsInstalled, func(p *pkgdb.Package) bool {
			return pkgdb.AtomSatisfied(atom, p)
		}), true); ok {
			return nil
		}
	}

	var satisfier *pkgdb.Package
	for _, atom := range compound.Atoms {
		candidate, ok := r.db.BestCandidate(atom.Name, pkgdb.And(pkgdb.NotHeld, func(p *pkgdb.Package) bool {
			return pkgdb.AtomSatisfied(atom, p)
		}), true)
		if !ok {
			continue
		}
		if (compound.Kind == control.Recommend || compound.Kind == control.Suggest) &&
			(candidate.StateWant == control.WantDeinstall || candidate.StateWant == control.WantPurge) {
			r.logFn("NOTICE: %s: ignoring recommendation for %s at user request", pkg.Name, candidate.Name)
			continue
		}
		satisfier = candidate
		break
	}

	if satisfier == nil {
		if compound.Kind == control.Recommend || compound.Kind == control.Suggest {
			r.logFn("NOTICE: %s: unsatisfied recommendation for %s", pkg.Name, compound.Atoms[0].Name)
			return nil
		}
		return []string{control.DependString(compound)}
	}

	if compound.Kind == control.Suggest {
		r.logFn("NOTICE: package %s suggests installing %s", pkg.Name, satisfier.Name)
		return nil
	}

	if satisfier == pkg || containsPkg(*toInstall, satisfier) {
		return nil
	}
	*toInstall = append(*toInstall, satisfier)
	return r.unsatisfied(satisfier, toInstall)
}

// Conflicts returns every installed package (or one with state_want =
// Install) that matches any of pkg's conflict atoms and is not replaced by
// pkg.
func (r *Resolver) Conflicts(pkg *pkgdb.Package) []*pkgdb.Package {
	var out []*pkgdb.Package
	seen := make(map[*pkgdb.Package]bool)

	for _, compound := range pkg.Conflicts {
		for _, atom := range compound.Atoms {
			abs, ok := r.db.LookupAbstract(atom.Name)
			if !ok {
				continue
			}
			for _, provider := range abs.Providers {
				for _, candidate := range provider.Concretes {
					if candidate == pkg || seen[candidate] {
						continue
					}
					if !pkgdb.IsInstalled(candidate) && candidate.StateWant != control.WantInstall {
						continue
					}
					if !pkgdb.AtomSatisfied(atom, candidate) {
						continue
					}
					if r.Replaces(pkg, candidate) {
						continue
					}
					seen[candidate] = true
					out = append(out, candidate)
				}
			}
		}
	}
	return out
}

// Replaces reports whether any abstract pkg.Replaces names is in other's
// Provides list.
func (r *Resolver) Replaces(pkg, other *pkgdb.Package) bool {
	for _, name := range pkg.Replaces {
		for _, p := range other.Provides {
			if p == name {
				return true
			}
		}
	}
	return false
}

func containsPkg(list []*pkgdb.Package, p *pkgdb.Package) bool {
	for _, q := range list {
		if q == p {
			return true
		}
	}
	return false
}
