// Package audit implements the broken-dependency-graph scan and heal
// described in spec.md 2 (component table) and SPEC_FULL.md 4.12: it
// rebuilds the provides index from the currently installed set, checks
// each installed package's dependencies and conflicts against that same
// set, and reconciles the stored broken flag to match.
package audit

import (
	"database/sql"

	"github.com/crossplane/crossplane-runtime/pkg/errors"

	"github.com/paktpm/pakt/internal/db"
	"github.com/paktpm/pakt/internal/model"
	"github.com/paktpm/pakt/internal/solver"
	"github.com/paktpm/pakt/internal/version"
)

// Report pairs a package with whether Scan determined it is currently
// broken, for comparison against its stored model.Package.Broken flag.
type Report struct {
	Package model.Package
	Broken  bool
}

// Scan loads every installed package and, for each, checks (a) that every
// declared dependency is satisfied by an installed package or provision,
// and (b) that no conflict exists in either direction with any other
// installed package. It returns one Report per installed package; it does
// not mutate the database (see Heal).
func Scan(q db.Queryer) ([]Report, error) {
	installed, err := db.ListAll(q)
	if err != nil {
		return nil, errors.Wrap(err, "audit: cannot list installed packages")
	}

	// Reuse the solver's latest-wins by-name index read-only: an installed
	// set behaves like an "available" set with everything already present.
	// Provisions are matched in isBroken against each installed package's
	// Provides list.
	installedNames := make(map[string]bool, len(installed))
	for _, p := range installed {
		installedNames[p.Name] = true
	}
	s := solver.New(installed, installedNames)

	byName := make(map[string]model.Package, len(installed))
	for _, p := range installed {
		byName[p.Name] = p
	}

	reports := make([]Report, 0, len(installed))
	for _, p := range installed {
		reports = append(reports, Report{Package: p, Broken: isBroken(p, byName, s)})
	}
	return reports, nil
}

// isBroken reports whether p's dependencies are all satisfied by the
// installed set (by name or provision, with its version constraint) and
// whether no conflict exists with it in either direction.
func isBroken(p model.Package, byName map[string]model.Package, s *solver.Solver) bool {
	for _, dep := range p.Depends {
		provider, ok := byName[dep.Name]
		if !ok {
			if avail, ok := s.Available(dep.Name); ok {
				provider = avail
			} else {
				found := false
				for _, other := range byName {
					for _, pv := range other.Provides {
						if pv == dep.Name && !found {
							provider, found = other, true
						}
					}
				}
				if !found {
					return true
				}
			}
		}
		if dep.Constraint != "" {
			if ok, err := version.Satisfies(provider.Version, dep.Constraint); err != nil || !ok {
				return true
			}
		}
	}

	for _, c := range p.Conflicts {
		if _, ok := byName[c]; ok {
			return true
		}
	}
	for _, other := range byName {
		if other.Name == p.Name {
			continue
		}
		for _, c := range other.Conflicts {
			if c == p.Name {
				return true
			}
		}
	}
	return false
}

// Heal reconciles every package whose computed Report.Broken differs from
// its stored Broken flag, inside a single DB transaction.
func Heal(d *db.DB, reports []Report) error {
	tx, err := d.Begin()
	if err != nil {
		return err
	}

	if err := healTx(tx, reports); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "audit: cannot commit heal transaction")
}

func healTx(tx *sql.Tx, reports []Report) error {
	for _, r := range reports {
		if r.Broken == r.Package.Broken {
			continue
		}
		if r.Broken {
			if err := db.MarkBroken(tx, r.Package.Name); err != nil {
				return err
			}
		} else {
			if err := db.MarkHealthy(tx, r.Package.Name); err != nil {
				return err
			}
		}
	}
	return nil
}
