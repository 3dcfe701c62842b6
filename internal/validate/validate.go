// Package validate implements the conflict validator described in spec.md
// 4.3, composed as a chain of Validators so future checks (e.g.
// architecture compatibility) can be added without touching the
// transaction's call site — the same ValidatorChain shape the teacher uses
// to compose CRD-schema and other checks ahead of an install.
package validate

import (
	"github.com/paktpm/pakt/internal/errs"
	"github.com/paktpm/pakt/internal/model"
)

// Validator checks a proposed plan against the currently installed set.
type Validator interface {
	Validate(plan []model.Package, installed []model.Package) error
}

// Chain runs each Validator in sequence, failing fast on the first error.
type Chain []Validator

// Validate runs every validator in the chain in order.
func (c Chain) Validate(plan []model.Package, installed []model.Package) error {
	for _, v := range c {
		if err := v.Validate(plan, installed); err != nil {
			return err
		}
	}
	return nil
}

// ConflictValidator implements spec.md 4.3's forward/reverse conflict
// check, with replaces-as-scheduled-removal semantics.
type ConflictValidator struct{}

// Validate rejects the plan if any new package conflicts (in either
// direction) with an installed package it does not replace.
func (ConflictValidator) Validate(plan []model.Package, installed []model.Package) error {
	byName := map[string]model.Package{}
	for _, i := range installed {
		byName[i.Name] = i
	}
	planned := map[string]bool{}
	for _, p := range plan {
		planned[p.Name] = true
	}

	for _, n := range plan {
		replaces := toSet(n.Replaces)

		// Forward: N conflicts with something installed.
		for _, c := range n.Conflicts {
			if i, ok := byName[c]; ok {
				if replaces[i.Name] {
					continue // scheduled removal, not an error
				}
				return &errs.ConflictError{Direction: errs.ConflictForward, New: n.Name, Installed: i.Name}
			}
		}

		// Reverse: an installed package conflicts with N.
		for _, i := range installed {
			if planned[i.Name] {
				// i is itself being replaced/reinstalled in this plan;
				// forward check above (or the replaces set) already covers it.
				continue
			}
			for _, c := range i.Conflicts {
				if c == n.Name {
					if replaces[i.Name] {
						continue
					}
					return &errs.ConflictError{Direction: errs.ConflictReverse, New: n.Name, Installed: i.Name}
				}
			}
		}
	}
	return nil
}

// Scheduled reports which installed packages the plan replaces (and would
// therefore remove) rather than conflict with.
func Scheduled(plan []model.Package, installed []model.Package) []string {
	byName := map[string]model.Package{}
	for _, i := range installed {
		byName[i.Name] = i
	}
	var removals []string
	for _, n := range plan {
		for _, r := range n.Replaces {
			if _, ok := byName[r]; ok {
				removals = append(removals, r)
			}
		}
	}
	return removals
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}
