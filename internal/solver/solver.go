// Package solver implements the dependency resolver described in spec.md
// 4.2: given a set of available packages, a set of already-installed
// package names and a target request, it produces a leaves-first install
// plan, detecting unresolved and circular dependencies.
package solver

import (
	"github.com/paktpm/pakt/internal/errs"
	"github.com/paktpm/pakt/internal/graph"
	"github.com/paktpm/pakt/internal/model"
	"github.com/paktpm/pakt/internal/version"
)

// pkgNode adapts a resolved package into a graph.Node so the solver's
// resolution edges can be recorded in a plain internal/graph.Graph as they
// are discovered, independent of the request strings (which may be virtual
// provides) that led to them.
type pkgNode struct {
	pkg *model.Package
}

func (n pkgNode) ID() string { return n.pkg.Identifier() }

// Solver resolves dependency requests against a snapshot of available
// packages and a set of installed package names.
type Solver struct {
	// byName holds the latest version of each available package. Ties are
	// broken by insertion order of repository preference: the first
	// available package observed under a name wins, later ones are ignored.
	byName map[string]*model.Package
	// order preserves repository-preference insertion order for byName,
	// purely so behavior is deterministic and testable.
	order []string
	// provides maps a provision string to the packages that declare it, in
	// first-declared order.
	provides  map[string][]*model.Package
	installed map[string]bool

	// g records the provider-to-provider dependency edges discovered during
	// resolution (virtual-provides requests already resolved to concrete
	// package names), independent of the recursion-stack cycle check below.
	// Exposed via Graph for callers that want the resolved structure rather
	// than just the flattened plan (e.g. diagnostics).
	g *graph.Graph
}

// New builds a Solver over the given available package set (latest wins
// per name, first occurrence in available wins ties) and installed name set.
func New(available []model.Package, installed map[string]bool) *Solver {
	s := &Solver{
		byName:    map[string]*model.Package{},
		provides:  map[string][]*model.Package{},
		installed: installed,
		g:         graph.New(),
	}
	if s.installed == nil {
		s.installed = map[string]bool{}
	}
	for i := range available {
		p := &available[i]
		if existing, ok := s.byName[p.Name]; ok {
			if version.IsNewer(existing.Version, p.Version) {
				s.byName[p.Name] = p
			}
			// else keep the earlier (repository-preferred) entry
		} else {
			s.byName[p.Name] = p
			s.order = append(s.order, p.Name)
		}
	}
	for _, name := range s.order {
		p := s.byName[name]
		for _, provide := range p.Provides {
			s.provides[provide] = append(s.provides[provide], p)
		}
	}
	return s
}

// Resolve produces a leaves-first install plan for target. The returned
// plan never repeats a provider, and for every package in the plan all of
// its runtime dependencies are either earlier in the plan or already
// installed.
func (s *Solver) Resolve(target string) ([]model.Package, error) {
	visited := map[string]bool{}
	stack := map[string]bool{}
	var plan []model.Package

	var resolve func(request string) error
	resolve = func(request string) error {
		if s.installed[request] {
			return nil
		}
		if visited[request] {
			return nil
		}
		if stack[request] {
			return &errs.CircularDependency{Request: request}
		}

		provider, err := s.find(request)
		if err != nil {
			return err
		}
		s.g.AddNode(pkgNode{pkg: provider})

		stack[request] = true
		for _, dep := range provider.Depends {
			if err := resolve(dep.Name); err != nil {
				return err
			}
			if depProvider, ok := s.byNameOrProvides(dep.Name); ok {
				_ = s.g.AddEdge(provider.Name, depProvider.Name)
			}
		}
		stack[request] = false

		if visited[provider.Name] {
			return nil
		}
		visited[provider.Name] = true
		plan = append(plan, *provider)
		return nil
	}

	if err := resolve(target); err != nil {
		return nil, err
	}
	return plan, nil
}

// find resolves a single request to a concrete provider: an exact name
// match wins, otherwise the first declared provides-entry, otherwise
// UnresolvedDependency.
func (s *Solver) find(request string) (*model.Package, error) {
	if p, ok := s.byName[request]; ok {
		return p, nil
	}
	if providers, ok := s.provides[request]; ok && len(providers) > 0 {
		return providers[0], nil
	}
	return nil, &errs.UnresolvedDependency{Request: request}
}

// byNameOrProvides mirrors find's resolution rule but never errors; it is
// used purely to label a dependency edge once the recursive resolve call
// above has already succeeded (or short-circuited on an installed/visited
// request) for the same name.
func (s *Solver) byNameOrProvides(request string) (*model.Package, bool) {
	if p, ok := s.byName[request]; ok {
		return p, true
	}
	if providers, ok := s.provides[request]; ok && len(providers) > 0 {
		return providers[0], true
	}
	return nil, false
}

// Graph exposes the dependency edges discovered by every Resolve call made
// on this Solver so far (the graph is not reset between calls), keyed by
// concrete package name rather than request string.
func (s *Solver) Graph() *graph.Graph { return s.g }

// Available exposes the resolved latest-wins package for name, for callers
// (e.g. the update planner and the audit scan) that need to inspect a package the solver
// would select without re-running resolution.
func (s *Solver) Available(name string) (model.Package, bool) {
	p, ok := s.byName[name]
	if !ok {
		return model.Package{}, false
	}
	return *p, true
}
