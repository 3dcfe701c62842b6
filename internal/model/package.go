// Package model holds the plain data types shared by every component of
// the transactional package lifecycle engine: the Package entity, its
// dependency/conflict/provision relations, repository metadata, and the
// declarative hook shape. None of these types carry framework machinery;
// they are passed by reference between the solver, the database, the
// installer and the hook engine exactly as spec'd.
package model

// InstallReason records why a package ended up installed.
type InstallReason string

// The two install reasons a package can be recorded with.
const (
	ReasonExplicit   InstallReason = "explicit"
	ReasonDependency InstallReason = "dependency"
)

// Package is a named, versioned artifact, installed or available from a
// repository.
type Package struct {
	Name         string
	Version      string
	Architecture string
	Description  string
	Maintainer   string
	URL          string
	Licenses     []string
	BuildDate    int64

	Depends   []Dependency
	Optional  []Dependency
	Conflicts []string
	Provides  []string
	Replaces  []string
	Backup    []string

	Files         []string
	Checksum      string
	InstalledSize int64
	InstallReason InstallReason
	Broken        bool
}

// Dependency is one runtime or optional dependency entry, optionally
// constrained to a version range via a relational operator (spec.md 4.1).
type Dependency struct {
	Name       string
	Constraint string // e.g. ">=1.2.0", "", "=2.0"
}

// Identifier returns the string a solver/hook trigger should match against.
func (p *Package) Identifier() string { return p.Name }
