package version

import (
	"fmt"
	"strings"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
)

// Operator is one of the five relational operators a dependency request may
// carry (spec.md 4.1 "Constraint satisfaction").
type Operator string

// The five supported relational operators, plus the empty "always satisfied" form.
const (
	OpEQ    Operator = "="
	OpLT    Operator = "<"
	OpLE    Operator = "<="
	OpGT    Operator = ">"
	OpGE    Operator = ">="
	OpNone  Operator = ""
)

// Constraint pairs an operator with a version, mirroring the Check(v)
// shape of well-known semver-constraint libraries (see DESIGN.md) so
// callers can treat every dependency request uniformly.
type Constraint struct {
	Op      Operator
	Version string
}

// ParseConstraint splits a raw constraint string such as ">=1.2.0" into an
// Operator and a bare version. An empty string (the unqualified form)
// yields OpNone and is always satisfied; a non-empty string with no
// recognized operator prefix, or an operator with no version, is an error.
func ParseConstraint(raw string) (Constraint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Constraint{Op: OpNone}, nil
	}
	for _, op := range []Operator{OpLE, OpGE, OpEQ, OpLT, OpGT} {
		if strings.HasPrefix(raw, string(op)) {
			v := strings.TrimSpace(strings.TrimPrefix(raw, string(op)))
			if v == "" {
				return Constraint{}, errors.Errorf("malformed version constraint: %q", raw)
			}
			return Constraint{Op: op, Version: v}, nil
		}
	}
	return Constraint{}, errors.Errorf("malformed version constraint: %q", raw)
}

// Check reports whether candidate satisfies the constraint:
// satisfies(pkg, req) = req.operator(compare(pkg.version, req.version)).
func (c Constraint) Check(candidate string) bool {
	if c.Op == OpNone {
		return true
	}
	cmp := Compare(candidate, c.Version)
	switch c.Op {
	case OpEQ:
		return cmp == 0
	case OpLT:
		return cmp < 0
	case OpLE:
		return cmp <= 0
	case OpGT:
		return cmp > 0
	case OpGE:
		return cmp >= 0
	default:
		return false
	}
}

func (c Constraint) String() string {
	if c.Op == OpNone {
		return ""
	}
	return fmt.Sprintf("%s%s", c.Op, c.Version)
}

// Satisfies reports whether a dependency's constraint string is met by the
// given candidate version. An empty constraint is always satisfied.
func Satisfies(candidateVersion, constraint string) (bool, error) {
	c, err := ParseConstraint(constraint)
	if err != nil {
		return false, err
	}
	return c.Check(candidateVersion), nil
}
