// Package constraints enforces the naming-constraint and max_path_length
// restrictions a trust chain's intermediates may place on the chain below
// them, per spec.md §4.5, grounded on fedservice's
// entity_statement/constraints.py.
package constraints

import (
	"strings"

	"github.com/SUNET/fed-trust/pkg/ferrors"
	"github.com/SUNET/fed-trust/pkg/message"
)

// foldMaxPathLength updates the running max_path_length budget with one
// intermediate's constraints, per spec.md §3 "first appearance sets the
// ceiling, subsequent appearances may only reduce". budget is nil until
// some statement in the chain declares max_path_length — absent a ceiling,
// there is nothing to decrement or exceed. Returns the updated budget, or
// an error if this statement's own declaration or the running decrement
// drove it negative.
func foldMaxPathLength(c *message.Constraints, budget *int, subject string) (*int, error) {
	if budget != nil {
		remaining := *budget - 1
		if remaining < 0 {
			return nil, ferrors.New(ferrors.ConstraintViolation, subject, "max_path_length exceeded")
		}
		budget = &remaining
	}
	if c == nil || c.MaxPathLength == nil {
		return budget, nil
	}
	declared := *c.MaxPathLength
	if declared < 0 {
		return nil, ferrors.New(ferrors.ConstraintViolation, subject, "max_path_length exceeded")
	}
	if budget == nil || declared < *budget {
		budget = &declared
	}
	return budget, nil
}

func removeScheme(url string) string {
	if after, ok := strings.CutPrefix(url, "https://"); ok {
		return after
	}
	if after, ok := strings.CutPrefix(url, "http://"); ok {
		return after
	}
	return url
}

// moreSpecific reports whether a is the same host as b, or a strict
// subdomain of b (a's label sequence ends with b's, read right to left).
func moreSpecific(a, b string) bool {
	aParts := strings.Split(removeScheme(a), ".")
	bParts := strings.Split(removeScheme(b), ".")
	if len(aParts) < len(bParts) {
		return false
	}
	for i := range len(aParts) {
		ai := len(aParts) - 1 - i
		bi := len(bParts) - 1 - i
		if bi < 0 {
			return true
		}
		if aParts[ai] != bParts[bi] {
			return false
		}
	}
	return true
}

// updateSpecs replaces each old constraint with any new constraint that is
// more specific than it, keeping old entries that no new constraint refines.
func updateSpecs(newConstraints, oldConstraints []string) []string {
	updated := make([]string, 0, len(oldConstraints))
	for _, old := range oldConstraints {
		replaced := false
		for _, n := range newConstraints {
			if moreSpecific(n, old) {
				updated = append(updated, n)
				replaced = true
			}
		}
		if !replaced {
			updated = append(updated, old)
		}
	}
	return updated
}

type namingConstraints struct {
	permitted []string
	excluded  []string
}

func addConstraints(newConstraints *message.NamingConstraints, nc namingConstraints) namingConstraints {
	if newConstraints == nil {
		return nc
	}
	if len(nc.permitted) == 0 {
		if len(newConstraints.Permitted) > 0 {
			nc.permitted = append([]string(nil), newConstraints.Permitted...)
		}
	} else if len(newConstraints.Permitted) > 0 {
		nc.permitted = updateSpecs(newConstraints.Permitted, nc.permitted)
	}

	if len(nc.excluded) == 0 {
		if len(newConstraints.Excluded) > 0 {
			nc.excluded = append([]string(nil), newConstraints.Excluded...)
		}
	} else if len(newConstraints.Excluded) > 0 {
		nc.excluded = updateSpecs(newConstraints.Excluded, nc.excluded)
	}
	return nc
}

func isExcluded(subject string, excludedIDs []string) bool {
	for _, e := range excludedIDs {
		if moreSpecific(subject, e) {
			return true
		}
	}
	return false
}

func isPermitted(subject string, permittedIDs []string) bool {
	for _, p := range permittedIDs {
		if moreSpecific(subject, p) {
			return true
		}
	}
	return false
}

// MeetsRestrictions walks an anchor-first verified chain and checks that
// every subject satisfies the accumulated naming constraints and that no
// intermediate exceeded the max_path_length budget set above it.
func MeetsRestrictions(chain []*message.EntityStatement) error {
	var maxPathLength *int
	nc := namingConstraints{}

	for _, statement := range chain[:len(chain)-1] {
		c := statement.Constraints
		var err error
		maxPathLength, err = foldMaxPathLength(c, maxPathLength, statement.Subject)
		if err != nil {
			return err
		}

		var namingConstraintsIn *message.NamingConstraints
		if c != nil {
			namingConstraintsIn = c.NamingConstraints
		}
		nc = addConstraints(namingConstraintsIn, nc)

		if len(nc.excluded) > 0 && isExcluded(statement.Subject, nc.excluded) {
			return ferrors.New(ferrors.ConstraintViolation, statement.Subject, "subject excluded by naming constraints")
		}
		if len(nc.permitted) > 0 && !isPermitted(statement.Subject, nc.permitted) {
			return ferrors.New(ferrors.ConstraintViolation, statement.Subject, "subject not in permitted naming constraints")
		}
	}

	leaf := chain[len(chain)-1]
	if len(nc.excluded) > 0 && isExcluded(leaf.Subject, nc.excluded) {
		return ferrors.New(ferrors.ConstraintViolation, leaf.Subject, "subject excluded by naming constraints")
	}
	if len(nc.permitted) > 0 && !isPermitted(leaf.Subject, nc.permitted) {
		return ferrors.New(ferrors.ConstraintViolation, leaf.Subject, "subject not in permitted naming constraints")
	}
	return nil
}
