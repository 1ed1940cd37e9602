package evr

import (
	"strings"

	"github.com/pkg/errors"
)

// Requirement is a single PRCO entry: (name, flag, evr). A Name beginning
// with "/" is a file requirement; "rpmlib(...)" entries are recognized by
// IsRPMLib so callers can filter them out, per spec.
type Requirement struct {
	Name string
	Flag Flag
	EVR  EVR
}

// IsFileRequirement reports whether r names an absolute file path rather
// than a package/provide name.
func (r Requirement) IsFileRequirement() bool {
	return strings.HasPrefix(r.Name, "/")
}

// IsRPMLib reports whether r is an rpmlib(...) pseudo-requirement, which
// the resolver ignores entirely (satisfied by the RPM runtime itself).
func (r Requirement) IsRPMLib() bool {
	return strings.HasPrefix(r.Name, "rpmlib(")
}

// Matches reports whether a provide entry `have` (with its own providing
// package's EVR available via selfEVR for the substitution rule below)
// satisfies this requirement.
//
// Per spec §4.A: if a provide has no flag, or has flag "=" without an EVR,
// the providing package's own EVR is substituted for missing fields in the
// provide before comparison.
func (r Requirement) Matches(have Requirement, selfEVR EVR) bool {
	if r.Name != have.Name {
		return false
	}
	if r.Flag == FlagNone {
		return true
	}

	haveEVR := have.EVR
	if have.Flag == FlagNone || (have.Flag == FlagEQ && haveEVR == (EVR{})) {
		haveEVR = selfEVR
	}
	return Matches(r.Flag, r.EVR, haveEVR)
}

// ErrInvalidRequirement is the stable error identifier for a malformed
// requirement string (spec §7 InvalidRequirement).
type ErrInvalidRequirement struct {
	Input string
}

func (e *ErrInvalidRequirement) Error() string {
	return "invalid requirement string: " + e.Input
}

var ops = []string{">=", "<=", "==", "=", ">", "<"}

// ParseRequirement accepts "name", "name op evr", or "/abs/path" and fails
// with *ErrInvalidRequirement on any other shape, per spec §4.A.
func ParseRequirement(s string) (Requirement, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Requirement{}, &ErrInvalidRequirement{Input: s}
	}
	if strings.HasPrefix(s, "/") {
		return Requirement{Name: s, Flag: FlagNone}, nil
	}

	for _, op := range ops {
		if idx := strings.Index(s, op); idx > 0 {
			name := strings.TrimSpace(s[:idx])
			rest := strings.TrimSpace(s[idx+len(op):])
			if name == "" || rest == "" {
				continue
			}
			flag, err := ParseFlag(normalizeOp(op))
			if err != nil {
				return Requirement{}, errors.Wrapf(err, "parsing requirement %q", s)
			}
			return Requirement{Name: name, Flag: flag, EVR: parseLooseEVR(rest)}, nil
		}
	}

	fields := strings.Fields(s)
	if len(fields) == 1 {
		return Requirement{Name: fields[0], Flag: FlagNone}, nil
	}
	if len(fields) == 3 {
		flag, err := ParseFlag(normalizeOp(fields[1]))
		if err != nil {
			return Requirement{}, &ErrInvalidRequirement{Input: s}
		}
		return Requirement{Name: fields[0], Flag: flag, EVR: parseLooseEVR(fields[2])}, nil
	}

	return Requirement{}, &ErrInvalidRequirement{Input: s}
}

func normalizeOp(op string) string {
	if op == "==" {
		return "="
	}
	return op
}

// parseLooseEVR parses "[epoch:]version[-release]" into an EVR, tolerating
// a bare version with no epoch or release.
func parseLooseEVR(s string) EVR {
	var e EVR
	if idx := strings.Index(s, ":"); idx >= 0 {
		e.Epoch = s[:idx]
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "-"); idx >= 0 {
		e.Version = s[:idx]
		e.Release = s[idx+1:]
	} else {
		e.Version = s
	}
	return e
}
