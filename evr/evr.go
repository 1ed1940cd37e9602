// Package evr implements RPM's epoch/version/release comparison algorithm
// and the requirement-matching rules built on top of it.
package evr

import (
	"strings"

	"github.com/pkg/errors"
)

// EVR is the comparable (epoch, version, release) triple that identifies a
// package's version. A missing Epoch is treated as "0" throughout this
// package, per spec.
type EVR struct {
	Epoch, Version, Release string
}

// Norm returns e with a defaulted epoch, ready for comparison.
func (e EVR) Norm() EVR {
	if e.Epoch == "" {
		e.Epoch = "0"
	}
	return e
}

func (e EVR) String() string {
	v := e.Norm()
	s := v.Version
	if v.Release != "" {
		s += "-" + v.Release
	}
	if v.Epoch != "0" {
		s = v.Epoch + ":" + s
	}
	return s
}

// Flag is the comparison operator attached to a PRCO requirement entry.
type Flag int

const (
	// FlagNone means the requirement carries no version, i.e. it is
	// satisfied by any EVR of the matching name.
	FlagNone Flag = iota
	FlagLT
	FlagLE
	FlagEQ
	FlagGE
	FlagGT
)

func (f Flag) String() string {
	switch f {
	case FlagLT:
		return "<"
	case FlagLE:
		return "<="
	case FlagEQ:
		return "="
	case FlagGE:
		return ">="
	case FlagGT:
		return ">"
	default:
		return ""
	}
}

// ParseFlag converts an RPM comparison operator, in symbolic ("<=") or word
// ("LE") form, into a Flag; "" and "None" give FlagNone.
func ParseFlag(s string) (Flag, error) {
	switch s {
	case "", "None":
		return FlagNone, nil
	case "<", "LT":
		return FlagLT, nil
	case "<=", "LE":
		return FlagLE, nil
	case "=", "EQ":
		return FlagEQ, nil
	case ">=", "GE":
		return FlagGE, nil
	case ">", "GT":
		return FlagGT, nil
	default:
		return FlagNone, errors.Errorf("invalid requirement comparator %q", s)
	}
}

// Compare implements RPM's "label compare" ordering over two EVR triples,
// returning -1, 0 or 1. Missing epochs are normalized to "0" first.
func Compare(a, b EVR) int {
	a, b = a.Norm(), b.Norm()

	if c := compareSegment(a.Epoch, b.Epoch); c != 0 {
		return c
	}
	if c := compareSegment(a.Version, b.Version); c != 0 {
		return c
	}
	return compareSegment(a.Release, b.Release)
}

// compareSegment implements rpmvercmp: strings are walked in alternating
// runs of digits and non-digits. Numeric runs compare numerically (after
// stripping leading zeros); alphabetic runs compare byte-lexically. A '~'
// sorts before everything, including the empty string; the empty string
// sorts before any other non-empty run.
func compareSegment(a, b string) int {
	if a == b {
		return 0
	}

	for len(a) > 0 || len(b) > 0 {
		// Drop anything that isn't alphanumeric or '~' from the front of
		// each string in lockstep.
		a = trimNonAlnumTilde(a)
		b = trimNonAlnumTilde(b)

		// Tilde sorts before anything, even the end of the string.
		aTilde, bTilde := strings.HasPrefix(a, "~"), strings.HasPrefix(b, "~")
		switch {
		case aTilde && bTilde:
			a, b = a[1:], b[1:]
			continue
		case aTilde:
			return -1
		case bTilde:
			return 1
		}

		if len(a) == 0 || len(b) == 0 {
			break
		}

		var aSeg, bSeg string
		var numeric bool
		if isDigit(a[0]) {
			aSeg = takeWhile(a, isDigit)
			numeric = true
		} else {
			aSeg = takeWhile(a, isAlpha)
		}
		if numeric {
			bSeg = takeWhile(b, isDigit)
		} else {
			bSeg = takeWhile(b, isAlpha)
		}

		// A numeric segment is always newer than an alphabetic one, if the
		// two strings disagree on the kind of segment at this position.
		if bSeg == "" || (numeric && !isDigit(b[0])) {
			if numeric {
				return 1
			}
			return -1
		}

		a, b = a[len(aSeg):], b[len(bSeg):]

		var c int
		if numeric {
			c = compareNumeric(aSeg, bSeg)
		} else {
			c = strings.Compare(aSeg, bSeg)
		}
		if c != 0 {
			if c < 0 {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a) == 0 && len(b) == 0:
		return 0
	case len(a) == 0:
		return -1
	default:
		return 1
	}
}

func trimNonAlnumTilde(s string) string {
	i := 0
	for i < len(s) && !isAlpha(s[i]) && !isDigit(s[i]) && s[i] != '~' {
		i++
	}
	return s[i:]
}

func takeWhile(s string, pred func(byte) bool) string {
	i := 0
	for i < len(s) && pred(s[i]) {
		i++
	}
	return s[:i]
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// Matches reports whether the candidate EVR satisfies (flag, want) the way
// a PRCO requirement would be checked against a specific version: e.g.
// Matches(FlagGE, want, have) is true iff have >= want.
func Matches(flag Flag, want, have EVR) bool {
	if flag == FlagNone {
		return true
	}
	c := Compare(have, want)
	switch flag {
	case FlagLT:
		return c < 0
	case FlagLE:
		// Documented quirk (see DESIGN.md): rc == 0 and rc < 0 are treated
		// identically here, matching the ranged-obsoletes behavior of the
		// original resolver. Kept verbatim rather than "fixed".
		return c <= 0
	case FlagEQ:
		return c == 0
	case FlagGE:
		return c >= 0
	case FlagGT:
		return c > 0
	default:
		return false
	}
}

