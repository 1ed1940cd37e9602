// Package rpmpkg defines the immutable package value: its NEVRA identity,
// PRCO dependency lists, file manifest, and origin, per spec §3.
package rpmpkg

import (
	"fmt"

	"github.com/james-antill/yum/evr"
)

// SourceKind tags where a Package's bytes ultimately come from. Behaviors
// that differ by origin (checksum/verify/header access) are guarded by this
// tag rather than modeled with separate duck-typed package kinds, per
// DESIGN NOTES §9.
type SourceKind int

const (
	SourceAvailable SourceKind = iota // from an enabled repository
	SourceInstalled                   // from the installed-package database
	SourceLocal                       // built from a local file on disk
)

// NEVRA is a package's full identity.
type NEVRA struct {
	Name, Epoch, Version, Release, Arch string
}

// EVR extracts the comparable version triple from a NEVRA.
func (n NEVRA) EVR() evr.EVR {
	return evr.EVR{Epoch: n.Epoch, Version: n.Version, Release: n.Release}
}

func (n NEVRA) String() string {
	return fmt.Sprintf("%s-%s.%s", n.Name, n.EVR().String(), n.Arch)
}

// EVREqual reports EVR-equality: same name, EVRs compare 0.
func (n NEVRA) EVREqual(o NEVRA) bool {
	return n.Name == o.Name && evr.Compare(n.EVR(), o.EVR()) == 0
}

// Checksum carries the opaque checksum the core stores and compares but
// never computes itself (checksumming is out of scope per spec §1).
type Checksum struct {
	Type   string
	Digest string
	IsID   bool
}

// Package is the immutable package value. All fields are set at
// construction; DropCachedData clears only lazily-computed caches.
type Package struct {
	NEVRA

	Provides  []evr.Requirement
	Requires  []evr.Requirement
	Conflicts []evr.Requirement
	Obsoletes []evr.Requirement

	Files  []string
	Dirs   []string
	Ghosts []string

	InstalledSize int64
	PackageSize   int64
	Checksum      Checksum

	// RepoID identifies the origin repository handle; for installed
	// packages this is the sentinel "installed", for local packages the
	// path the package was built from.
	RepoID string
	Source SourceKind

	SourceRPM string
	Changelog string

	cache packageCache
}

// packageCache holds lazily-computed, derivable-from-identity data. It is
// never part of identity comparison.
type packageCache struct {
	selfProvide *evr.Requirement
}

// Identity reports identity-equality: EVR-equal, plus same arch and origin
// repository.
func (p *Package) Identity(o *Package) bool {
	return p.EVREqual(o.NEVRA) && p.Arch == o.Arch && p.RepoID == o.RepoID
}

// IsSource reports whether this package is a source package (arch "src"),
// which per spec §3 is never installable.
func (p *Package) IsSource() bool {
	return p.Arch == "src"
}

// SelfProvide returns the implicit (name, =, EVR) provide every package
// grants itself, used by the sack's provides search and by requirement
// substitution (spec §4.A).
func (p *Package) SelfProvide() evr.Requirement {
	if p.cache.selfProvide != nil {
		return *p.cache.selfProvide
	}
	r := evr.Requirement{Name: p.Name, Flag: evr.FlagEQ, EVR: p.EVR()}
	p.cache.selfProvide = &r
	return r
}

// DropCachedData clears lazily-computed caches without changing identity.
func (p *Package) DropCachedData() {
	p.cache = packageCache{}
}
