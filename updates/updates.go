// Package updates builds the updates/obsoletes index over a sack's
// available and installed packages, per spec §4.E. It mirrors the
// teacher's selection.go reverse-index bookkeeping (who depends on this
// project) generalized to "what updates/obsoletes this installed package".
package updates

import (
	"sort"

	"github.com/james-antill/yum/arch"
	"github.com/james-antill/yum/config"
	"github.com/james-antill/yum/evr"
	"github.com/james-antill/yum/rpmpkg"
)

// Pair is a (newer-or-obsoleting, older-or-obsoleted) tuple.
type Pair struct {
	New *rpmpkg.Package
	Old *rpmpkg.Package
}

// Index is the updates/obsoletes bookkeeping over one fixed snapshot of
// available + installed packages. It is immutable once built; ResolveDeps
// uses the Index it is given and does not rebuild it.
type Index struct {
	updatePairs    []Pair
	obsoletePairs  []Pair
	updatingByOld  map[string][]*rpmpkg.Package
	obsoletingByOld map[string][]*rpmpkg.Package
}

// Build constructs an Index from the given installed and available package
// sets. canonicalArch is the running system's native architecture, used to
// pick among several arch-compatible update candidates for one installed
// package (spec §4.D step 2/3 "arch policy"); cfg may be nil, in which case
// no name is treated as exact-arch-only.
func Build(installed, available []*rpmpkg.Package, canonicalArch string, cfg *config.Config) *Index {
	idx := &Index{
		updatingByOld:   make(map[string][]*rpmpkg.Package),
		obsoletingByOld: make(map[string][]*rpmpkg.Package),
	}

	for _, inst := range installed {
		instKey := inst.NEVRA.String()
		exact := cfg != nil && cfg.WantsExactArch(inst.Name)

		var candidates []*rpmpkg.Package
		for _, avail := range available {
			if avail.Name != inst.Name || evr.Compare(avail.EVR(), inst.EVR()) <= 0 {
				continue
			}
			if exact {
				if avail.Arch != inst.Arch {
					continue
				}
			} else if _, compatible := arch.Distance(canonicalArch, avail.Arch); !compatible {
				continue
			}
			candidates = append(candidates, avail)
		}
		if len(candidates) == 0 {
			continue
		}
		best := bestUpdateCandidate(candidates, canonicalArch)
		idx.updatingByOld[instKey] = append(idx.updatingByOld[instKey], best)
		idx.updatePairs = append(idx.updatePairs, Pair{New: best, Old: inst})
	}

	for _, inst := range installed {
		instKey := inst.NEVRA.String()
		selfProv := inst.SelfProvide()
		for _, avail := range available {
			for _, obs := range avail.Obsoletes {
				if obs.Name != inst.Name {
					continue
				}
				// Per DESIGN NOTES §9(b): the documented "<=" quirk is
				// that a ranged obsoletes with flag LE is satisfied by
				// rc==0 as well as rc<0, matching evr.Matches' own
				// quirk rather than "fixing" it to strict-less-than.
				if !obs.Matches(selfProv, inst.EVR()) {
					continue
				}
				idx.obsoletingByOld[instKey] = append(idx.obsoletingByOld[instKey], avail)
				idx.obsoletePairs = append(idx.obsoletePairs, Pair{New: avail, Old: inst})
			}
		}
	}

	sort.Slice(idx.updatePairs, func(i, j int) bool {
		return pairLess(idx.updatePairs[i], idx.updatePairs[j])
	})
	sort.Slice(idx.obsoletePairs, func(i, j int) bool {
		return pairLess(idx.obsoletePairs[i], idx.obsoletePairs[j])
	})

	return idx
}

// bestUpdateCandidate picks the single representative update among several
// arch-compatible candidates for the same installed package: newest EVR
// first, then closest arch.Distance to canonicalArch.
func bestUpdateCandidate(candidates []*rpmpkg.Package, canonicalArch string) *rpmpkg.Package {
	best := candidates[0]
	for _, c := range candidates[1:] {
		switch cmp := evr.Compare(c.EVR(), best.EVR()); {
		case cmp > 0:
			best = c
		case cmp < 0:
			// stays
		default:
			dC, okC := arch.Distance(canonicalArch, c.Arch)
			dB, okB := arch.Distance(canonicalArch, best.Arch)
			if okC && (!okB || dC < dB) {
				best = c
			}
		}
	}
	return best
}

func pairLess(a, b Pair) bool {
	if a.Old.NEVRA.String() != b.Old.NEVRA.String() {
		return a.Old.NEVRA.String() < b.Old.NEVRA.String()
	}
	return a.New.NEVRA.String() < b.New.NEVRA.String()
}

// GetUpdatesTuples returns every (new, old) update pair, sorted
// deterministically by (old NEVRA, new NEVRA) string order. When newest is
// true, only the single best candidate per old package is returned; Build
// already keeps just one candidate per old today, so newest has no further
// effect here, but the parameter mirrors get_updates_tuples(newest) and
// keeps this call symmetric with GetObsoletesTuples.
func (idx *Index) GetUpdatesTuples(newest bool) []Pair {
	if !newest {
		return append([]Pair(nil), idx.updatePairs...)
	}
	return newestPerOld(idx.updatePairs)
}

// GetObsoletesTuples returns every (new, old) obsoletes pair, sorted
// deterministically. When newest is true, a package obsoleted by several
// candidates (a package split, or several releases of the same obsoleter)
// collapses down to the single newest-EVR obsoleter per obsoleted package,
// per spec's get_obsoletes_tuples(newest=bool).
func (idx *Index) GetObsoletesTuples(newest bool) []Pair {
	if !newest {
		return append([]Pair(nil), idx.obsoletePairs...)
	}
	return newestPerOld(idx.obsoletePairs)
}

// newestPerOld collapses pairs sharing the same Old package down to the one
// with the newest New EVR, preserving first-seen order of Old packages.
func newestPerOld(pairs []Pair) []Pair {
	bestByOld := make(map[string]Pair)
	var order []string
	for _, p := range pairs {
		key := p.Old.NEVRA.String()
		cur, ok := bestByOld[key]
		if !ok {
			order = append(order, key)
			bestByOld[key] = p
			continue
		}
		if evr.Compare(p.New.EVR(), cur.New.EVR()) > 0 {
			bestByOld[key] = p
		}
	}
	out := make([]Pair, 0, len(order))
	for _, key := range order {
		out = append(out, bestByOld[key])
	}
	return out
}

// UpdatesFor returns the available packages that update the given
// installed package.
func (idx *Index) UpdatesFor(installed *rpmpkg.Package) []*rpmpkg.Package {
	return idx.updatingByOld[installed.NEVRA.String()]
}

// ObsoletesFor returns the available packages that obsolete the given
// installed package.
func (idx *Index) ObsoletesFor(installed *rpmpkg.Package) []*rpmpkg.Package {
	return idx.obsoletingByOld[installed.NEVRA.String()]
}

// IsObsoleted reports whether some available package obsoletes the given
// installed package.
func (idx *Index) IsObsoleted(installed *rpmpkg.Package) bool {
	return len(idx.obsoletingByOld[installed.NEVRA.String()]) > 0
}
