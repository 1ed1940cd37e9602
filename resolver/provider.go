// Package resolver implements the closure loop over requires, conflicts,
// and file-requires (component G) and the provider tie-break cascade
// (component H), per spec §4.F/§4.G.
package resolver

import (
	"github.com/james-antill/yum/arch"
	"github.com/james-antill/yum/rpmpkg"
)

// SelectBestProvider folds candidates through compareProviders against a
// running best, returning the overall winner for requirer. The fold visits
// each candidate once, so it terminates in len(candidates) steps — well
// within the 2·len(candidates) bound spec §4.F documents for this loop.
func SelectBestProvider(candidates []*rpmpkg.Package, requirer *rpmpkg.Package) *rpmpkg.Package {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	for _, cand := range candidates[1:] {
		best = compareProviders(cand, best, requirer)
	}
	return best
}

// compareProviders applies the ordered tie-break rules of spec §4.G: the
// first rule whose verdict differs between cand and best wins.
func compareProviders(cand, best, requirer *rpmpkg.Package) *rpmpkg.Package {
	// Rule 1: obsoletes precedence. Mutual obsoletes (a doom loop) leaves
	// best unchanged by design.
	candObsoletesBest := obsoletesMatch(cand, best)
	bestObsoletesCand := obsoletesMatch(best, cand)
	if candObsoletesBest != bestObsoletesCand {
		if candObsoletesBest {
			return cand
		}
		return best
	}

	// Rule 2: arch distance, skipped entirely for noarch requirers.
	if requirer.Arch != "noarch" {
		dCand, okCand := arch.Distance(requirer.Arch, cand.Arch)
		dBest, okBest := arch.Distance(requirer.Arch, best.Arch)
		if okCand != okBest {
			if okCand {
				return cand
			}
			return best
		}
		if okCand && okBest && dCand != dBest {
			if dCand < dBest {
				return cand
			}
			return best
		}
	}

	// Rule 3: shared sourcerpm with the requirer.
	candSame := cand.SourceRPM != "" && cand.SourceRPM == requirer.SourceRPM
	bestSame := best.SourceRPM != "" && best.SourceRPM == requirer.SourceRPM
	if candSame != bestSame {
		if candSame {
			return cand
		}
		return best
	}

	// Rule 4: longer common name prefix with the requirer wins.
	candPrefix := commonPrefixLen(cand.Name, requirer.Name)
	bestPrefix := commonPrefixLen(best.Name, requirer.Name)
	if candPrefix != bestPrefix {
		if candPrefix > bestPrefix {
			return cand
		}
		return best
	}

	// Rule 5: shorter package name wins.
	if len(cand.Name) != len(best.Name) {
		if len(cand.Name) < len(best.Name) {
			return cand
		}
		return best
	}

	// Rule 6: better arch by arch.BestArchFrom.
	if cand.Arch != best.Arch {
		if arch.BestArchFrom([]string{cand.Arch, best.Arch}) == cand.Arch {
			return cand
		}
		return best
	}

	return best
}

// obsoletesMatch reports whether a's Obsoletes entries cover b's identity.
func obsoletesMatch(a, b *rpmpkg.Package) bool {
	bSelf := b.SelfProvide()
	for _, o := range a.Obsoletes {
		if o.Name != b.Name {
			continue
		}
		if o.Matches(bSelf, bSelf.EVR) {
			return true
		}
	}
	return false
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}
