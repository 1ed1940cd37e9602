package resolver

import (
	"context"

	"github.com/james-antill/yum/txset"
)

// skipBroken implements spec §4.F's skip-broken recovery: repeatedly drop
// the members that are transitively responsible for the current errors,
// then re-run the main loop, until it succeeds or a round makes no
// progress. Bounded at skipBrokenBoundFactor × |TxSet| rounds (DESIGN
// NOTES §9).
func (r *Resolver) skipBroken(ctx context.Context, dc *depCheck) ([]string, bool) {
	bound := skipBrokenBoundFactor * (len(r.TxSet.GetMembers(txset.NaevrPattern{}, "")) + 1)

	var skipped []string
	for round := 0; round < bound; round++ {
		if r.cancelled(ctx) {
			return skipped, false
		}

		before := len(r.TxSet.GetMembers(txset.NaevrPattern{}, ""))
		dropped := r.dropBrokenMembers()
		after := len(r.TxSet.GetMembers(txset.NaevrPattern{}, ""))

		if len(dropped) == 0 || after >= before {
			return skipped, false
		}
		skipped = append(skipped, dropped...)

		retryDC := &depCheck{}
		r.TxSet.ResetResolved(false)
		r.mainLoop(ctx, retryDC)
		if len(retryDC.messages) == 0 {
			return skipped, true
		}
		*dc = *retryDC
	}
	return skipped, false
}

// brokenMembers finds every active install/update member with at least one
// outstanding requirement that neither the current TxSet nor the sack can
// satisfy.
func (r *Resolver) brokenMembers() []*txset.TxMember {
	var broken []*txset.TxMember
	for _, m := range r.TxSet.GetMembers(txset.NaevrPattern{}, "") {
		if m.TSState != txset.TSInstall && m.TSState != txset.TSUpdate {
			continue
		}
		for _, req := range outstandingRequires(m.Pkg) {
			if len(r.TxSet.GetProvides(req)) > 0 {
				continue
			}
			if len(r.Sack.SearchProvides(req)) > 0 {
				continue
			}
			broken = append(broken, m)
			break
		}
	}
	return broken
}

// dropBrokenMembers removes every broken member, and every member that
// depends on one, from the TxSet (walking the dep tree one layer per
// call — the outer skipBroken loop re-derives newly-broken members each
// round, so multi-layer chains unwind over successive rounds). On
// multilib systems every arch of a dropped name is dropped with it.
func (r *Resolver) dropBrokenMembers() []string {
	broken := r.brokenMembers()
	if len(broken) == 0 {
		return nil
	}

	toDrop := make(map[txset.MemberID]bool)
	for _, m := range broken {
		toDrop[m.ID] = true
	}
	for _, m := range r.TxSet.GetMembers(txset.NaevrPattern{}, "") {
		for _, depID := range m.DependsOn {
			if toDrop[depID] {
				toDrop[m.ID] = true
			}
		}
	}

	var names []string
	for _, m := range r.TxSet.GetMembers(txset.NaevrPattern{}, "") {
		if !toDrop[m.ID] {
			continue
		}
		names = append(names, m.Pkg.Name)
		r.TxSet.Remove(m.Pkg.NEVRA.String())
	}
	return names
}
