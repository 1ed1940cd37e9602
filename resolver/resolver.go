package resolver

import (
	"context"

	"github.com/james-antill/yum/config"
	"github.com/james-antill/yum/evr"
	"github.com/james-antill/yum/groups"
	internallog "github.com/james-antill/yum/internal/log"
	"github.com/james-antill/yum/rpmpkg"
	"github.com/james-antill/yum/sack"
	"github.com/james-antill/yum/txset"
	"github.com/james-antill/yum/updates"
	"github.com/james-antill/yum/yumerr"
)

// Code values returned by ResolveDeps, per spec §4.F.
const (
	CodeEmpty    = 0
	CodeError    = 1
	CodeResolved = 2
)

// skipBrokenBoundFactor bounds the skip-broken recovery loop at
// 4 × |TxSet| rounds, per DESIGN NOTES §9 "Skip-broken loop bound".
const skipBrokenBoundFactor = 4

// Resolver runs the closure loop (component G) over a fixed Sack, TxSet,
// Updates index, and Config. It is single-threaded and cooperative per
// spec §5: callers cancel via the passed context.
type Resolver struct {
	Sack    *sack.Sack
	TxSet   *txset.Set
	Updates *updates.Index
	Config  *config.Config
	Groups  *groups.Catalog
	Log     *internallog.Logger
	Trace   internallog.TraceLogger

	// RunningKernel, if non-nil, is preserved by the install-only limiter
	// regardless of age, per spec §4.I.
	RunningKernel *rpmpkg.NEVRA

	// pendingConditionals holds group conditional pairs whose cond wasn't
	// installed yet when the group was selected. Only SelectGroup re-checks
	// them; Install, Update and the other commands do not.
	pendingConditionals []groups.Conditional
}

// depCheck is the resolver's per-invocation scratch accumulator (spec
// §3's "DepCheck"): unsatisfied requires and discovered conflicts
// discovered so far, never externally observable.
type depCheck struct {
	messages []string
}

func (d *depCheck) record(err error) {
	d.messages = append(d.messages, err.Error())
}

func (r *Resolver) trace(pass, member, note string) {
	if r.Trace != nil {
		r.Trace.Trace(internallog.Trace{Pass: pass, Member: member, Note: note})
	}
}

func (r *Resolver) cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// ResolveDeps runs REQ_PASS/FILEREQ_PASS/CONFLICT_PASS to closure, applies
// the install-only limiter, and optionally runs skip-broken recovery, per
// spec §4.F.
func (r *Resolver) ResolveDeps(ctx context.Context) (int, []string) {
	dc := &depCheck{}
	r.TxSet.ResetResolved(true)

	if r.cancelled(ctx) {
		return CodeError, []string{"cancelled"}
	}

	r.mainLoop(ctx, dc)

	if len(dc.messages) > 0 {
		if r.Config != nil && r.Config.SkipBroken {
			skipped, ok := r.skipBroken(ctx, dc)
			if ok {
				r.applyInstallOnlyLimit()
				return CodeResolved, append([]string{}, skipped...)
			}
		}
		return CodeError, dc.messages
	}

	r.applyInstallOnlyLimit()

	if len(r.TxSet.GetMembers(txset.NaevrPattern{}, "")) == 0 {
		return CodeEmpty, nil
	}
	return CodeResolved, nil
}

// mainLoop runs REQ_PASS ⇄ FILEREQ_PASS ⇄ CONFLICT_PASS until no pass makes
// progress.
func (r *Resolver) mainLoop(ctx context.Context, dc *depCheck) {
	sawRemove := false
	sawInstall := false

	for {
		if r.cancelled(ctx) {
			dc.record(&yumerr.DepError{Pkg: "", Msg: "cancelled"})
			return
		}

		changedReq, removed, installed := r.reqPass(ctx, dc)
		sawRemove = sawRemove || removed
		sawInstall = sawInstall || installed

		changedFile := false
		if sawRemove {
			changedFile = r.fileReqPass(ctx, dc)
		}

		changedConflict := false
		if sawInstall {
			changedConflict = r.conflictPass(ctx, dc)
		}

		if !changedReq && !changedFile && !changedConflict {
			return
		}
	}
}

// reqPass is REQ_PASS: for each unresolved install/update member, resolve
// its outstanding requires; then, for every package vanishing from the
// system this pass (erased, updated-away, or obsoleted-away), resolve any
// stranded requirers of what it removes.
func (r *Resolver) reqPass(ctx context.Context, dc *depCheck) (changed, removedAny, installedAny bool) {
	for _, m := range r.TxSet.GetMembers(txset.NaevrPattern{}, "") {
		if m.Resolved || r.cancelled(ctx) {
			continue
		}
		switch m.TSState {
		case txset.TSInstall, txset.TSUpdate:
			for _, req := range outstandingRequires(m.Pkg) {
				if len(r.TxSet.GetProvides(req)) > 0 {
					continue
				}
				didChange, didInstall := r.processReq(m.Pkg, req, dc)
				changed = changed || didChange
				installedAny = installedAny || didInstall
			}
			m.Resolved = true
		case txset.TSErase:
			m.Resolved = true
		}
	}

	vanishing := r.vanishingPackages()
	if len(vanishing) > 0 {
		removedAny = true
		if r.strandedRequirePass(vanishing, dc) {
			changed = true
		}
	}
	return changed, removedAny, installedAny
}

// vanishingPackages returns every installed package that will not survive
// the transaction as-is: plain erases, and the "old" side of an update or
// obsoleting (tracked via UpdatedBy/ObsoletedBy per spec §4.E, not a
// separate erase member).
func (r *Resolver) vanishingPackages() []*rpmpkg.Package {
	var out []*rpmpkg.Package
	for _, m := range r.TxSet.GetMembers(txset.NaevrPattern{}, "") {
		if m.TSState == txset.TSErase || len(m.UpdatedBy) > 0 || len(m.ObsoletedBy) > 0 {
			out = append(out, m.Pkg)
		}
	}
	return out
}

// strandedRequirePass resolves every installed, non-vanishing requirer
// whose requirement was satisfied only by a now-vanishing package and isn't
// otherwise satisfied by the TxSet or another surviving installed package.
func (r *Resolver) strandedRequirePass(vanishing []*rpmpkg.Package, dc *depCheck) (changed bool) {
	vanishedKey := make(map[string]bool, len(vanishing))
	for _, v := range vanishing {
		vanishedKey[v.NEVRA.String()] = true
	}

	for _, v := range vanishing {
		self := v.SelfProvide()
		for _, p := range r.Sack.Installed() {
			if vanishedKey[p.NEVRA.String()] {
				continue
			}
			for _, req := range p.Requires {
				if req.Name != v.Name || !req.Matches(self, self.EVR) {
					continue
				}
				if len(r.TxSet.GetProvides(req)) > 0 {
					continue
				}
				if r.installedStillSatisfies(req, vanishedKey) {
					continue
				}
				didChange, _ := r.processReq(p, req, dc)
				changed = changed || didChange
			}
		}
	}
	return changed
}

// installedStillSatisfies reports whether some non-vanishing installed
// package still provides req.
func (r *Resolver) installedStillSatisfies(req evr.Requirement, vanished map[string]bool) bool {
	for _, p := range r.Sack.Installed() {
		if vanished[p.NEVRA.String()] {
			continue
		}
		self := p.SelfProvide()
		if req.Matches(self, self.EVR) {
			return true
		}
		for _, pr := range p.Provides {
			if req.Matches(pr, p.EVR()) {
				return true
			}
		}
	}
	return false
}

// outstandingRequires returns a package's Requires, minus self-provides and
// rpmlib(...) pseudo-requirements.
func outstandingRequires(pkg *rpmpkg.Package) []evr.Requirement {
	self := pkg.SelfProvide()
	var out []evr.Requirement
	for _, req := range pkg.Requires {
		if req.IsRPMLib() {
			continue
		}
		if req.Name == self.Name && req.Matches(self, self.EVR) {
			continue
		}
		out = append(out, req)
	}
	return out
}

// processReq implements _process_req: dispatches on whether po is an
// installed requirer or a to-be-available requirer.
func (r *Resolver) processReq(po *rpmpkg.Package, req evr.Requirement, dc *depCheck) (changed, installedAny bool) {
	if po.Source == rpmpkg.SourceInstalled {
		return r.processReqFromInstalled(po, req, dc)
	}
	return r.processReqFromTransaction(po, req, dc)
}

func (r *Resolver) processReqFromInstalled(po *rpmpkg.Package, req evr.Requirement, dc *depCheck) (changed, installedAny bool) {
	satisfiers := r.Sack.SearchProvides(req)
	sawInstalledSatisfier := false
	for _, sat := range satisfiers {
		if sat.RepoID != rpmpkg.InstalledRepoID {
			continue
		}
		sawInstalledSatisfier = true

		erasing, updating := false, false
		for _, m := range r.TxSet.MatchNaevr(txset.NaevrPattern{Name: sat.Name, Arch: sat.Arch}) {
			if !m.Pkg.NEVRA.EVREqual(sat.NEVRA) {
				continue
			}
			switch {
			case m.TSState == txset.TSErase:
				erasing = true
			case len(m.UpdatedBy) > 0 || len(m.ObsoletedBy) > 0:
				updating = true
			}
		}

		switch {
		case erasing:
			continue // look for another installed satisfier, if any
		case updating:
			// Per spec §4.F: try to pull po along via its own update first.
			if r.updateRequirer(po) {
				return true, true
			}
			continue
		default:
			// This installed copy still stands: the requirement remains
			// satisfied, nothing further to do.
			return false, false
		}
	}
	if sawInstalledSatisfier {
		// Every installed satisfier either erases outright or is being
		// replaced with po having no update path of its own: po goes too.
		r.TxSet.AddErase(po)
		return true, false
	}
	return r.processReqFromTransaction(po, req, dc)
}

// updateRequirer attempts to queue po's own update so it keeps pace with a
// requirement whose prior satisfier is being updated away, per spec §4.F
// "_process_req ... attempt update(name=po.name) to pull a newer requirer
// along". Reports whether an update was found.
func (r *Resolver) updateRequirer(po *rpmpkg.Package) bool {
	ups := r.Updates.UpdatesFor(po)
	if len(ups) == 0 {
		return false
	}
	r.addUpdate(newestPackage(ups), po)
	return true
}

// addUpdate queues newPkg to replace oldPkg, unless newPkg's name is
// configured install-only, in which case it becomes a bare install so
// multiple versions can coexist rather than retiring oldPkg, per spec §4.I.
// Every resolver-internal site that would otherwise call TxSet.AddUpdate
// directly goes through here instead.
func (r *Resolver) addUpdate(newPkg, oldPkg *rpmpkg.Package) txset.MemberID {
	if r.Config != nil && r.Config.IsInstallOnly(newPkg.Name) {
		return txset.ConvertToPlainInstall(r.TxSet, newPkg)
	}
	newID, _ := r.TxSet.AddUpdate(newPkg, oldPkg)
	return newID
}

func (r *Resolver) processReqFromTransaction(po *rpmpkg.Package, req evr.Requirement, dc *depCheck) (changed, installedAny bool) {
	candidates := r.Sack.SearchProvides(req)
	if len(candidates) == 0 {
		dc.record(&yumerr.MissingDependency{Requirer: po.Name, Req: requirementString(req)})
		return false, false
	}

	best := SelectBestProvider(candidates, po)
	existing := r.installedByName(best.Name)

	var newID txset.MemberID
	if existing != nil && !existing.EVREqual(best.NEVRA) {
		newID = r.addUpdate(best, existing)
	} else {
		newID = r.TxSet.AddInstall(best)
	}

	m := r.TxSet.GetMembers(txset.NaevrPattern{Name: best.Name, Arch: best.Arch}, "")
	for _, mm := range m {
		if mm.ID == newID {
			mm.IsDep = true
			mm.Reason = "dep"
			mm.Resolved = false
			for _, pm := range r.TxSet.MatchNaevr(txset.NaevrPattern{Name: po.Name, Arch: po.Arch}) {
				if pm.Pkg == po && pm.ID != mm.ID {
					mm.DependsOn = append(mm.DependsOn, pm.ID)
				}
			}
		}
	}
	return true, true
}

func (r *Resolver) installedByName(name string) *rpmpkg.Package {
	for _, p := range r.Sack.Installed() {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// fileReqPass is FILEREQ_PASS: for installed packages not being removed,
// plus new install/update members, verify every file-requirement is still
// satisfied by a surviving or newly-added provider.
func (r *Resolver) fileReqPass(ctx context.Context, dc *depCheck) (changed bool) {
	visit := func(p *rpmpkg.Package) {
		for _, req := range p.Requires {
			if !req.IsFileRequirement() {
				continue
			}
			if len(r.TxSet.GetProvides(req)) > 0 {
				continue
			}
			didChange, _ := r.processReq(p, req, dc)
			changed = changed || didChange
		}
	}

	for _, p := range r.Sack.Installed() {
		if r.TxSet.IsObsoleted(p.NEVRA.String()) {
			continue
		}
		if members := r.TxSet.MatchNaevr(txset.NaevrPattern{Name: p.Name, Arch: p.Arch}); len(members) > 0 {
			erasing := false
			for _, m := range members {
				if m.Pkg.NEVRA.EVREqual(p.NEVRA) && m.TSState == txset.TSErase {
					erasing = true
				}
			}
			if erasing {
				continue
			}
		}
		visit(p)
	}
	for _, m := range r.TxSet.GetMembers(txset.NaevrPattern{}, "") {
		if m.TSState == txset.TSInstall || m.TSState == txset.TSUpdate {
			visit(m.Pkg)
		}
	}
	return changed
}

// conflictPass is CONFLICT_PASS: pairwise conflict check across installed
// survivors and new installs/updates, per spec §4.F. Runs only after an
// install occurred.
func (r *Resolver) conflictPass(ctx context.Context, dc *depCheck) (changed bool) {
	installed := append([]*rpmpkg.Package{}, r.Sack.Installed()...)
	newMembers := append(
		r.TxSet.GetMembers(txset.NaevrPattern{}, txset.TSInstall),
		r.TxSet.GetMembers(txset.NaevrPattern{}, txset.TSUpdate)...,
	)

	for _, m := range newMembers {
		for _, other := range installed {
			if m.Pkg == other {
				continue
			}
			if conflictBetween(m.Pkg, other) {
				if r.processConflict(m.Pkg, other, dc) {
					changed = true
				}
			}
		}
	}

	for i, m := range newMembers {
		for _, other := range newMembers[i+1:] {
			if conflictBetween(m.Pkg, other.Pkg) {
				if r.processConflict(m.Pkg, other.Pkg, dc) {
					changed = true
				}
			}
		}
	}

	return changed
}

func conflictBetween(a, b *rpmpkg.Package) bool {
	bSelf := b.SelfProvide()
	for _, c := range a.Conflicts {
		if c.Name == b.Name && c.Matches(bSelf, bSelf.EVR) {
			return true
		}
	}
	aSelf := a.SelfProvide()
	for _, c := range b.Conflicts {
		if c.Name == a.Name && c.Matches(aSelf, aSelf.EVR) {
			return true
		}
	}
	return false
}

// processConflict implements _process_conflict: try to update either side
// away from the conflict before giving up.
func (r *Resolver) processConflict(po, cpo *rpmpkg.Package, dc *depCheck) bool {
	if ups := r.Updates.UpdatesFor(cpo); len(ups) > 0 {
		r.addUpdate(ups[0], cpo)
		return true
	}
	if ups := r.Updates.UpdatesFor(po); len(ups) > 0 {
		r.addUpdate(ups[0], po)
		return true
	}
	dc.record(&yumerr.PackageConflict{A: po.NEVRA.String(), B: cpo.NEVRA.String(), Conflict: po.Name})
	return false
}

func requirementString(req evr.Requirement) string {
	if req.Flag == evr.FlagNone {
		return req.Name
	}
	return req.Name + " " + req.Flag.String() + " " + req.EVR.String()
}

func (r *Resolver) applyInstallOnlyLimit() {
	if r.Config == nil {
		return
	}
	for _, name := range r.Config.InstallOnlyPkgs {
		txset.ApplyInstallOnlyLimit(r.TxSet, name, r.Sack.Installed(), r.Config.InstallOnlyLimit, r.RunningKernel)
	}
}
