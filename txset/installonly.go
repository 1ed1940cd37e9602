package txset

import (
	"github.com/james-antill/yum/rpmpkg"
)

// ApplyInstallOnlyLimit implements component J: for a single install-only
// name, cap the number of versions that will remain installed to limit,
// marking the oldest excess versions for erase. The running kernel's NEVRA
// (if non-nil) is always preserved regardless of age, per spec §4.I.
//
// installed is the set of already-installed packages of this name that are
// not otherwise being erased/obsoleted by ts; new install/update members of
// this name already present in ts are folded in automatically.
func ApplyInstallOnlyLimit(ts *Set, name string, installed []*rpmpkg.Package, limit int, runningKernel *rpmpkg.NEVRA) []MemberID {
	candidates := make(map[string]*TxMember)

	for i := 1; i < len(ts.members); i++ {
		m := &ts.members[i]
		if m.Pkg == nil || m.Pkg.Name != name {
			continue
		}
		if m.TSState != TSInstall && m.TSState != TSUpdate {
			continue
		}
		candidates[m.Pkg.NEVRA.String()] = m
	}
	for _, pkg := range installed {
		if pkg.Name != name {
			continue
		}
		key := pkg.NEVRA.String()
		if _, already := candidates[key]; already {
			continue
		}
		id := ts.getOrCreate(pkg)
		m := ts.member(id)
		if m.TSState == TSErase {
			continue
		}
		candidates[key] = m
	}

	var list []*TxMember
	for _, m := range candidates {
		list = append(list, m)
	}
	sorted := SortedByEVRDesc(list)

	var erased []MemberID
	kept := 0
	for _, m := range sorted {
		isRunning := runningKernel != nil && m.Pkg.NEVRA.EVREqual(*runningKernel) && m.Pkg.Arch == runningKernel.Arch
		if isRunning || kept < limit {
			if !isRunning {
				kept++
			}
			continue
		}
		m.TSState = TSErase
		m.OutputState = TSEraseOut
		erased = append(erased, m.ID)
	}
	return erased
}

// ConvertToPlainInstall transforms what would be an add_update into a bare
// add_install for install-only package names, so multiple versions can
// coexist, per spec §4.I.
func ConvertToPlainInstall(ts *Set, pkg *rpmpkg.Package) MemberID {
	return ts.AddInstall(pkg)
}
