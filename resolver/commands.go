// commands.go implements the public command surface of spec §6: the
// operations a CLI/front-end drives before calling ResolveDeps. Each
// command mutates the TxSet directly; dependency closure is a separate,
// later step.
package resolver

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/james-antill/yum/evr"
	"github.com/james-antill/yum/rpmpkg"
	"github.com/james-antill/yum/sack"
	"github.com/james-antill/yum/yumerr"
)

// Install resolves pattern against the sack (exact name, glob, or a
// versioned/file dependency expression) and adds the newest matching
// package(s) as direct user installs. A leading "@" forwards to
// SelectGroup, per spec §6.
func (r *Resolver) Install(pattern string) error {
	if groupID, ok := strings.CutPrefix(pattern, "@"); ok {
		return r.SelectGroup(groupID)
	}

	exact, matched, unmatched := r.Sack.MatchPackageNames([]string{pattern})
	names := append(append([]string{}, exact...), matched...)

	added := 0
	for _, name := range names {
		for _, pkg := range r.Sack.ReturnNewestByNameArch(name) {
			r.addDirectInstall(pkg)
			added++
		}
	}

	for _, pat := range unmatched {
		pkg, err := r.returnPackageByDep(pat)
		if err != nil {
			continue
		}
		if pkg != nil {
			r.addDirectInstall(pkg)
			added++
		}
	}

	if added == 0 {
		return &yumerr.InstallError{Msg: fmt.Sprintf("no package found matching %q", pattern)}
	}
	return nil
}

func (r *Resolver) addDirectInstall(pkg *rpmpkg.Package) {
	if r.Config != nil && r.Config.IsInstallOnly(pkg.Name) {
		r.TxSet.AddInstall(pkg)
		return
	}
	if existing := r.installedByName(pkg.Name); existing != nil {
		if !existing.EVREqual(pkg.NEVRA) {
			r.TxSet.AddUpdate(pkg, existing)
		}
		return
	}
	r.TxSet.AddInstall(pkg)
}

// returnPackageByDep resolves a versioned dependency expression
// ("foo > 1.2") or a file path ("/bin/foo") to one providing package,
// chosen by SelectBestProvider with the first provider standing in as the
// requirer, per spec §6 "unmatched strings are tried as returnPackagesByDep".
func (r *Resolver) returnPackageByDep(pattern string) (*rpmpkg.Package, error) {
	req, err := evr.ParseRequirement(pattern)
	if err != nil {
		return nil, err
	}
	providers := r.Sack.SearchProvides(req)
	if len(providers) == 0 {
		return nil, &yumerr.InstallError{Msg: "nothing provides " + pattern}
	}
	return SelectBestProvider(providers, providers[0]), nil
}

// matchInstalledForUpdate resolves an update pattern to installed packages:
// an exact name first, falling back to a versioned/file dependency
// expression matched against what's currently installed (spec §6's "update
// /path/to/file" form).
func (r *Resolver) matchInstalledForUpdate(pattern string) []*rpmpkg.Package {
	var out []*rpmpkg.Package
	for _, p := range r.Sack.Installed() {
		if p.Name == pattern {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		return out
	}
	req, err := evr.ParseRequirement(pattern)
	if err != nil {
		return nil
	}
	for _, p := range r.Sack.SearchProvides(req) {
		if p.RepoID == rpmpkg.InstalledRepoID {
			out = append(out, p)
		}
	}
	return out
}

// Update updates a single name (pattern != "") or every installed package
// (pattern == ""). Obsoletes are applied before updates, and a name
// already being obsoleted is never also updated, per spec §6.
func (r *Resolver) Update(pattern string) error {
	installed := r.Sack.Installed()
	if pattern != "" {
		filtered := r.matchInstalledForUpdate(pattern)
		if len(filtered) == 0 {
			return &yumerr.InstallError{Msg: fmt.Sprintf("no installed package matches %q", pattern)}
		}
		installed = filtered
	}

	obsoletedNames := make(map[string]bool)
	if r.Config == nil || r.Config.Obsoletes {
		for _, inst := range installed {
			obsoleters := r.Updates.ObsoletesFor(inst)
			if len(obsoleters) == 0 {
				continue
			}
			// A single installed package can be obsoleted by more than one
			// differently-named package at once (a package split); keep the
			// newest release per obsoleting name rather than collapsing to
			// a single winner.
			byName := make(map[string][]*rpmpkg.Package)
			for _, o := range obsoleters {
				byName[o.Name] = append(byName[o.Name], o)
			}
			for _, group := range byName {
				r.TxSet.AddObsoleting(newestPackage(group), inst)
			}
			obsoletedNames[inst.Name] = true
		}
	}

	for _, inst := range installed {
		if obsoletedNames[inst.Name] {
			continue
		}
		ups := r.Updates.UpdatesFor(inst)
		if len(ups) == 0 {
			continue
		}
		newest := newestPackage(ups)
		if r.Config != nil && r.Config.IsInstallOnly(inst.Name) {
			r.TxSet.AddInstall(newest)
			continue
		}
		r.TxSet.AddUpdate(newest, inst)
	}
	return nil
}

func newestPackage(pkgs []*rpmpkg.Package) *rpmpkg.Package {
	best := pkgs[0]
	for _, p := range pkgs[1:] {
		if evr.Compare(p.EVR(), best.EVR()) > 0 {
			best = p
		}
	}
	return best
}

// Remove marks every installed package matching pattern (name, glob, or
// provides expression) for erase.
func (r *Resolver) Remove(pattern string) error {
	if pattern == "" {
		return &yumerr.RemoveError{Msg: "nothing specified to remove"}
	}
	removed := 0
	for _, p := range r.Sack.Installed() {
		if ok, _ := filepath.Match(pattern, p.Name); ok {
			r.TxSet.AddErase(p)
			removed++
		}
	}
	if removed == 0 {
		req, err := evr.ParseRequirement(pattern)
		if err == nil {
			for _, p := range r.Sack.Installed() {
				self := p.SelfProvide()
				matched := req.Matches(self, self.EVR)
				for _, prov := range p.Provides {
					if !matched {
						matched = req.Matches(prov, p.EVR())
					}
				}
				if matched {
					r.TxSet.AddErase(p)
					removed++
				}
			}
		}
	}
	if removed == 0 {
		return &yumerr.RemoveError{Msg: fmt.Sprintf("no installed package matches %q", pattern)}
	}
	return nil
}

// Reinstall removes and re-installs the identical NEVRA, requiring the
// rpm problem filters spec §6 names.
func (r *Resolver) Reinstall(pattern string) error {
	var target *rpmpkg.Package
	for _, p := range r.Sack.Installed() {
		if p.Name == pattern {
			target = p
			break
		}
	}
	if target == nil {
		return &yumerr.InstallError{Msg: fmt.Sprintf("no installed package named %q", pattern)}
	}
	available := r.Sack.SearchNEVRA(sack.NEVRAPattern{
		Name: target.Name, Epoch: target.Epoch, Version: target.Version, Release: target.Release, Arch: target.Arch,
	})
	var same *rpmpkg.Package
	for _, p := range available {
		if p.RepoID != rpmpkg.InstalledRepoID {
			same = p
			break
		}
	}
	if same == nil {
		return &yumerr.InstallError{Msg: fmt.Sprintf("no available package matches installed %s", target.NEVRA.String())}
	}

	r.TxSet.AddProbFilterFlag("REPLACEPKG")
	r.TxSet.AddProbFilterFlag("REPLACENEWFILES")
	r.TxSet.AddProbFilterFlag("REPLACEOLDFILES")
	r.TxSet.AddErase(target)
	r.TxSet.AddInstall(same)
	return nil
}

// InstallLocal consumes a package built from a local file: it is wrapped
// in a synthetic, cost-0 single-package repository (so Sack.CostExclude
// keeps it over a same-NEVRA copy from a costlier repository; provider
// selection itself does not look at repository cost) and installed
// or, if updateOnly, only added when it updates an existing package.
func (r *Resolver) InstallLocal(pkg *rpmpkg.Package, updateOnly bool) error {
	pkg.Source = rpmpkg.SourceLocal
	repo := rpmpkg.Repository{ID: "local:" + pkg.NEVRA.String(), Cost: 0, Enabled: true}
	pkg.RepoID = repo.ID
	r.Sack.AddRepository(repo, []*rpmpkg.Package{pkg})

	existing := r.installedByName(pkg.Name)
	if existing == nil {
		if updateOnly {
			return &yumerr.InstallError{Msg: fmt.Sprintf("%s is not installed, update_only requested", pkg.Name)}
		}
		r.TxSet.AddInstall(pkg)
		return nil
	}
	if existing.EVREqual(pkg.NEVRA) {
		return &yumerr.InstallError{Msg: fmt.Sprintf("%s is already installed", pkg.NEVRA.String())}
	}
	r.addUpdate(pkg, existing)
	return nil
}
