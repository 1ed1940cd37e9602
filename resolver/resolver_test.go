package resolver

import (
	"context"
	"testing"

	"github.com/james-antill/yum/config"
	"github.com/james-antill/yum/evr"
	"github.com/james-antill/yum/rpmpkg"
	"github.com/james-antill/yum/sack"
	"github.com/james-antill/yum/txset"
	"github.com/james-antill/yum/updates"
)

func mkpkg(name, version, release, arch, repoID string) *rpmpkg.Package {
	return &rpmpkg.Package{
		NEVRA:  rpmpkg.NEVRA{Name: name, Version: version, Release: release, Arch: arch},
		RepoID: repoID,
		Source: rpmpkg.SourceAvailable,
	}
}

func mkinstalled(name, version, release, arch string) *rpmpkg.Package {
	p := mkpkg(name, version, release, arch, rpmpkg.InstalledRepoID)
	p.Source = rpmpkg.SourceInstalled
	return p
}

func newResolver(s *sack.Sack) *Resolver {
	cfg := config.Default()
	return &Resolver{
		Sack:    s,
		TxSet:   txset.New(),
		Updates: updates.Build(s.Installed(), s.Available(), "x86_64", cfg),
		Config:  cfg,
	}
}

func TestSelectBestProviderPrefersSourceRPMMatch(t *testing.T) {
	requirer := mkpkg("app", "1.0", "1", "x86_64", "base")
	requirer.SourceRPM = "app-1.0-1.src.rpm"

	same := mkpkg("libapp", "1.0", "1", "x86_64", "base")
	same.SourceRPM = "app-1.0-1.src.rpm"
	other := mkpkg("libapp", "1.0", "1", "x86_64", "other")
	other.SourceRPM = "other-1.0-1.src.rpm"

	best := SelectBestProvider([]*rpmpkg.Package{other, same}, requirer)
	if best != same {
		t.Fatalf("expected shared-sourcerpm provider to win, got %v", best.NEVRA)
	}
}

func TestSelectBestProviderArchDistance(t *testing.T) {
	requirer := mkpkg("app", "1.0", "1", "x86_64", "base")
	exact := mkpkg("libfoo", "1.0", "1", "x86_64", "base")
	noarch := mkpkg("libfoo", "1.0", "1", "noarch", "base")

	best := SelectBestProvider([]*rpmpkg.Package{noarch, exact}, requirer)
	if best != exact {
		t.Fatalf("expected exact-arch provider to win over noarch, got %v", best.NEVRA)
	}
}

func TestSelectBestProviderObsoletesPrecedence(t *testing.T) {
	requirer := mkpkg("app", "1.0", "1", "x86_64", "base")
	oldName := mkpkg("oldlib", "1.0", "1", "x86_64", "base")
	newName := mkpkg("newlib", "2.0", "1", "x86_64", "base")
	newName.Obsoletes = []evr.Requirement{{Name: "oldlib", Flag: evr.FlagNone}}

	best := compareProviders(newName, oldName, requirer)
	if best != newName {
		t.Fatalf("expected obsoleting candidate to win, got %v", best.NEVRA)
	}
	// Symmetric call should agree.
	best2 := compareProviders(oldName, newName, requirer)
	if best2 != newName {
		t.Fatalf("expected obsoleting package to win regardless of fold order, got %v", best2.NEVRA)
	}
}

func TestProcessReqFromTransactionAddsInstall(t *testing.T) {
	s := sack.New()
	repo := rpmpkg.NewRepository("base")
	dep := mkpkg("libfoo", "1.0", "1", "x86_64", "base")
	s.AddRepository(repo, []*rpmpkg.Package{dep})

	r := newResolver(s)
	req := evr.Requirement{Name: "libfoo", Flag: evr.FlagNone}
	changed, installed := r.processReqFromTransaction(mkpkg("app", "1.0", "1", "x86_64", "base"), req, &depCheck{})
	if !changed || !installed {
		t.Fatalf("expected processReqFromTransaction to add an install")
	}
	members := r.TxSet.GetMembers(txset.NaevrPattern{Name: "libfoo"}, txset.TSInstall)
	if len(members) != 1 {
		t.Fatalf("expected libfoo to be queued for install, got %d members", len(members))
	}
	if !members[0].IsDep {
		t.Fatalf("expected dependency-added member to be marked IsDep")
	}
}

func TestProcessReqFromTransactionRecordsMissingDependency(t *testing.T) {
	s := sack.New()
	r := newResolver(s)
	req := evr.Requirement{Name: "nothingprovides", Flag: evr.FlagNone}
	dc := &depCheck{}
	changed, installed := r.processReqFromTransaction(mkpkg("app", "1.0", "1", "x86_64", "base"), req, dc)
	if changed || installed {
		t.Fatalf("expected no change when nothing provides the requirement")
	}
	if len(dc.messages) != 1 {
		t.Fatalf("expected exactly one recorded message, got %v", dc.messages)
	}
}

func TestFileReqPassResolvesInstalledFileRequirement(t *testing.T) {
	s := sack.New()
	installed := mkinstalled("app", "1.0", "1", "x86_64")
	installed.Requires = []evr.Requirement{{Name: "/usr/bin/foo", Flag: evr.FlagNone}}
	s.AddInstalled([]*rpmpkg.Package{installed})

	provider := mkpkg("foo", "1.0", "1", "x86_64", "base")
	provider.Files = []string{"/usr/bin/foo"}
	s.AddRepository(rpmpkg.NewRepository("base"), []*rpmpkg.Package{provider})

	r := newResolver(s)
	dc := &depCheck{}
	changed := r.fileReqPass(context.Background(), dc)
	if !changed {
		t.Fatalf("expected fileReqPass to queue an install for the missing file provider")
	}
	members := r.TxSet.GetMembers(txset.NaevrPattern{Name: "foo"}, txset.TSInstall)
	if len(members) != 1 {
		t.Fatalf("expected foo queued for install, got %d", len(members))
	}
}

func TestFileReqPassSkipsErasingOwner(t *testing.T) {
	s := sack.New()
	installed := mkinstalled("app", "1.0", "1", "x86_64")
	installed.Requires = []evr.Requirement{{Name: "/usr/bin/foo", Flag: evr.FlagNone}}
	s.AddInstalled([]*rpmpkg.Package{installed})

	r := newResolver(s)
	r.TxSet.AddErase(installed)

	dc := &depCheck{}
	changed := r.fileReqPass(context.Background(), dc)
	if changed {
		t.Fatalf("expected no work for a requirer that is itself being erased")
	}
	if len(dc.messages) != 0 {
		t.Fatalf("expected no messages for an erasing package's own requires, got %v", dc.messages)
	}
}

func TestConflictPassPrefersUpdatingConflictingInstalled(t *testing.T) {
	s := sack.New()
	oldConflicter := mkinstalled("bar", "1.0", "1", "x86_64")
	s.AddInstalled([]*rpmpkg.Package{oldConflicter})

	newBar := mkpkg("bar", "2.0", "1", "x86_64", "base")
	newInstall := mkpkg("foo", "1.0", "1", "x86_64", "base")
	newInstall.Conflicts = []evr.Requirement{{Name: "bar", Flag: evr.FlagLT, EVR: evr.EVR{Version: "2.0"}}}
	s.AddRepository(rpmpkg.NewRepository("base"), []*rpmpkg.Package{newBar, newInstall})

	r := newResolver(s)
	r.TxSet.AddInstall(newInstall)

	dc := &depCheck{}
	changed := r.conflictPass(context.Background(), dc)
	if !changed {
		t.Fatalf("expected conflictPass to resolve the conflict via an update")
	}
	if len(dc.messages) != 0 {
		t.Fatalf("expected no unresolved conflict messages, got %v", dc.messages)
	}
	members := r.TxSet.GetMembers(txset.NaevrPattern{Name: "bar"}, txset.TSUpdate)
	if len(members) != 1 {
		t.Fatalf("expected bar to be queued for update away from the conflict, got %d", len(members))
	}
}

func TestConflictPassRecordsUnresolvableConflict(t *testing.T) {
	s := sack.New()
	oldConflicter := mkinstalled("bar", "1.0", "1", "x86_64")
	s.AddInstalled([]*rpmpkg.Package{oldConflicter})

	newInstall := mkpkg("foo", "1.0", "1", "x86_64", "base")
	newInstall.Conflicts = []evr.Requirement{{Name: "bar", Flag: evr.FlagNone}}
	s.AddRepository(rpmpkg.NewRepository("base"), []*rpmpkg.Package{newInstall})

	r := newResolver(s)
	r.TxSet.AddInstall(newInstall)

	dc := &depCheck{}
	changed := r.conflictPass(context.Background(), dc)
	if changed {
		t.Fatalf("expected no resolution path, got changed=true")
	}
	if len(dc.messages) != 1 {
		t.Fatalf("expected one recorded conflict message, got %v", dc.messages)
	}
}

func TestConflictPassChecksTSUpdateMembers(t *testing.T) {
	s := sack.New()
	bazOld := mkinstalled("baz", "1.0", "1", "x86_64")
	bar := mkinstalled("bar", "1.0", "1", "x86_64")
	s.AddInstalled([]*rpmpkg.Package{bazOld, bar})

	bazNew := mkpkg("baz", "2.0", "1", "x86_64", "base")
	bazNew.Conflicts = []evr.Requirement{{Name: "bar", Flag: evr.FlagNone}}
	s.AddRepository(rpmpkg.NewRepository("base"), []*rpmpkg.Package{bazNew})

	r := newResolver(s)
	r.TxSet.AddUpdate(bazNew, bazOld)

	dc := &depCheck{}
	changed := r.conflictPass(context.Background(), dc)
	if changed {
		t.Fatalf("expected no resolution path for an unconditional conflict, got changed=true")
	}
	if len(dc.messages) != 1 {
		t.Fatalf("expected a TSUpdate member's conflict against an installed package to be recorded, got %v", dc.messages)
	}
}

func TestConflictPassChecksNewMembersPairwise(t *testing.T) {
	s := sack.New()
	foo := mkpkg("foo", "1.0", "1", "x86_64", "base")
	bar := mkpkg("bar", "1.0", "1", "x86_64", "base")
	foo.Conflicts = []evr.Requirement{{Name: "bar", Flag: evr.FlagNone}}
	s.AddRepository(rpmpkg.NewRepository("base"), []*rpmpkg.Package{foo, bar})

	r := newResolver(s)
	r.TxSet.AddInstall(foo)
	r.TxSet.AddInstall(bar)

	dc := &depCheck{}
	changed := r.conflictPass(context.Background(), dc)
	if changed {
		t.Fatalf("expected no resolution path for an unconditional conflict between two new installs, got changed=true")
	}
	if len(dc.messages) != 1 {
		t.Fatalf("expected a conflict between two same-transaction new installs to be recorded, got %v", dc.messages)
	}
}

func TestResolveDepsSkipBrokenDropsUnsatisfiable(t *testing.T) {
	s := sack.New()
	good := mkpkg("good", "1.0", "1", "x86_64", "base")
	broken := mkpkg("broken", "1.0", "1", "x86_64", "base")
	broken.Requires = []evr.Requirement{{Name: "missinglib", Flag: evr.FlagNone}}
	s.AddRepository(rpmpkg.NewRepository("base"), []*rpmpkg.Package{good, broken})

	r := newResolver(s)
	r.Config.SkipBroken = true
	r.TxSet.AddInstall(good)
	r.TxSet.AddInstall(broken)

	code, skipped := r.ResolveDeps(context.Background())
	if code != CodeResolved {
		t.Fatalf("expected CodeResolved after skip-broken recovery, got %d (msgs=%v)", code, skipped)
	}
	found := false
	for _, name := range skipped {
		if name == "broken" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected broken to be reported as skipped, got %v", skipped)
	}
	if members := r.TxSet.GetMembers(txset.NaevrPattern{Name: "broken"}, ""); len(members) != 0 {
		t.Fatalf("expected broken to be fully removed from the transaction, got %v", members)
	}
	if members := r.TxSet.GetMembers(txset.NaevrPattern{Name: "good"}, txset.TSInstall); len(members) != 1 {
		t.Fatalf("expected good to remain installed")
	}
}

func TestResolveDepsWithoutSkipBrokenReturnsError(t *testing.T) {
	s := sack.New()
	broken := mkpkg("broken", "1.0", "1", "x86_64", "base")
	broken.Requires = []evr.Requirement{{Name: "missinglib", Flag: evr.FlagNone}}
	s.AddRepository(rpmpkg.NewRepository("base"), []*rpmpkg.Package{broken})

	r := newResolver(s)
	r.Config.SkipBroken = false
	r.TxSet.AddInstall(broken)

	code, msgs := r.ResolveDeps(context.Background())
	if code != CodeError {
		t.Fatalf("expected CodeError, got %d", code)
	}
	if len(msgs) == 0 {
		t.Fatalf("expected at least one error message")
	}
}

func TestResolveDepsEmptyTxSet(t *testing.T) {
	s := sack.New()
	r := newResolver(s)
	code, _ := r.ResolveDeps(context.Background())
	if code != CodeEmpty {
		t.Fatalf("expected CodeEmpty for an empty transaction, got %d", code)
	}
}

func TestResolveDepsCancelledContext(t *testing.T) {
	s := sack.New()
	r := newResolver(s)
	r.TxSet.AddInstall(mkpkg("foo", "1.0", "1", "x86_64", "base"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	code, msgs := r.ResolveDeps(ctx)
	if code != CodeError {
		t.Fatalf("expected a cancelled resolve to report CodeError, got %d", code)
	}
	if len(msgs) == 0 {
		t.Fatalf("expected a cancellation message")
	}
}
