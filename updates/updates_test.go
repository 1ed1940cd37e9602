package updates

import (
	"testing"

	"github.com/james-antill/yum/evr"
	"github.com/james-antill/yum/rpmpkg"
)

func mkpkg(name, version, release, arch string) *rpmpkg.Package {
	return &rpmpkg.Package{NEVRA: rpmpkg.NEVRA{Name: name, Version: version, Release: release, Arch: arch}}
}

func TestBuildUpdates(t *testing.T) {
	inst := mkpkg("foo", "1.0", "1", "x86_64")
	avail := mkpkg("foo", "2.0", "1", "x86_64")

	idx := Build([]*rpmpkg.Package{inst}, []*rpmpkg.Package{avail, inst}, "x86_64", nil)
	ups := idx.UpdatesFor(inst)
	if len(ups) != 1 || ups[0] != avail {
		t.Fatalf("expected foo-2.0 to update foo-1.0, got %v", ups)
	}
}

func TestGetObsoletesTuplesNewestCollapsesReleases(t *testing.T) {
	inst := mkpkg("foo", "1.0", "1", "x86_64")
	oldObsoleter := mkpkg("foo-core", "1.0", "1", "x86_64")
	oldObsoleter.Obsoletes = []evr.Requirement{{Name: "foo", Flag: evr.FlagNone}}
	newObsoleter := mkpkg("foo-core", "2.0", "1", "x86_64")
	newObsoleter.Obsoletes = []evr.Requirement{{Name: "foo", Flag: evr.FlagNone}}

	idx := Build([]*rpmpkg.Package{inst}, []*rpmpkg.Package{oldObsoleter, newObsoleter}, "x86_64", nil)

	all := idx.GetObsoletesTuples(false)
	if len(all) != 2 {
		t.Fatalf("expected both obsoleting releases with newest=false, got %d", len(all))
	}

	newest := idx.GetObsoletesTuples(true)
	if len(newest) != 1 || newest[0].New != newObsoleter {
		t.Fatalf("expected only foo-core-2.0 with newest=true, got %+v", newest)
	}
}

func TestGetUpdatesTuplesNewestFalse(t *testing.T) {
	inst := mkpkg("foo", "1.0", "1", "x86_64")
	avail := mkpkg("foo", "2.0", "1", "x86_64")

	idx := Build([]*rpmpkg.Package{inst}, []*rpmpkg.Package{avail}, "x86_64", nil)

	all := idx.GetUpdatesTuples(false)
	newest := idx.GetUpdatesTuples(true)
	if len(all) != 1 || len(newest) != 1 || all[0].New != avail || newest[0].New != avail {
		t.Fatalf("expected a single foo update pair regardless of newest, got all=%+v newest=%+v", all, newest)
	}
}

// TestObsoletesRangedLEQuirk locks in the documented DESIGN NOTES §9(b)
// quirk: a ranged obsoletes with flag "<=" is satisfied by an installed
// EVR that compares equal, not only strictly less.
func TestObsoletesRangedLEQuirk(t *testing.T) {
	inst := mkpkg("foo", "1.0", "1", "x86_64")
	avail := mkpkg("bar", "1.0", "1", "x86_64")
	avail.Obsoletes = []evr.Requirement{
		{Name: "foo", Flag: evr.FlagLE, EVR: evr.EVR{Version: "1.0", Release: "1"}},
	}

	idx := Build([]*rpmpkg.Package{inst}, []*rpmpkg.Package{avail}, "x86_64", nil)
	if !idx.IsObsoleted(inst) {
		t.Fatal("expected equal-EVR obsoletes with <= flag to match, per the documented quirk")
	}
}

func TestObsoletesStrictLTNotSatisfiedByEqual(t *testing.T) {
	inst := mkpkg("foo", "1.0", "1", "x86_64")
	avail := mkpkg("bar", "1.0", "1", "x86_64")
	avail.Obsoletes = []evr.Requirement{
		{Name: "foo", Flag: evr.FlagLT, EVR: evr.EVR{Version: "1.0", Release: "1"}},
	}

	idx := Build([]*rpmpkg.Package{inst}, []*rpmpkg.Package{avail}, "x86_64", nil)
	if idx.IsObsoleted(inst) {
		t.Fatal("expected equal-EVR obsoletes with strict < flag not to match")
	}
}
