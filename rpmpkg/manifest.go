package rpmpkg

import (
	"os"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/james-antill/yum/evr"
)

// manifestPackage is the TOML wire shape for one package entry in a
// manifest file, mirroring the teacher's declarative Gopkg.toml style:
// plain scalars plus string-list PRCO fields parsed through
// evr.ParseRequirement rather than a nested table per requirement.
type manifestPackage struct {
	Name    string `toml:"name"`
	Epoch   string `toml:"epoch"`
	Version string `toml:"version"`
	Release string `toml:"release"`
	Arch    string `toml:"arch"`

	Provides  []string `toml:"provides"`
	Requires  []string `toml:"requires"`
	Conflicts []string `toml:"conflicts"`
	Obsoletes []string `toml:"obsoletes"`

	Files  []string `toml:"files"`
	Dirs   []string `toml:"dirs"`
	Ghosts []string `toml:"ghosts"`

	SourceRPM string `toml:"sourcerpm"`
}

// manifestFile is the top-level shape of a package manifest: a flat list
// of packages under a single "package" array-of-tables, the same layout
// the teacher uses for Gopkg.lock's "[[projects]]".
type manifestFile struct {
	Package []manifestPackage `toml:"package"`
}

// LoadManifest reads a TOML-described package manifest from path and
// returns the packages it lists, tagged with the given RepoID/Source. It
// stands in for the out-of-scope repodata/rpmdb backend (spec §1): a
// pre-parsed, declarative description of package metadata, not a live
// repository fetch.
func LoadManifest(path string, repoID string, source SourceKind) ([]*Package, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading manifest %q", path)
	}
	var mf manifestFile
	if err := toml.Unmarshal(data, &mf); err != nil {
		return nil, errors.Wrapf(err, "parsing manifest %q", path)
	}

	out := make([]*Package, 0, len(mf.Package))
	for _, mp := range mf.Package {
		provides, err := parseRequirements(mp.Provides)
		if err != nil {
			return nil, errors.Wrapf(err, "package %q provides", mp.Name)
		}
		requires, err := parseRequirements(mp.Requires)
		if err != nil {
			return nil, errors.Wrapf(err, "package %q requires", mp.Name)
		}
		conflicts, err := parseRequirements(mp.Conflicts)
		if err != nil {
			return nil, errors.Wrapf(err, "package %q conflicts", mp.Name)
		}
		obsoletes, err := parseRequirements(mp.Obsoletes)
		if err != nil {
			return nil, errors.Wrapf(err, "package %q obsoletes", mp.Name)
		}

		out = append(out, &Package{
			NEVRA: NEVRA{
				Name:    mp.Name,
				Epoch:   mp.Epoch,
				Version: mp.Version,
				Release: mp.Release,
				Arch:    mp.Arch,
			},
			Provides:  provides,
			Requires:  requires,
			Conflicts: conflicts,
			Obsoletes: obsoletes,
			Files:     mp.Files,
			Dirs:      mp.Dirs,
			Ghosts:    mp.Ghosts,
			RepoID:    repoID,
			Source:    source,
			SourceRPM: mp.SourceRPM,
		})
	}
	return out, nil
}

func parseRequirements(entries []string) ([]evr.Requirement, error) {
	out := make([]evr.Requirement, 0, len(entries))
	for _, s := range entries {
		req, err := evr.ParseRequirement(s)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}
