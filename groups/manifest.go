package groups

import (
	"os"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// manifestConditional is the TOML wire shape of one Conditional entry.
type manifestConditional struct {
	Package string `toml:"package"`
	Cond    string `toml:"cond"`
}

// manifestGroup is the TOML wire shape of one Group entry, the same
// declarative array-of-tables style the teacher uses for Gopkg.lock's
// "[[projects]]".
type manifestGroup struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`

	Mandatory []string `toml:"mandatory"`
	Default   []string `toml:"default"`
	Optional  []string `toml:"optional"`

	Conditional []manifestConditional `toml:"conditional"`
}

type manifestFile struct {
	Group []manifestGroup `toml:"group"`
}

// LoadCatalog reads a TOML-described group catalog from path, standing in
// for the out-of-scope comps-XML parser (spec §1): a pre-parsed,
// declarative description of group membership, not a live comps fetch.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading group catalog %q", path)
	}
	var mf manifestFile
	if err := toml.Unmarshal(data, &mf); err != nil {
		return nil, errors.Wrapf(err, "parsing group catalog %q", path)
	}

	cat := NewCatalog()
	for _, mg := range mf.Group {
		g := &Group{
			ID:        mg.ID,
			Name:      mg.Name,
			Mandatory: mg.Mandatory,
			Default:   mg.Default,
			Optional:  mg.Optional,
		}
		for _, mc := range mg.Conditional {
			g.Conditional = append(g.Conditional, Conditional{Package: mc.Package, Cond: mc.Cond})
		}
		cat.Add(g)
	}
	return cat, nil
}
