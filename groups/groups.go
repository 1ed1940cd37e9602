// Package groups holds the parsed comps-style group catalog (spec §4.H):
// group id to member package names, split by mandatory/default/optional
// type, plus conditional (package, cond) pairs. Parsing the comps XML
// itself is out of scope (spec §1); callers hand this package an
// already-composed Catalog.
package groups

import "github.com/james-antill/yum/config"

// Conditional is a (package, cond) pair: package is pulled in only once
// cond is installed, per spec §4.H.
type Conditional struct {
	Package string
	Cond    string
}

// Group is one comps group: a set of package names split by membership
// type, plus any conditional members.
type Group struct {
	ID   string
	Name string

	Mandatory []string
	Default   []string
	Optional  []string

	Conditional []Conditional
}

// Members returns every unconditional package name belonging to a package
// type cfg wants expanded (per cfg.WantsGroupType), deduplicated, in
// mandatory/default/optional order. A nil cfg expands mandatory only.
func (g *Group) Members(cfg *config.Config) []string {
	wants := func(t config.GroupPackageType) bool {
		if cfg == nil {
			return t == config.GroupMandatory
		}
		return cfg.WantsGroupType(t)
	}
	seen := make(map[string]bool)
	var out []string
	add := func(names []string) {
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	if wants(config.GroupMandatory) {
		add(g.Mandatory)
	}
	if wants(config.GroupDefault) {
		add(g.Default)
	}
	if wants(config.GroupOptional) {
		add(g.Optional)
	}
	return out
}

// AllPackages returns every package name the group can ever contribute,
// mandatory/default/optional plus conditional, for group_remove's
// "every member this group could have added" sweep.
func (g *Group) AllPackages() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(names []string) {
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	add(g.Mandatory)
	add(g.Default)
	add(g.Optional)
	for _, c := range g.Conditional {
		add([]string{c.Package})
	}
	return out
}

// Catalog is the composed set of every known group, keyed by id.
type Catalog struct {
	groups map[string]*Group
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{groups: make(map[string]*Group)}
}

// Add registers or replaces a group.
func (c *Catalog) Add(g *Group) {
	c.groups[g.ID] = g
}

// Get returns the group for id, or false if unknown.
func (c *Catalog) Get(id string) (*Group, bool) {
	g, ok := c.groups[id]
	return g, ok
}
