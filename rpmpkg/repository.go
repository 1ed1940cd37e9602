package rpmpkg

// InstalledRepoID is the sentinel repository identifier that denotes the
// running system's installed-package database, per spec §3.
const InstalledRepoID = "installed"

// Repository is the opaque identity of a package source handle: a
// repository id, a priority cost, and enabled/gpgcheck flags. The
// PackageSack section it points to is supplied externally (spec §1:
// repository metadata acquisition is out of scope for this core).
type Repository struct {
	ID        string
	Cost      int
	Enabled   bool
	GPGCheck  bool
}

// NewRepository returns a Repository with the spec-mandated default cost of
// 1000.
func NewRepository(id string) Repository {
	return Repository{ID: id, Cost: 1000, Enabled: true}
}
