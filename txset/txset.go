// Package txset implements the transaction set: the in-progress plan of
// package actions, with member states and relationships, per spec §4.E.
// Per DESIGN NOTES §9, members refer to each other by MemberID (a plain
// int into a slice arena) rather than by pointer, breaking the cyclic
// object graph the same way the teacher's atom/dependency/ProjectIdentifier
// triplet keeps its selection stack acyclic.
package txset

import (
	"sort"

	"github.com/james-antill/yum/evr"
	"github.com/james-antill/yum/rpmpkg"
)

// MemberID indexes into a Set's member arena. The zero value never denotes
// a live member; Set.members is always 1-indexed so a MemberID of 0 can
// mean "absent" in call sites that need it.
type MemberID int

// TSState is a member's transaction-set state.
type TSState string

const (
	// TSNone marks a member created only to carry backlinks (e.g. the old
	// side of an update that isn't itself separately erased).
	TSNone    TSState = ""
	TSInstall TSState = "i"
	TSUpdate  TSState = "u"
	TSErase   TSState = "e"
)

// OutputState is the externally-reported disposition of a member.
type OutputState int

const (
	TSAvailable OutputState = iota
	TSInstallOut
	TSTrueInstall
	TSUpdateOut
	TSObsoleting
	TSObsoleted
	TSEraseOut
)

// Relation is a (package, kind) tag used for RelatedTo bookkeeping (e.g.
// group membership, dependency chains the front-end wants to report).
type Relation struct {
	Member MemberID
	Kind   string
}

// TxMember is one entry in the transaction set: a planned action on one
// package plus its relationships to other members, all by MemberID.
type TxMember struct {
	ID          MemberID
	Pkg         *rpmpkg.Package
	TSState     TSState
	OutputState OutputState

	Updates     []MemberID
	UpdatedBy   []MemberID
	Obsoletes   []MemberID
	ObsoletedBy []MemberID
	DependsOn   []MemberID

	RelatedTo []Relation
	Groups    []string

	IsDep    bool
	Reason   string // "user" or "dep"
	Resolved bool
}

// Set is the transaction set: a slice arena of members plus a NEVRA index.
type Set struct {
	members []TxMember // members[0] is unused so MemberID 0 means absent
	byNEVRA map[string]MemberID

	probFilterFlags map[string]bool
}

// New returns an empty Set.
func New() *Set {
	return &Set{
		members:         []TxMember{{}}, // index 0 reserved
		byNEVRA:         make(map[string]MemberID),
		probFilterFlags: make(map[string]bool),
	}
}

func (s *Set) member(id MemberID) *TxMember {
	if id <= 0 || int(id) >= len(s.members) {
		return nil
	}
	return &s.members[id]
}

// getOrCreate returns the existing member for pkg's NEVRA, or allocates a
// new backlink-only member (TSNone/TSAvailable) for it.
func (s *Set) getOrCreate(pkg *rpmpkg.Package) MemberID {
	key := pkg.NEVRA.String()
	if id, ok := s.byNEVRA[key]; ok {
		return id
	}
	id := MemberID(len(s.members))
	s.members = append(s.members, TxMember{ID: id, Pkg: pkg, OutputState: TSAvailable})
	s.byNEVRA[key] = id
	return id
}

// AddInstall adds a plain install member.
func (s *Set) AddInstall(pkg *rpmpkg.Package) MemberID {
	id := s.getOrCreate(pkg)
	m := s.member(id)
	m.TSState = TSInstall
	m.OutputState = TSInstallOut
	return id
}

// AddUpdate links newPkg as an update over oldPkg: new.Updates += old,
// old.UpdatedBy += new.
func (s *Set) AddUpdate(newPkg, oldPkg *rpmpkg.Package) (newID, oldID MemberID) {
	newID = s.getOrCreate(newPkg)
	oldID = s.getOrCreate(oldPkg)
	nm := s.member(newID)
	nm.TSState = TSUpdate
	nm.OutputState = TSUpdateOut
	nm.Updates = appendUnique(nm.Updates, oldID)
	om := s.member(oldID)
	om.UpdatedBy = appendUnique(om.UpdatedBy, newID)
	return newID, oldID
}

// AddErase marks pkg for removal.
func (s *Set) AddErase(pkg *rpmpkg.Package) MemberID {
	id := s.getOrCreate(pkg)
	m := s.member(id)
	m.TSState = TSErase
	m.OutputState = TSEraseOut
	return id
}

// AddObsoleting links newPkg as obsoleting oldPkg: new.Obsoletes += old,
// old.ObsoletedBy += new, and old is implicitly erased.
func (s *Set) AddObsoleting(newPkg, oldPkg *rpmpkg.Package) (newID, oldID MemberID) {
	newID = s.getOrCreate(newPkg)
	oldID = s.getOrCreate(oldPkg)
	nm := s.member(newID)
	nm.TSState = TSInstall
	nm.OutputState = TSObsoleting
	nm.Obsoletes = appendUnique(nm.Obsoletes, oldID)
	om := s.member(oldID)
	om.TSState = TSErase
	om.OutputState = TSObsoleted
	om.ObsoletedBy = appendUnique(om.ObsoletedBy, newID)
	return newID, oldID
}

// AddObsoleted is AddObsoleting with arguments in (old, new) order, for
// call sites that discover the obsoleted side first.
func (s *Set) AddObsoleted(oldPkg, newPkg *rpmpkg.Package) (oldID, newID MemberID) {
	newID, oldID = s.AddObsoleting(newPkg, oldPkg)
	return oldID, newID
}

func appendUnique(list []MemberID, id MemberID) []MemberID {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}

// NaevrPattern is a partial predicate over NEVRA, mirroring sack.NEVRAPattern.
type NaevrPattern struct {
	Name, Epoch, Version, Release, Arch string
}

func (pat NaevrPattern) matches(n rpmpkg.NEVRA) bool {
	if pat.Name != "" && pat.Name != n.Name {
		return false
	}
	if pat.Epoch != "" && pat.Epoch != n.Epoch {
		return false
	}
	if pat.Version != "" && pat.Version != n.Version {
		return false
	}
	if pat.Release != "" && pat.Release != n.Release {
		return false
	}
	if pat.Arch != "" && pat.Arch != n.Arch {
		return false
	}
	return true
}

// GetMembers returns members optionally restricted by NEVRA pattern and/or
// ts_state. A zero-value pattern or empty state string means "no filter".
func (s *Set) GetMembers(pat NaevrPattern, state TSState) []*TxMember {
	var out []*TxMember
	for i := 1; i < len(s.members); i++ {
		m := &s.members[i]
		if m.Pkg == nil {
			continue
		}
		if state != "" && m.TSState != state {
			continue
		}
		if !pat.matches(m.Pkg.NEVRA) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// MatchNaevr is GetMembers with no state filter.
func (s *Set) MatchNaevr(pat NaevrPattern) []*TxMember {
	return s.GetMembers(pat, "")
}

// Remove drops the member for the given NEVRA and scrubs it from every
// other member's back-reference lists.
func (s *Set) Remove(nevra string) bool {
	id, ok := s.byNEVRA[nevra]
	if !ok {
		return false
	}
	delete(s.byNEVRA, nevra)
	for i := 1; i < len(s.members); i++ {
		m := &s.members[i]
		if m.ID == id {
			continue
		}
		m.Updates = removeID(m.Updates, id)
		m.UpdatedBy = removeID(m.UpdatedBy, id)
		m.Obsoletes = removeID(m.Obsoletes, id)
		m.ObsoletedBy = removeID(m.ObsoletedBy, id)
		m.DependsOn = removeID(m.DependsOn, id)
	}
	s.members[id] = TxMember{ID: id}
	return true
}

func removeID(list []MemberID, id MemberID) []MemberID {
	out := list[:0]
	for _, existing := range list {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

// IsObsoleted reports whether the member for nevra has been obsoleted by
// another member.
func (s *Set) IsObsoleted(nevra string) bool {
	id, ok := s.byNEVRA[nevra]
	if !ok {
		return false
	}
	m := s.member(id)
	return m != nil && len(m.ObsoletedBy) > 0
}

// isActiveInstall reports whether m is in one of the output states counted
// as "currently providing/requiring" for GetProvides/GetRequires, per spec §4.E.
func isActiveInstall(m *TxMember) bool {
	switch m.OutputState {
	case TSInstallOut, TSTrueInstall, TSUpdateOut, TSObsoleting:
		return true
	}
	return false
}

// GetProvides returns the packages of currently-active install members
// that satisfy req.
func (s *Set) GetProvides(req evr.Requirement) []*rpmpkg.Package {
	var out []*rpmpkg.Package
	for i := 1; i < len(s.members); i++ {
		m := &s.members[i]
		if !isActiveInstall(m) || m.Pkg == nil {
			continue
		}
		self := m.Pkg.SelfProvide()
		if req.Matches(self, self.EVR) {
			out = append(out, m.Pkg)
			continue
		}
		for _, pr := range m.Pkg.Provides {
			if req.Matches(pr, m.Pkg.EVR()) {
				out = append(out, m.Pkg)
				break
			}
		}
	}
	return out
}

// GetRequires returns, for every currently-active install member, the
// subset of its Requires entries matching req's name.
func (s *Set) GetRequires(req evr.Requirement) map[*rpmpkg.Package][]evr.Requirement {
	out := make(map[*rpmpkg.Package][]evr.Requirement)
	for i := 1; i < len(s.members); i++ {
		m := &s.members[i]
		if !isActiveInstall(m) || m.Pkg == nil {
			continue
		}
		var hits []evr.Requirement
		for _, r := range m.Pkg.Requires {
			if r.Name == req.Name {
				hits = append(hits, r)
			}
		}
		if len(hits) > 0 {
			out[m.Pkg] = hits
		}
	}
	return out
}

// ResetResolved clears every member's Resolved flag for a fresh resolver
// pass. hard also clears derivation metadata (IsDep, Reason, DependsOn),
// per spec §4.E.
func (s *Set) ResetResolved(hard bool) {
	for i := 1; i < len(s.members); i++ {
		m := &s.members[i]
		m.Resolved = false
		if hard {
			m.IsDep = false
			m.Reason = ""
			m.DependsOn = nil
		}
	}
}

// Track ensures a backlink-only member exists for pkg without changing any
// existing TSState, so a package that needs no install/update/erase action
// can still carry group-membership tags (e.g. an already-installed
// mandatory group member).
func (s *Set) Track(pkg *rpmpkg.Package) MemberID {
	return s.getOrCreate(pkg)
}

// TagGroup records that the member(s) for name belong to groupID, per spec
// §4.H's group-membership bookkeeping (group_remove only drops a member
// once every group referencing it has been removed).
func (s *Set) TagGroup(name, groupID string) {
	for i := 1; i < len(s.members); i++ {
		m := &s.members[i]
		if m.Pkg == nil || m.Pkg.Name != name {
			continue
		}
		tagged := false
		for _, g := range m.Groups {
			if g == groupID {
				tagged = true
				break
			}
		}
		if !tagged {
			m.Groups = append(m.Groups, groupID)
		}
	}
}

// UntagGroup removes groupID from every member's group list, returning the
// member IDs that now belong to no group at all (group_remove's "fell out
// of the TxSet" candidates).
func (s *Set) UntagGroup(groupID string) []MemberID {
	var orphaned []MemberID
	for i := 1; i < len(s.members); i++ {
		m := &s.members[i]
		if m.Pkg == nil || len(m.Groups) == 0 {
			continue
		}
		kept := m.Groups[:0]
		for _, g := range m.Groups {
			if g != groupID {
				kept = append(kept, g)
			}
		}
		if len(kept) != len(m.Groups) {
			m.Groups = kept
			if len(m.Groups) == 0 {
				orphaned = append(orphaned, m.ID)
			}
		}
	}
	return orphaned
}

// AddProbFilterFlag appends to the transaction-level rpm problem filter
// set.
func (s *Set) AddProbFilterFlag(flag string) {
	s.probFilterFlags[flag] = true
}

// HasProbFilterFlag reports whether flag has been set.
func (s *Set) HasProbFilterFlag(flag string) bool {
	return s.probFilterFlags[flag]
}

// SortedByEVRDesc returns members sorted newest-EVR-first, for callers
// (e.g. the install-only limiter) that need a deterministic ordering.
func SortedByEVRDesc(members []*TxMember) []*TxMember {
	out := append([]*TxMember(nil), members...)
	sort.Slice(out, func(i, j int) bool {
		return evr.Compare(out[i].Pkg.EVR(), out[j].Pkg.EVR()) > 0
	})
	return out
}
