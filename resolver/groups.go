package resolver

import (
	"fmt"

	"github.com/james-antill/yum/groups"
	"github.com/james-antill/yum/txset"
	"github.com/james-antill/yum/yumerr"
)

// SelectGroup implements spec §4.H's select_group: mandatory packages are
// always pulled in; default/optional per Config.GroupPackageTypes.
// Conditional packages install only once their cond package is already
// installed or queued; otherwise they're remembered and re-checked by the
// next SelectGroup call (other commands do not re-check them).
func (r *Resolver) SelectGroup(groupID string) error {
	if r.Groups == nil {
		return &yumerr.GroupsError{Msg: fmt.Sprintf("no group catalog loaded, cannot select %q", groupID)}
	}
	g, ok := r.Groups.Get(groupID)
	if !ok {
		return &yumerr.GroupsError{Msg: fmt.Sprintf("unknown group %q", groupID)}
	}

	for _, name := range g.Members(r.Config) {
		r.addGroupMember(name, groupID)
	}

	if r.Config == nil || r.Config.EnableGroupConditionals {
		for _, cond := range g.Conditional {
			if r.nameSatisfied(cond.Cond) {
				r.addGroupMember(cond.Package, groupID)
			} else {
				r.pendingConditionals = append(r.pendingConditionals, cond)
			}
		}
	}

	r.triggerConditionals()
	return nil
}

// addGroupMember installs name (if it isn't already installed at any
// version) and tags the resulting TxSet member with groupID. An
// already-installed member gets no install action but is still tracked so
// it can carry the group tag (GroupRemove needs to see it later).
func (r *Resolver) addGroupMember(name, groupID string) {
	if existing := r.installedByName(name); existing != nil {
		r.TxSet.Track(existing)
	} else {
		r.installIfMissing(name)
	}
	r.TxSet.TagGroup(name, groupID)
}

// installIfMissing queues name for install unless it's already installed.
func (r *Resolver) installIfMissing(name string) {
	if r.installedByName(name) == nil {
		_ = r.Install(name)
	}
}

// nameSatisfied reports whether name is already installed or has been
// queued for install/update in this transaction.
func (r *Resolver) nameSatisfied(name string) bool {
	if r.installedByName(name) != nil {
		return true
	}
	for _, m := range r.TxSet.GetMembers(txset.NaevrPattern{Name: name}, "") {
		if m.TSState == txset.TSInstall || m.TSState == txset.TSUpdate {
			return true
		}
	}
	return false
}

// triggerConditionals re-checks every outstanding group conditional,
// installing and consuming any whose cond is now satisfied.
func (r *Resolver) triggerConditionals() {
	if len(r.pendingConditionals) == 0 {
		return
	}
	var remaining []groups.Conditional
	for _, cond := range r.pendingConditionals {
		if r.nameSatisfied(cond.Cond) {
			r.installIfMissing(cond.Package)
		} else {
			remaining = append(remaining, cond)
		}
	}
	r.pendingConditionals = remaining
}

// GroupRemove implements spec §4.H's group_remove: issue remove(name=pkg)
// for every package the group could have contributed, then drop group
// bookkeeping; a member that still belongs to another group is left alone.
func (r *Resolver) GroupRemove(groupID string) error {
	if r.Groups == nil {
		return &yumerr.GroupsError{Msg: fmt.Sprintf("no group catalog loaded, cannot remove %q", groupID)}
	}
	g, ok := r.Groups.Get(groupID)
	if !ok {
		return &yumerr.GroupsError{Msg: fmt.Sprintf("unknown group %q", groupID)}
	}

	r.TxSet.UntagGroup(groupID)

	for _, name := range g.AllPackages() {
		if !r.stillGrouped(name) {
			_ = r.Remove(name)
		}
	}
	return nil
}

// stillGrouped reports whether any installed TxSet member for name still
// carries at least one group tag (i.e. another group still wants it kept).
func (r *Resolver) stillGrouped(name string) bool {
	for _, m := range r.TxSet.GetMembers(txset.NaevrPattern{Name: name}, "") {
		if len(m.Groups) > 0 {
			return true
		}
	}
	return false
}
