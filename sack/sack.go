// Package sack implements the unified, read-mostly query surface over a set
// of repository catalogs plus the installed-package database, per spec
// §4.C. A radix tree keyed by package name serves exact-name lookups; glob
// patterns are matched with path/filepath.Match, not through the tree.
package sack

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	radix "github.com/armon/go-radix"
	"github.com/james-antill/yum/evr"
	"github.com/james-antill/yum/rpmpkg"
)

// FileListSource lazily supplies the full file manifest for packages in a
// repository, beyond the small "primary" whitelist every package carries
// inline. The out-of-scope real implementation is metadata download; the
// in-repo reference implementation is internal/rpmdb.
type FileListSource interface {
	// PopulateFiles returns, for the named repository, the full file list
	// for each package keyed by NEVRA string.
	PopulateFiles(repoID string) (map[string][]string, error)
}

// primaryFileRegexes are the always-available file paths every package's
// Files/Dirs/Ghosts already carries without triggering lazy population, per
// spec §4.C "File dep lazy population".
var primaryFileRegexes = []*regexp.Regexp{
	regexp.MustCompile(`^/etc/`),
	regexp.MustCompile(`.*bin/.*`),
	regexp.MustCompile(`^/usr/lib/sendmail$`),
}

func isPrimaryFilePattern(pattern string) bool {
	for _, re := range primaryFileRegexes {
		if re.MatchString(pattern) {
			return true
		}
	}
	return false
}

type repoSection struct {
	repo rpmpkg.Repository
	pkgs []*rpmpkg.Package
}

type excludeKey struct {
	repoID string
	nevra  string
}

// Sack is the logical union of per-repository sacks plus the installed-DB
// view.
type Sack struct {
	order   []string
	repos   map[string]*repoSection
	exclude map[excludeKey]bool
	allExcl map[string]bool

	names *radix.Tree // package name -> []*rpmpkg.Package, across all non-excluded repos

	fileSource    FileListSource
	filesPopulated bool
}

// New returns an empty Sack.
func New() *Sack {
	return &Sack{
		repos:   make(map[string]*repoSection),
		exclude: make(map[excludeKey]bool),
		allExcl: make(map[string]bool),
		names:   radix.New(),
	}
}

// SetFileListSource installs the collaborator used to lazily populate full
// file manifests.
func (s *Sack) SetFileListSource(src FileListSource) {
	s.fileSource = src
	s.filesPopulated = false
}

// EnsureFilesPopulated triggers, at most once per sack lifetime, a full
// filelist population from every enabled repository via the installed
// FileListSource. A no-op if no source is set or population already ran.
func (s *Sack) EnsureFilesPopulated() error {
	if s.fileSource == nil || s.filesPopulated {
		return nil
	}
	for _, id := range s.order {
		if s.allExcl[id] || !s.repos[id].repo.Enabled {
			continue
		}
		files, err := s.fileSource.PopulateFiles(id)
		if err != nil {
			return err
		}
		sec := s.repos[id]
		for _, p := range sec.pkgs {
			if full, ok := files[p.NEVRA.String()]; ok {
				p.Files = mergeUnique(p.Files, full)
			}
		}
	}
	s.filesPopulated = true
	return nil
}

func mergeUnique(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, f := range existing {
		seen[f] = true
	}
	out := append([]string(nil), existing...)
	for _, f := range extra {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// SearchFile returns every package whose Files/Dirs/Ghosts match pattern,
// which may be an exact path or a shell glob. Populates full filelists
// first unless pattern is covered by the primary whitelist.
func (s *Sack) SearchFile(pattern string) ([]*rpmpkg.Package, error) {
	if !isPrimaryFilePattern(pattern) {
		if err := s.EnsureFilesPopulated(); err != nil {
			return nil, err
		}
	}
	var out []*rpmpkg.Package
	for _, p := range s.allPackages() {
		if matchesAnyPath(p.Files, pattern) || matchesAnyPath(p.Dirs, pattern) || matchesAnyPath(p.Ghosts, pattern) {
			out = append(out, p)
		}
	}
	return out, nil
}

func matchesAnyPath(list []string, pattern string) bool {
	for _, f := range list {
		if f == pattern {
			return true
		}
		if ok, _ := filepath.Match(pattern, f); ok {
			return true
		}
	}
	return false
}

// AddRepository registers a repository's packages with the sack. Calling it
// again for the same repo.ID replaces that repository's packages.
func (s *Sack) AddRepository(repo rpmpkg.Repository, pkgs []*rpmpkg.Package) {
	if _, exists := s.repos[repo.ID]; !exists {
		s.order = append(s.order, repo.ID)
	}
	s.repos[repo.ID] = &repoSection{repo: repo, pkgs: pkgs}
	s.rebuildNameIndex()
}

// AddInstalled registers the installed-package-database view. It is stored
// under the sentinel repository id rpmpkg.InstalledRepoID.
func (s *Sack) AddInstalled(pkgs []*rpmpkg.Package) {
	s.AddRepository(rpmpkg.NewRepository(rpmpkg.InstalledRepoID), pkgs)
}

// Installed returns every non-excluded package from the installed-DB view.
func (s *Sack) Installed() []*rpmpkg.Package {
	sec, ok := s.repos[rpmpkg.InstalledRepoID]
	if !ok {
		return nil
	}
	var out []*rpmpkg.Package
	for _, p := range sec.pkgs {
		if !s.isExcluded(rpmpkg.InstalledRepoID, p) {
			out = append(out, p)
		}
	}
	return out
}

// Available returns every non-excluded package from any repository other
// than the installed-DB view.
func (s *Sack) Available() []*rpmpkg.Package {
	var out []*rpmpkg.Package
	for _, p := range s.allPackages() {
		if p.RepoID != rpmpkg.InstalledRepoID {
			out = append(out, p)
		}
	}
	return out
}

func (s *Sack) rebuildNameIndex() {
	s.names = radix.New()
	for _, id := range s.order {
		sec := s.repos[id]
		if s.allExcl[id] {
			continue
		}
		for _, p := range sec.pkgs {
			if s.isExcluded(id, p) {
				continue
			}
			var list []*rpmpkg.Package
			if v, ok := s.names.Get(p.Name); ok {
				list = v.([]*rpmpkg.Package)
			}
			s.names.Insert(p.Name, append(list, p))
		}
	}
}

func (s *Sack) isExcluded(repoID string, p *rpmpkg.Package) bool {
	if s.allExcl[repoID] {
		return true
	}
	return s.exclude[excludeKey{repoID: repoID, nevra: p.NEVRA.String()}]
}

// Exclude hides a single package (by repo id + NEVRA) from all subsequent
// queries.
func (s *Sack) Exclude(repoID string, n rpmpkg.NEVRA) {
	s.exclude[excludeKey{repoID: repoID, nevra: n.String()}] = true
	s.rebuildNameIndex()
}

// Include reverses a prior Exclude.
func (s *Sack) Include(repoID string, n rpmpkg.NEVRA) {
	delete(s.exclude, excludeKey{repoID: repoID, nevra: n.String()})
	s.rebuildNameIndex()
}

// ExcludeAllRepo hides every package belonging to repoID.
func (s *Sack) ExcludeAllRepo(repoID string) {
	s.allExcl[repoID] = true
	s.rebuildNameIndex()
}

// allPackages returns every non-excluded package across every repository,
// in repository-registration order then slice order, for deterministic
// iteration (spec §5: ordering guarantees).
func (s *Sack) allPackages() []*rpmpkg.Package {
	var out []*rpmpkg.Package
	for _, id := range s.order {
		sec := s.repos[id]
		if s.allExcl[id] {
			continue
		}
		for _, p := range sec.pkgs {
			if s.isExcluded(id, p) {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}

// NEVRAPattern is a partial predicate for SearchNEVRA: every empty field is
// a wildcard.
type NEVRAPattern struct {
	Name, Epoch, Version, Release, Arch string
}

func (pat NEVRAPattern) matches(p *rpmpkg.Package) bool {
	if pat.Name != "" && pat.Name != p.Name {
		return false
	}
	if pat.Epoch != "" && pat.Epoch != p.Epoch {
		return false
	}
	if pat.Version != "" && pat.Version != p.Version {
		return false
	}
	if pat.Release != "" && pat.Release != p.Release {
		return false
	}
	if pat.Arch != "" && pat.Arch != p.Arch {
		return false
	}
	return true
}

// SearchNEVRA returns every package matching the given partial predicate.
func (s *Sack) SearchNEVRA(pat NEVRAPattern) []*rpmpkg.Package {
	var out []*rpmpkg.Package
	if pat.Name != "" {
		if v, ok := s.names.Get(pat.Name); ok {
			for _, p := range v.([]*rpmpkg.Package) {
				if pat.matches(p) {
					out = append(out, p)
				}
			}
		}
		return out
	}
	for _, p := range s.allPackages() {
		if pat.matches(p) {
			out = append(out, p)
		}
	}
	return out
}

// ByName returns every non-excluded package with the given exact name.
func (s *Sack) ByName(name string) []*rpmpkg.Package {
	if v, ok := s.names.Get(name); ok {
		return v.([]*rpmpkg.Package)
	}
	return nil
}

// SearchProvides returns every package that provides (name, flag, evr),
// considering explicit Provides entries, implicit self-provides, and (for
// file-requirement names) file entries as provides, per spec §4.C.
func (s *Sack) SearchProvides(req evr.Requirement) []*rpmpkg.Package {
	var out []*rpmpkg.Package
	seen := make(map[*rpmpkg.Package]bool)
	add := func(p *rpmpkg.Package) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	if req.IsFileRequirement() {
		if !isPrimaryFilePattern(req.Name) {
			// Best-effort: a population failure shouldn't abort a provides
			// search that the primary whitelist might already satisfy.
			_ = s.EnsureFilesPopulated()
		}
		for _, p := range s.allPackages() {
			if containsPath(p.Files, req.Name) || containsPath(p.Dirs, req.Name) || containsPath(p.Ghosts, req.Name) {
				add(p)
			}
		}
	}

	for _, p := range s.allPackages() {
		self := p.SelfProvide()
		if req.Matches(self, self.EVR) {
			add(p)
			continue
		}
		for _, pr := range p.Provides {
			if req.Matches(pr, p.EVR()) {
				add(p)
				break
			}
		}
	}
	return out
}

func containsPath(list []string, path string) bool {
	for _, f := range list {
		if f == path {
			return true
		}
	}
	return false
}

// SearchRequires returns every package that requires (name, flag, evr).
func (s *Sack) SearchRequires(req evr.Requirement) []*rpmpkg.Package {
	return searchPRCO(s.allPackages(), req, func(p *rpmpkg.Package) []evr.Requirement { return p.Requires })
}

// SearchObsoletes returns every package that obsoletes (name, flag, evr).
func (s *Sack) SearchObsoletes(req evr.Requirement) []*rpmpkg.Package {
	return searchPRCO(s.allPackages(), req, func(p *rpmpkg.Package) []evr.Requirement { return p.Obsoletes })
}

// SearchConflicts returns every package that conflicts with (name, flag, evr).
func (s *Sack) SearchConflicts(req evr.Requirement) []*rpmpkg.Package {
	return searchPRCO(s.allPackages(), req, func(p *rpmpkg.Package) []evr.Requirement { return p.Conflicts })
}

func searchPRCO(pkgs []*rpmpkg.Package, req evr.Requirement, list func(*rpmpkg.Package) []evr.Requirement) []*rpmpkg.Package {
	var out []*rpmpkg.Package
	for _, p := range pkgs {
		for _, r := range list(p) {
			if r.Name == req.Name {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// SearchPrimaryFields does a case-insensitive substring search over
// name/summary/description/url. Summary/description/url are supplied
// out-of-band via the fields map keyed by NEVRA string, since Package
// itself only carries identity/PRCO/files (spec §3 doesn't allocate space
// for free-text metadata on the core Package value).
func (s *Sack) SearchPrimaryFields(extra map[string]string, terms []string) []*rpmpkg.Package {
	var out []*rpmpkg.Package
	for _, p := range s.allPackages() {
		haystack := p.Name + " " + extra[p.NEVRA.String()]
		ok := true
		for _, term := range terms {
			if !strings.Contains(strings.ToLower(haystack), strings.ToLower(term)) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, p)
		}
	}
	return out
}

// ReturnNewestByNameArch returns, per (name, arch) pair, only the package(s)
// with the newest EVR, optionally restricted to patterns (glob over name).
func (s *Sack) ReturnNewestByNameArch(patterns ...string) []*rpmpkg.Package {
	best := make(map[[2]string]*rpmpkg.Package)
	for _, p := range s.filterByPatterns(patterns) {
		key := [2]string{p.Name, p.Arch}
		if cur, ok := best[key]; !ok || evr.Compare(p.EVR(), cur.EVR()) > 0 {
			best[key] = p
		}
	}
	return sortedValues(best)
}

// ReturnNewestByName returns, per name, only the package(s) with the
// newest EVR (across all arches), optionally restricted to patterns.
func (s *Sack) ReturnNewestByName(patterns ...string) []*rpmpkg.Package {
	best := make(map[string]*rpmpkg.Package)
	for _, p := range s.filterByPatterns(patterns) {
		if cur, ok := best[p.Name]; !ok || evr.Compare(p.EVR(), cur.EVR()) > 0 {
			best[p.Name] = p
		}
	}
	out := make([]*rpmpkg.Package, 0, len(best))
	for _, p := range best {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NEVRA.String() < out[j].NEVRA.String() })
	return out
}

func sortedValues(m map[[2]string]*rpmpkg.Package) []*rpmpkg.Package {
	out := make([]*rpmpkg.Package, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NEVRA.String() < out[j].NEVRA.String() })
	return out
}

func (s *Sack) filterByPatterns(patterns []string) []*rpmpkg.Package {
	if len(patterns) == 0 {
		return s.allPackages()
	}
	var out []*rpmpkg.Package
	for _, p := range s.allPackages() {
		for _, pat := range patterns {
			if ok, _ := filepath.Match(pat, p.Name); ok {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// MatchPackageNames splits patterns into exact NEVRA/name hits, glob hits,
// and patterns matching nothing, per spec §4.C.
func (s *Sack) MatchPackageNames(patterns []string) (exact, matched, unmatched []string) {
	for _, pat := range patterns {
		if len(s.ByName(pat)) > 0 {
			exact = append(exact, pat)
			continue
		}
		found := false
		for _, p := range s.allPackages() {
			if ok, _ := filepath.Match(pat, p.Name); ok {
				found = true
				break
			}
		}
		if found {
			matched = append(matched, pat)
		} else {
			unmatched = append(unmatched, pat)
		}
	}
	return exact, matched, unmatched
}

// ExcludeArchs hides any package whose arch is outside compat. If a
// repository ends up with no compatible package at all, the whole
// repository is marked all-excluded, per spec §4.C.
func (s *Sack) ExcludeArchs(compat []string) {
	allowed := make(map[string]bool, len(compat))
	for _, a := range compat {
		allowed[a] = true
	}
	for _, id := range s.order {
		sec := s.repos[id]
		anyCompat := false
		for _, p := range sec.pkgs {
			if allowed[p.Arch] {
				anyCompat = true
				continue
			}
			s.exclude[excludeKey{repoID: id, nevra: p.NEVRA.String()}] = true
		}
		if !anyCompat && len(sec.pkgs) > 0 {
			s.allExcl[id] = true
		}
	}
	s.rebuildNameIndex()
}

// CostExclude keeps, for each NEVRA duplicated across repositories, only
// the entries from the minimum-cost repositories.
func (s *Sack) CostExclude() {
	minCost := make(map[string]int)
	for _, id := range s.order {
		if s.allExcl[id] {
			continue
		}
		sec := s.repos[id]
		for _, p := range sec.pkgs {
			if s.isExcluded(id, p) {
				continue
			}
			key := p.NEVRA.String()
			if c, ok := minCost[key]; !ok || sec.repo.Cost < c {
				minCost[key] = sec.repo.Cost
			}
		}
	}
	for _, id := range s.order {
		if s.allExcl[id] {
			continue
		}
		sec := s.repos[id]
		for _, p := range sec.pkgs {
			key := p.NEVRA.String()
			if sec.repo.Cost > minCost[key] {
				s.exclude[excludeKey{repoID: id, nevra: key}] = true
			}
		}
	}
	s.rebuildNameIndex()
}
