// Package arch implements the architecture compatibility, multilib, and
// best-arch selection policy described in spec §4.B.
package arch

// compatArchLists is a hard-coded table of compatible architectures per
// canonical arch, ordered from most to least specific. "noarch" is
// compatible with everything and is always listed last.
var compatArchLists = map[string][]string{
	"x86_64": {"x86_64", "athlon", "i686", "i586", "i486", "i386", "noarch"},
	"i686":   {"i686", "i586", "i486", "i386", "noarch"},
	"i586":   {"i586", "i486", "i386", "noarch"},
	"i486":   {"i486", "i386", "noarch"},
	"i386":   {"i386", "noarch"},
	"athlon": {"athlon", "i686", "i586", "i486", "i386", "noarch"},

	"aarch64": {"aarch64", "noarch"},
	"armv7hl": {"armv7hl", "armv7l", "armv6hl", "armv6l", "armv5tel", "noarch"},
	"armv7l":  {"armv7l", "armv6l", "armv5tel", "noarch"},

	"ppc64":  {"ppc64", "ppc", "noarch"},
	"ppc64le": {"ppc64le", "noarch"},
	"ppc":     {"ppc", "noarch"},

	"s390x": {"s390x", "s390", "noarch"},
	"s390":  {"s390", "noarch"},

	"noarch": {"noarch"},
}

// multilibCapable is the set of arch families where a 64-bit and a 32-bit
// variant of the same library may coexist on one system.
var multilibCapable = map[string]bool{
	"x86_64":  true,
	"i686":    true,
	"i586":    true,
	"i486":    true,
	"i386":    true,
	"athlon":  true,
	"ppc64":   true,
	"ppc":     true,
	"s390x":   true,
	"s390":    true,
	"aarch64": true,
}

// CompatArchList returns the ordered compatibility list for a canonical
// arch. An unknown arch returns a singleton list of itself plus noarch.
func CompatArchList(canonical string) []string {
	if l, ok := compatArchLists[canonical]; ok {
		out := make([]string, len(l))
		copy(out, l)
		return out
	}
	return []string{canonical, "noarch"}
}

// IsMultilibArch reports whether arch belongs to a family where 32/64-bit
// variants may coexist.
func IsMultilibArch(arch string) bool {
	return multilibCapable[arch]
}

// indexIn returns the position of arch within list, or -1.
func indexIn(list []string, arch string) int {
	for i, a := range list {
		if a == arch {
			return i
		}
	}
	return -1
}

// Distance returns a nonnegative "closeness" measure of have to want, using
// want's compat-arch list as the ranking order; smaller is closer. A nil
// result (ok=false) means incompatible (have isn't in want's compat list at
// all).
func Distance(want, have string) (dist int, ok bool) {
	if want == have {
		return 0, true
	}
	list := CompatArchList(want)
	idx := indexIn(list, have)
	if idx < 0 {
		return 0, false
	}
	return idx, true
}

// BestArchFrom picks the best architecture out of a list by rankLess:
// noarch ranks last, then the shorter name wins, then the alphabetically
// first. It does not consult any compat arch list.
func BestArchFrom(archs []string) string {
	if len(archs) == 0 {
		return ""
	}
	best := archs[0]
	for _, a := range archs[1:] {
		if rankLess(a, best) {
			best = a
		}
	}
	return best
}

// rankLess reports whether a ranks better (more specific/preferred) than b.
// noarch always ranks worst; otherwise shorter, then alphabetically first,
// wins - matching the teacher's name/arch tie-break cascade philosophy
// (shorter name, then alphabetical) generalized to arch strings.
func rankLess(a, b string) bool {
	if a == b {
		return false
	}
	if a == "noarch" {
		return false
	}
	if b == "noarch" {
		return true
	}
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
