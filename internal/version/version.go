// Package version normalizes and compares the version strings Fetchtastic
// encounters in release tags: plain semver (v2.7.13), commit-hash-suffixed
// tags (2.7.13.abcdef1), and prerelease-labeled tags (2.7.13-rc.1,
// 2.7.13-alpha2).
package version

import (
	"regexp"
	"strconv"
	"strings"
)

// preWord maps a recognized prerelease word to its PEP-440-style short code.
var preWord = map[string]string{
	"alpha": "a",
	"beta":  "b",
	"rc":    "rc",
	"dev":   "dev",
}

var (
	// leadingV strips an optional v/V prefix.
	leadingV = regexp.MustCompile(`^[vV]`)
	// preSuffix matches a trailing prerelease label with optional dot/dash
	// separator and optional numeric tail, e.g. "-rc.1", "alpha2", ".dev".
	preSuffix = regexp.MustCompile(`(?i)[-._]?(alpha|beta|rc|dev)[-._]?(\d+)?$`)
	// hashSuffix matches a trailing dot-hash segment: 1.2.3.abcdef1
	hashSuffix = regexp.MustCompile(`^(\d+(?:\.\d+){1,3})\.([a-f0-9]{6,})$`)
	// splitRun splits a string into alternating numeric and non-numeric
	// runs for the natural-sort fallback.
	splitRun = regexp.MustCompile(`\d+|\D+`)
	// baseRegex extracts the longest leading dotted-numeric run.
	baseRegex = regexp.MustCompile(`^(\d+(?:\.\d+)*)`)
)

// NormalizedVersion is the parsed form of a version string.
type NormalizedVersion struct {
	Release []int  // numeric release components, e.g. [2,7,13]
	Pre     string // "a", "b", "rc", "dev", or "" if no prerelease label
	PreNum  int    // numeric tail of the prerelease label, 0 if absent
	Local   string // local version identifier (commit hash suffix), or ""
	Raw     string // original input, for display
}

// Normalize parses s into a NormalizedVersion. Returns false if s is empty
// or contains no recognizable numeric release component.
func Normalize(s string) (NormalizedVersion, bool) {
	raw := s
	s = strings.TrimSpace(s)
	if s == "" {
		return NormalizedVersion{}, false
	}
	s = leadingV.ReplaceAllString(s, "")

	local := ""
	if m := hashSuffix.FindStringSubmatch(s); m != nil {
		s = m[1]
		local = m[2]
	}

	pre, preNum := "", 0
	if m := preSuffix.FindStringSubmatch(s); m != nil {
		word := strings.ToLower(m[1])
		if code, ok := preWord[word]; ok {
			pre = code
			if m[2] != "" {
				if n, err := strconv.Atoi(m[2]); err == nil {
					preNum = n
				}
			}
			s = s[:len(s)-len(m[0])]
		}
	}

	tuple, ok := ReleaseTuple(s)
	if !ok {
		return NormalizedVersion{}, false
	}

	return NormalizedVersion{
		Release: tuple,
		Pre:     pre,
		PreNum:  preNum,
		Local:   local,
		Raw:     raw,
	}, true
}

// ReleaseTuple extracts the numeric release components of s from its
// leading dotted-numeric run, after stripping a hash suffix and a
// prerelease label. Only this one parse is made; it is not compared
// against a parse of the unstripped string.
func ReleaseTuple(s string) ([]int, bool) {
	s = leadingV.ReplaceAllString(strings.TrimSpace(s), "")
	// Strip a hash suffix and prerelease label if present so the base
	// release run is visible.
	if m := hashSuffix.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	if m := preSuffix.FindStringSubmatch(s); m != nil {
		s = s[:len(s)-len(m[0])]
	}

	m := baseRegex.FindString(s)
	if m == "" {
		return nil, false
	}
	parts := strings.Split(m, ".")
	tuple := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			break
		}
		tuple = append(tuple, n)
	}
	if len(tuple) == 0 {
		return nil, false
	}
	return tuple, true
}

// Compare returns -1, 0, or 1 for a vs b. When both parse as
// NormalizedVersions, PEP-440-style ordering applies: release tuple first
// (shorter is lesser when all leading components are equal), then
// prerelease label (dev < a < b < rc < no label, then the label's numeric
// tail), then local/hash suffix (presence of a hash orders after the
// same release without one). When either side fails to parse, falls back
// to a natural-sort comparison.
func Compare(a, b string) int {
	na, oka := Normalize(a)
	nb, okb := Normalize(b)
	if oka && okb {
		return compareNormalized(na, nb)
	}
	return naturalCompare(a, b)
}

func compareNormalized(a, b NormalizedVersion) int {
	if c := compareIntSlices(a.Release, b.Release); c != 0 {
		return c
	}
	if c := comparePre(a.Pre, a.PreNum, b.Pre, b.PreNum); c != 0 {
		return c
	}
	// Local/hash suffix: presence orders after absence of the same release.
	switch {
	case a.Local == "" && b.Local == "":
		return 0
	case a.Local == "":
		return -1
	case b.Local == "":
		return 1
	default:
		return strings.Compare(a.Local, b.Local)
	}
}

// preRank orders prerelease labels; "" (final release) ranks highest.
func preRank(p string) int {
	switch p {
	case "dev":
		return 0
	case "a":
		return 1
	case "b":
		return 2
	case "rc":
		return 3
	case "":
		return 4
	default:
		return 4
	}
}

func comparePre(pa string, na int, pb string, nb int) int {
	ra, rb := preRank(pa), preRank(pb)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	if pa == "" { // both final releases
		return 0
	}
	if na != nb {
		if na < nb {
			return -1
		}
		return 1
	}
	return 0
}

func compareIntSlices(a, b []int) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// naturalCompare compares two strings by splitting into alternating
// numeric/alphabetic runs, comparing numeric runs as integers and
// alphabetic runs case-insensitively.
func naturalCompare(a, b string) int {
	ra := splitRun.FindAllString(a, -1)
	rb := splitRun.FindAllString(b, -1)
	n := len(ra)
	if len(rb) > n {
		n = len(rb)
	}
	for i := 0; i < n; i++ {
		var x, y string
		if i < len(ra) {
			x = ra[i]
		}
		if i < len(rb) {
			y = rb[i]
		}
		if x == y {
			continue
		}
		xn, xerr := strconv.Atoi(x)
		yn, yerr := strconv.Atoi(y)
		if xerr == nil && yerr == nil {
			if xn != yn {
				if xn < yn {
					return -1
				}
				return 1
			}
			continue
		}
		if c := strings.Compare(strings.ToLower(x), strings.ToLower(y)); c != 0 {
			return c
		}
	}
	return 0
}

// ExtractCleanVersion keeps only the first three dotted numeric components
// of s and re-adds a "v" prefix. Returns "" if s has no numeric components.
func ExtractCleanVersion(s string) string {
	tuple, ok := ReleaseTuple(s)
	if !ok {
		return ""
	}
	if len(tuple) > 3 {
		tuple = tuple[:3]
	}
	parts := make([]string, len(tuple))
	for i, n := range tuple {
		parts[i] = strconv.Itoa(n)
	}
	return "v" + strings.Join(parts, ".")
}

// EnsureVPrefix returns s with a leading "v" if it doesn't already have one.
func EnsureVPrefix(s string) string {
	if s == "" {
		return s
	}
	if s[0] == 'v' || s[0] == 'V' {
		return "v" + s[1:]
	}
	return "v" + s
}

// ExpectedNextPatch returns s with its patch component incremented by 1.
// Returns "" if s does not parse to at least 3 release components.
func ExpectedNextPatch(s string) string {
	tuple, ok := ReleaseTuple(s)
	if !ok || len(tuple) < 3 {
		return ""
	}
	next := make([]int, len(tuple))
	copy(next, tuple)
	next[2]++
	parts := make([]string, len(next))
	for i, n := range next {
		parts[i] = strconv.Itoa(n)
	}
	prefix := ""
	if strings.HasPrefix(s, "v") || strings.HasPrefix(s, "V") {
		prefix = "v"
	}
	return prefix + strings.Join(parts, ".")
}

// BaseVersion returns the MAJOR.MINOR.PATCH triple of s, ignoring
// prerelease or hash suffixes, as used for prerelease directory naming.
func BaseVersion(s string) (string, bool) {
	tuple, ok := ReleaseTuple(s)
	if !ok || len(tuple) < 3 {
		return "", false
	}
	return strconv.Itoa(tuple[0]) + "." + strconv.Itoa(tuple[1]) + "." + strconv.Itoa(tuple[2]), true
}
