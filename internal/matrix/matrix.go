// Package matrix models the expected build matrix of a snapshot
// strategy: which (chroot, package) pairs the farm must produce.
package matrix

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Chroot is a farm chroot name of the form "<os>-<version>-<arch>",
// e.g. "fedora-rawhide-x86_64".
type Chroot string

// Arch returns the architecture component, the part after the last dash.
func (c Chroot) Arch() string {
	s := string(c)
	i := strings.LastIndex(s, "-")
	if i < 0 {
		return s
	}
	return s[i+1:]
}

// OS returns the os-version component, everything before the last dash.
func (c Chroot) OS() string {
	s := string(c)
	i := strings.LastIndex(s, "-")
	if i < 0 {
		return ""
	}
	return s[:i]
}

// Package is a buildable package name, e.g. "llvm".
type Package string

// Pair is one cell of the expected matrix.
type Pair struct {
	Chroot  Chroot
	Package Package
}

// Exclusion marks chroots a package is known not to build on. Globs use
// path.Match syntax, e.g. "*-s390x".
type Exclusion struct {
	Package     Package
	ChrootGlobs []string
}

// Matrix is the expected build surface of one strategy for one day.
// It is pure data; discovery of farm-side chroots happens elsewhere.
type Matrix struct {
	chroots  []Chroot
	packages []Package
	excludes []Exclusion
}

// New builds a matrix from the given chroots, packages and exclusions.
// Both axes are deduplicated and sorted so Expected is deterministic.
func New(chroots []Chroot, packages []Package, excludes []Exclusion) *Matrix {
	cs := lo.Uniq(chroots)
	sort.Slice(cs, func(i, j int) bool { return cs[i] < cs[j] })
	ps := lo.Uniq(packages)
	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
	return &Matrix{chroots: cs, packages: ps, excludes: excludes}
}

// Chroots returns the chroot axis.
func (m *Matrix) Chroots() []Chroot {
	return append([]Chroot(nil), m.chroots...)
}

// ChrootNames returns the chroot axis as plain strings.
func (m *Matrix) ChrootNames() []string {
	return lo.Map(m.chroots, func(c Chroot, _ int) string { return string(c) })
}

// Packages returns the package axis.
func (m *Matrix) Packages() []Package {
	return append([]Package(nil), m.packages...)
}

// Supported reports whether the package is expected to build on the
// chroot. Malformed exclusion globs never match; config validation
// rejects them up front.
func (m *Matrix) Supported(pkg Package, chroot Chroot) bool {
	for _, ex := range m.excludes {
		if ex.Package != pkg {
			continue
		}
		for _, glob := range ex.ChrootGlobs {
			if ok, err := path.Match(glob, string(chroot)); err == nil && ok {
				return false
			}
		}
	}
	return true
}

// Expected returns the cross product of chroots and packages filtered by
// Supported, sorted by chroot then package.
func (m *Matrix) Expected() []Pair {
	var pairs []Pair
	for _, c := range m.chroots {
		for _, p := range m.packages {
			if m.Supported(p, c) {
				pairs = append(pairs, Pair{Chroot: c, Package: p})
			}
		}
	}
	return pairs
}

// FilterChroots keeps the farm chroot names matching the strategy's
// chroot pattern.
func FilterChroots(names []string, pattern *regexp.Regexp) []Chroot {
	var out []Chroot
	for _, n := range names {
		if pattern.MatchString(n) {
			out = append(out, Chroot(n))
		}
	}
	return out
}
