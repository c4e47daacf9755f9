// Package depmap maps npm packages to the OS packages their native builds or
// runtimes need, and knows the install invocation of each package manager.
package depmap

import (
	"regexp"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Azure/testbed-copilot/pkg/descriptor"
)

var packageSystemDeps = map[string][]string{
	// browser automation
	"puppeteer":          {"chromium", "libx11-xcb1", "libxcomposite1"},
	"playwright":         {"chromium", "libx11-xcb1"},
	"selenium-webdriver": {"chromium"},
	// graphics
	"canvas":      {"pkg-config", "build-essential", "libcairo2-dev", "libpango1.0-dev", "libjpeg-dev", "libgif-dev", "librsvg2-dev"},
	"node-canvas": {"pkg-config", "build-essential", "libcairo2-dev", "libpango1.0-dev", "libjpeg-dev", "libgif-dev"},
	"sharp":       {"libvips-dev"},
	"imagemagick": {"imagemagick"},
	// pdf
	"pdf-lib": {},
	"pdfkit":  {"libpixman-1-dev"},
	// native modules
	"sqlite3":  {"libsqlite3-dev"},
	"bcrypt":   {"python3"},
	"node-gyp": {"python3", "build-essential"},
	// media
	"ffmpeg":      {"ffmpeg"},
	"node-ffmpeg": {"ffmpeg"},
	"node-sass":   {"libsass-dev", "sassc"},
	"sass":        {"libsass-dev"},
}

type patternDeps struct {
	re   *regexp.Regexp
	deps []string
}

// Checked in order after the exact table misses.
var patternSystemDeps = []patternDeps{
	{regexp.MustCompile(`chrome`), []string{"chromium"}},
	{regexp.MustCompile(`cairo`), []string{"libcairo2-dev"}},
	{regexp.MustCompile(`vips`), []string{"libvips-dev"}},
}

var frameworkSystemDeps = map[string][]string{
	"playwright": {"chromium", "libx11-xcb1"},
	"cypress":    {"chromium", "xvfb"},
}

const defaultNodeVersion = "20"

// Mapper is safe for concurrent use. Lookups are memoized because ingestion
// resolves the same dependency names across workspace packages.
type Mapper struct {
	cache *lru.Cache[string, []string]
}

func NewMapper() *Mapper {
	cache, err := lru.New[string, []string](512)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &Mapper{cache: cache}
}

// SystemDepsForPackage returns a fresh slice the caller may modify.
func (m *Mapper) SystemDepsForPackage(name string) []string {
	if deps, ok := m.cache.Get(name); ok {
		return clone(deps)
	}
	deps := lookup(name)
	m.cache.Add(name, deps)
	return clone(deps)
}

func lookup(name string) []string {
	if deps, ok := packageSystemDeps[name]; ok {
		return deps
	}
	for _, p := range patternSystemDeps {
		if p.re.MatchString(name) {
			return p.deps
		}
	}
	return nil
}

// SystemDepsFromDependencies returns the sorted, de-duplicated union of the
// system packages needed by every dependency name.
func (m *Mapper) SystemDepsFromDependencies(deps map[string]string) []string {
	set := map[string]struct{}{}
	for name := range deps {
		for _, d := range m.SystemDepsForPackage(name) {
			set[d] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// TestFrameworkDeps lists OS packages a test framework needs at runtime.
func TestFrameworkDeps(framework string) []string {
	return clone(frameworkSystemDeps[framework])
}

// RecommendedNodeVersion is the runtime used when the repository pins none.
func RecommendedNodeVersion() string {
	return defaultNodeVersion
}

// InstallInvocation is the base install command of a package manager. Unknown
// managers fall back to npm.
func InstallInvocation(pm descriptor.PackageManager) string {
	switch pm {
	case descriptor.Yarn:
		return "yarn install"
	case descriptor.PNPM:
		return "pnpm install"
	default:
		return "npm install"
	}
}

// InstallCommand returns the install steps for pm with flags appended.
func InstallCommand(pm descriptor.PackageManager, flags ...string) []string {
	cmd := strings.TrimSpace(InstallInvocation(pm) + " " + strings.Join(flags, " "))
	return []string{cmd}
}

// Merge returns the sorted union of several package lists.
func Merge(lists ...[]string) []string {
	set := map[string]struct{}{}
	for _, l := range lists {
		for _, p := range l {
			if p != "" {
				set[p] = struct{}{}
			}
		}
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func clone(in []string) []string {
	if in == nil {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
