package analysis

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Azure/testbed-copilot/pkg/depmap"
	"github.com/Azure/testbed-copilot/pkg/descriptor"
)

// Lock files by precedence.
var lockFiles = []struct {
	name string
	pm   descriptor.PackageManager
}{
	{"pnpm-lock.yaml", descriptor.PNPM},
	{"yarn.lock", descriptor.Yarn},
	{"package-lock.json", descriptor.NPM},
}

// DetectLockFile returns the first lock file present in root and the
// package manager it implies, or "" when there is none.
func DetectLockFile(root string) (string, descriptor.PackageManager) {
	for _, lf := range lockFiles {
		if _, err := os.Stat(filepath.Join(root, lf.name)); err == nil {
			return lf.name, lf.pm
		}
	}
	return "", ""
}

// DetectPackageManager prefers the lock file, then package.json's
// packageManager field, then npm.
func DetectPackageManager(root string, pkg *PackageJSON) descriptor.PackageManager {
	if _, pm := DetectLockFile(root); pm != "" {
		return pm
	}
	if pkg != nil {
		if pm := pkg.DeclaredPackageManager(); pm != "" {
			return descriptor.PackageManager(pm)
		}
	}
	return descriptor.NPM
}

// DetectNodeVersion returns the Node.js major version and where it came from:
// .nvmrc, then engines.node, then the default.
func DetectNodeVersion(root string, pkg *PackageJSON) (string, descriptor.VersionSource) {
	if data, err := os.ReadFile(filepath.Join(root, ".nvmrc")); err == nil {
		v := strings.TrimPrefix(strings.TrimSpace(string(data)), "v")
		// aliases such as lts/iron carry no number and fall through
		if major := majorRe.FindString(strings.Split(v, ".")[0]); major != "" {
			return major, descriptor.SourceExplicitFile
		}
	}
	if pkg != nil {
		if major := pkg.EnginesNodeMajor(); major != "" {
			return major, descriptor.SourceManifest
		}
	}
	return depmap.RecommendedNodeVersion(), descriptor.SourceDefault
}
