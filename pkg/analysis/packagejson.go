package analysis

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// PackageJSON is the subset of package.json ingestion reads.
type PackageJSON struct {
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	Scripts         map[string]string `json:"scripts"`
	Engines         map[string]string `json:"engines"`
	PackageManager  string            `json:"packageManager"`
	// Workspaces is either a list of globs or {"packages": [...]}.
	Workspaces json.RawMessage `json:"workspaces"`
}

var (
	testScripts  = []string{"test", "test:unit", "test:all"}
	buildScripts = []string{"build", "compile", "dist"}

	// Checked in order; the first dependency present names the framework.
	frameworks = []struct{ dep, name string }{
		{"jest", "jest"},
		{"vitest", "vitest"},
		{"mocha", "mocha"},
		{"jasmine", "jasmine"},
		{"ava", "ava"},
		{"tape", "tape"},
		{"@playwright/test", "playwright"},
		{"cypress", "cypress"},
	}

	majorRe = regexp.MustCompile(`(\d+)`)
)

func LoadPackageJSON(path string) (*PackageJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pkg PackageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &pkg, nil
}

// AllDependencies merges dependencies and devDependencies; dev wins on
// conflicting ranges.
func (p *PackageJSON) AllDependencies() map[string]string {
	all := make(map[string]string, len(p.Dependencies)+len(p.DevDependencies))
	for k, v := range p.Dependencies {
		all[k] = v
	}
	for k, v := range p.DevDependencies {
		all[k] = v
	}
	return all
}

func (p *PackageJSON) TestCommand() string {
	for _, name := range testScripts {
		if _, ok := p.Scripts[name]; ok {
			return "npm run " + name
		}
	}
	return "npm test"
}

// BuildCommand returns "" when no build script exists.
func (p *PackageJSON) BuildCommand() string {
	for _, name := range buildScripts {
		if _, ok := p.Scripts[name]; ok {
			return "npm run " + name
		}
	}
	return ""
}

// EnginesNodeMajor extracts the first number of engines.node, so ">=18.0.0"
// and "^18" both give "18".
func (p *PackageJSON) EnginesNodeMajor() string {
	return majorRe.FindString(p.Engines["node"])
}

// DeclaredPackageManager reads the corepack packageManager field.
func (p *PackageJSON) DeclaredPackageManager() string {
	switch {
	case strings.Contains(p.PackageManager, "pnpm"):
		return "pnpm"
	case strings.Contains(p.PackageManager, "yarn"):
		return "yarn"
	case strings.Contains(p.PackageManager, "npm"):
		return "npm"
	}
	return ""
}

func (p *PackageJSON) TestFramework() string {
	all := p.AllDependencies()
	for _, f := range frameworks {
		if _, ok := all[f.dep]; ok {
			return f.name
		}
	}
	return ""
}

func (p *PackageJSON) HasTypeScript() bool {
	_, ok := p.AllDependencies()["typescript"]
	return ok
}

// WorkspaceGlobs returns the declared workspace patterns in either accepted
// shape, or nil.
func (p *PackageJSON) WorkspaceGlobs() []string {
	if len(p.Workspaces) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(p.Workspaces, &list); err == nil {
		return list
	}
	var obj struct {
		Packages []string `json:"packages"`
	}
	if err := json.Unmarshal(p.Workspaces, &obj); err == nil {
		return obj.Packages
	}
	return nil
}
