package analysis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/testbed-copilot/pkg/descriptor"
	"github.com/Azure/testbed-copilot/runner"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func gitRunner(head string) *runner.FakeCommandRunner {
	return &runner.FakeCommandRunner{
		Handler: func(dir string, args []string) (string, error) {
			switch strings.Join(args, " ") {
			case "git rev-parse HEAD":
				return head + "\n", nil
			case "git remote get-url origin":
				return "git@github.com:octo/widgets.git\n", nil
			}
			return "", errors.New("unexpected command")
		},
	}
}

func TestPackageJSONScripts(t *testing.T) {
	tests := []struct {
		name    string
		scripts map[string]string
		test    string
		build   string
	}{
		{name: "defaults", scripts: nil, test: "npm test", build: ""},
		{name: "test first", scripts: map[string]string{"test:unit": "jest", "test": "jest --ci"}, test: "npm run test", build: ""},
		{name: "unit only", scripts: map[string]string{"test:unit": "jest"}, test: "npm run test:unit", build: ""},
		{name: "all only", scripts: map[string]string{"test:all": "jest"}, test: "npm run test:all", build: ""},
		{name: "compile", scripts: map[string]string{"compile": "tsc", "dist": "rollup"}, test: "npm test", build: "npm run compile"},
		{name: "build wins", scripts: map[string]string{"dist": "rollup", "build": "tsc"}, test: "npm test", build: "npm run build"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &PackageJSON{Scripts: tt.scripts}
			assert.Equal(t, tt.test, p.TestCommand())
			assert.Equal(t, tt.build, p.BuildCommand())
		})
	}
}

func TestPackageJSONFramework(t *testing.T) {
	tests := []struct {
		deps, dev map[string]string
		want      string
	}{
		{dev: map[string]string{"mocha": "^10", "jest": "^29"}, want: "jest"},
		{dev: map[string]string{"vitest": "^1", "mocha": "^10"}, want: "vitest"},
		{deps: map[string]string{"@playwright/test": "^1.40"}, want: "playwright"},
		{dev: map[string]string{"cypress": "^13"}, want: "cypress"},
		{deps: map[string]string{"express": "^4"}, want: ""},
	}
	for _, tt := range tests {
		p := &PackageJSON{Dependencies: tt.deps, DevDependencies: tt.dev}
		assert.Equal(t, tt.want, p.TestFramework())
	}
}

func TestPackageJSONFields(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "package.json", `{
  "name": "widgets",
  "packageManager": "pnpm@9.1.0",
  "engines": {"node": ">=18.17.0"},
  "workspaces": {"packages": ["packages/*"]},
  "devDependencies": {"typescript": "^5.4.0"}
}`)
	p, err := LoadPackageJSON(filepath.Join(root, "package.json"))
	require.NoError(t, err)

	assert.Equal(t, "pnpm", p.DeclaredPackageManager())
	assert.Equal(t, "18", p.EnginesNodeMajor())
	assert.Equal(t, []string{"packages/*"}, p.WorkspaceGlobs())
	assert.True(t, p.HasTypeScript())

	list := &PackageJSON{Workspaces: []byte(`["apps/*","libs/*"]`)}
	assert.Equal(t, []string{"apps/*", "libs/*"}, list.WorkspaceGlobs())
	assert.Nil(t, (&PackageJSON{}).WorkspaceGlobs())
}

func TestLoadPackageJSONMalformed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "package.json", `{"name": `)
	_, err := LoadPackageJSON(filepath.Join(root, "package.json"))
	assert.Error(t, err)
}

func TestLoadTSConfig(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "tsconfig.json", `{
  // base options
  "extends": "./tsconfig.base.json",
  "compilerOptions": {
    /* emit */
    "target": "ES2020",
    "module": "commonjs",
    "outDir": "./dist", // build output
    "baseUrl": "https://example.com/not/a/comment",
  },
}`)
	cfg, err := LoadTSConfig(filepath.Join(root, "tsconfig.json"))
	require.NoError(t, err)
	assert.Equal(t, "./tsconfig.base.json", cfg.Extends)
	assert.Equal(t, "ES2020", cfg.CompilerOptions.Target)
	assert.Equal(t, "commonjs", cfg.CompilerOptions.Module)
	assert.Equal(t, "./dist", cfg.CompilerOptions.OutDir)
}

func TestDetectPackageManager(t *testing.T) {
	tests := []struct {
		name     string
		files    []string
		declared string
		want     descriptor.PackageManager
		lock     string
	}{
		{name: "pnpm lock beats others", files: []string{"pnpm-lock.yaml", "yarn.lock", "package-lock.json"}, want: descriptor.PNPM, lock: "pnpm-lock.yaml"},
		{name: "yarn lock beats npm", files: []string{"yarn.lock", "package-lock.json"}, want: descriptor.Yarn, lock: "yarn.lock"},
		{name: "npm lock", files: []string{"package-lock.json"}, declared: "yarn@4.0.0", want: descriptor.NPM, lock: "package-lock.json"},
		{name: "declared field", declared: "yarn@4.0.0", want: descriptor.Yarn},
		{name: "default", want: descriptor.NPM},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			for _, f := range tt.files {
				writeFile(t, root, f, "")
			}
			assert.Equal(t, tt.want, DetectPackageManager(root, &PackageJSON{PackageManager: tt.declared}))
			lock, _ := DetectLockFile(root)
			assert.Equal(t, tt.lock, lock)
		})
	}
}

func TestDetectNodeVersion(t *testing.T) {
	tests := []struct {
		name    string
		nvmrc   string
		engines string
		want    string
		source  descriptor.VersionSource
	}{
		{name: "nvmrc with v prefix", nvmrc: "v18.17.1\n", engines: ">=20", want: "18", source: descriptor.SourceExplicitFile},
		{name: "nvmrc major only", nvmrc: "22", want: "22", source: descriptor.SourceExplicitFile},
		{name: "nvmrc alias falls through", nvmrc: "lts/iron", engines: "^16.0.0", want: "16", source: descriptor.SourceManifest},
		{name: "engines x range", engines: "20.x", want: "20", source: descriptor.SourceManifest},
		{name: "default", want: "20", source: descriptor.SourceDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			if tt.nvmrc != "" {
				writeFile(t, root, ".nvmrc", tt.nvmrc)
			}
			pkg := &PackageJSON{}
			if tt.engines != "" {
				pkg.Engines = map[string]string{"node": tt.engines}
			}
			version, source := DetectNodeVersion(root, pkg)
			assert.Equal(t, tt.want, version)
			assert.Equal(t, tt.source, source)
		})
	}
}

func TestAnalyze(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "package.json", `{
  "name": "widgets",
  "scripts": {"test": "jest", "build": "tsc -p ."},
  "dependencies": {"sharp": "^0.33.0", "express": "^4.19.0"},
  "devDependencies": {"jest": "^29.7.0", "typescript": "^5.4.0", "@playwright/test": "^1.44.0"}
}`)
	writeFile(t, root, "yarn.lock", "")
	writeFile(t, root, ".nvmrc", "v18\n")

	a := NewAnalyzer(gitRunner("0123abcd"), nil, zerolog.Nop())
	report, err := a.Analyze(context.Background(), root, Options{Repo: "octo/widgets"})
	require.NoError(t, err)
	d := report.Descriptor

	assert.Equal(t, "octo/widgets", d.Repo)
	assert.Equal(t, "0123abcd", d.BaseCommit)
	assert.Equal(t, "typescript", d.Language)
	assert.Equal(t, descriptor.Yarn, d.PackageManager)
	assert.Equal(t, "yarn.lock", d.LockFileType)
	assert.Equal(t, "18", d.RuntimeVersion)
	assert.Equal(t, descriptor.SourceExplicitFile, d.RuntimeVersionSource)
	assert.Equal(t, []string{"yarn install"}, d.InstallCommand)
	assert.Equal(t, "npm run test", d.TestCommand)
	assert.Equal(t, "npm run build", d.BuildCommand)
	assert.True(t, d.HasBuildStep)
	assert.True(t, d.HasTypeScript)
	assert.Equal(t, "jest", d.TestFramework)
	assert.Equal(t, []string{"libvips-dev"}, d.SystemDeps)
	assert.False(t, d.IsMonorepo)
	assert.NoError(t, d.Validate())
}

func TestAnalyzeFrameworkSystemDeps(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "package.json", `{"devDependencies": {"cypress": "^13.0.0", "canvas": "^2.11.0"}}`)

	a := NewAnalyzer(&runner.FakeCommandRunner{ErrStr: "not a git repository"}, nil, zerolog.Nop())
	report, err := a.Analyze(context.Background(), root, Options{RepoURL: "https://github.com/octo/charts"})
	require.NoError(t, err)
	d := report.Descriptor

	assert.Equal(t, "octo/charts", d.Repo)
	assert.Equal(t, "unknown", d.BaseCommit)
	assert.Equal(t, "javascript", d.Language)
	assert.Equal(t, "cypress", d.TestFramework)
	assert.Contains(t, d.SystemDeps, "xvfb")
	assert.Contains(t, d.SystemDeps, "libcairo2-dev")
	assert.IsIncreasing(t, d.SystemDeps)
	assert.False(t, d.HasBuildStep)
	assert.Equal(t, "", d.BuildCommand)
}

func TestAnalyzeMonorepo(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "package.json", `{"workspaces": ["packages/*"], "devDependencies": {"vitest": "^1.6.0"}}`)
	writeFile(t, root, "pnpm-lock.yaml", "")
	writeFile(t, root, "packages/images/package.json", `{"dependencies": {"sharp": "^0.33.0"}}`)
	writeFile(t, root, "packages/db/package.json", `{"dependencies": {"sqlite3": "^5.1.0"}}`)

	a := NewAnalyzer(gitRunner("feedface"), nil, zerolog.Nop())
	report, err := a.Analyze(context.Background(), root, Options{})
	require.NoError(t, err)
	d := report.Descriptor

	assert.Equal(t, "octo/widgets", d.Repo)
	assert.True(t, d.IsMonorepo)
	assert.Equal(t, descriptor.PNPM, d.PackageManager)
	assert.Equal(t, []string{"packages/db/package.json", "packages/images/package.json"}, report.Workspaces)
	assert.Equal(t, []string{"libsqlite3-dev", "libvips-dev"}, d.SystemDeps)
	assert.NotContains(t, d.Dependencies, "sharp")
}

func TestAnalyzeMissingManifest(t *testing.T) {
	a := NewAnalyzer(gitRunner("x"), nil, zerolog.Nop())
	_, err := a.Analyze(context.Background(), t.TempDir(), Options{Repo: "octo/widgets"})
	assert.ErrorIs(t, err, ErrNoManifest)
}

func TestAnalyzeUnknownRepo(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "package.json", `{}`)
	a := NewAnalyzer(&runner.FakeCommandRunner{ErrStr: "no remote"}, nil, zerolog.Nop())
	_, err := a.Analyze(context.Background(), root, Options{})
	assert.ErrorIs(t, err, descriptor.ErrInvalid)
}

func TestParseRepoURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://github.com/octo/widgets", want: "octo/widgets"},
		{in: "https://github.com/octo/widgets.git/", want: "octo/widgets"},
		{in: "git@github.com:octo/widgets.git", want: "octo/widgets"},
		{in: "octo/widgets", want: "octo/widgets"},
		{in: "widgets", wantErr: true},
		{in: "a/b/c", wantErr: true},
	}
	for _, tt := range tests {
		ref, err := ParseRepoURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, ref.FullName())
		assert.Equal(t, "https://github.com/"+tt.want+".git", ref.CloneURL)
	}
}

func TestFetcherClone(t *testing.T) {
	cache := t.TempDir()
	fake := &runner.FakeCommandRunner{}
	f := NewFetcher(fake, cache)
	ref := RepoRef{Owner: "octo", Name: "widgets", CloneURL: "https://github.com/octo/widgets.git"}
	dir := filepath.Join(cache, "octo__widgets")

	got, err := f.Clone(context.Background(), ref, "")
	require.NoError(t, err)
	assert.Equal(t, dir, got)
	assert.Equal(t, []string{"git clone --depth=1 https://github.com/octo/widgets.git " + dir}, fake.Calls)

	fake.Calls = nil
	_, err = f.Clone(context.Background(), ref, "abc123")
	require.NoError(t, err)
	assert.Equal(t, []string{"git clone https://github.com/octo/widgets.git " + dir, "git checkout abc123"}, fake.Calls)

	// an existing checkout is reused
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0755))
	fake.Calls = nil
	_, err = f.Clone(context.Background(), ref, "def456")
	require.NoError(t, err)
	assert.Equal(t, []string{"git checkout def456"}, fake.Calls)
}

func TestFetcherCloneFailure(t *testing.T) {
	f := NewFetcher(&runner.FakeCommandRunner{Output: "fatal: repository not found", ErrStr: "exit status 128"}, t.TempDir())
	_, err := f.Clone(context.Background(), RepoRef{Owner: "octo", Name: "gone", CloneURL: "https://github.com/octo/gone.git"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repository not found")
}
