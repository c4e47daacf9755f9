// Package analysis reads a checked-out JavaScript/TypeScript repository and
// produces its descriptor.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Azure/testbed-copilot/pkg/depmap"
	"github.com/Azure/testbed-copilot/pkg/descriptor"
	"github.com/Azure/testbed-copilot/pkg/filetree"
	"github.com/Azure/testbed-copilot/runner"
)

const (
	PackageJSONFile = "package.json"
	TSConfigFile    = "tsconfig.json"

	unknownCommit = "unknown"
	// Workspace manifests deeper than this are not scanned.
	workspaceDepth = 3
)

var ErrNoManifest = errors.New("package.json not found")

type Options struct {
	// Repo is owner/name. When empty it is derived from RepoURL or the
	// origin remote.
	Repo       string
	RepoURL    string
	BaseCommit string
	Language   string
}

// Report is the descriptor plus what ingestion saw on the way.
type Report struct {
	Descriptor *descriptor.Descriptor
	TSConfig   *TSConfig
	// Workspaces lists nested package.json paths of a monorepo.
	Workspaces []string
}

type Analyzer struct {
	runner runner.CommandRunner
	mapper *depmap.Mapper
	logger zerolog.Logger
}

func NewAnalyzer(r runner.CommandRunner, m *depmap.Mapper, logger zerolog.Logger) *Analyzer {
	if m == nil {
		m = depmap.NewMapper()
	}
	return &Analyzer{
		runner: r,
		mapper: m,
		logger: logger.With().Str("component", "analysis").Logger(),
	}
}

func (a *Analyzer) Analyze(ctx context.Context, root string, opts Options) (*Report, error) {
	pkg, err := LoadPackageJSON(filepath.Join(root, PackageJSONFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w in %s", ErrNoManifest, root)
	}
	if err != nil {
		return nil, err
	}

	repo, err := a.repoName(ctx, root, opts)
	if err != nil {
		return nil, err
	}

	lockFile, _ := DetectLockFile(root)
	pm := DetectPackageManager(root, pkg)
	nodeVersion, source := DetectNodeVersion(root, pkg)
	framework := pkg.TestFramework()
	build := pkg.BuildCommand()

	a.logger.Info().
		Str("repo", repo).
		Str("package_manager", string(pm)).
		Str("node_version", nodeVersion).
		Str("node_version_source", string(source)).
		Str("test_framework", framework).
		Msg("repository metadata detected")

	report := &Report{}
	if ts, err := LoadTSConfig(filepath.Join(root, TSConfigFile)); err == nil {
		report.TSConfig = ts
	} else if !errors.Is(err, os.ErrNotExist) {
		a.logger.Warn().Err(err).Msg("ignoring unreadable tsconfig.json")
	}

	monorepo := len(pkg.WorkspaceGlobs()) > 0 || fileExists(filepath.Join(root, "pnpm-workspace.yaml"))
	allDeps := pkg.AllDependencies()
	if monorepo {
		report.Workspaces = a.workspaceDeps(root, allDeps)
	}

	systemDeps := a.mapper.SystemDepsFromDependencies(allDeps)
	if framework != "" {
		systemDeps = depmap.Merge(systemDeps, depmap.TestFrameworkDeps(framework))
	}
	a.logger.Debug().Strs("system_deps", systemDeps).Msg("inferred system dependencies")

	language := opts.Language
	if language == "" {
		language = "javascript"
		if pkg.HasTypeScript() || report.TSConfig != nil {
			language = "typescript"
		}
	}

	report.Descriptor = &descriptor.Descriptor{
		Repo:                 repo,
		BaseCommit:           a.baseCommit(ctx, root, opts.BaseCommit),
		RepoURL:              opts.RepoURL,
		Language:             language,
		PackageManager:       pm,
		LockFileType:         lockFile,
		RuntimeVersion:       nodeVersion,
		RuntimeVersionSource: source,
		InstallCommand:       depmap.InstallCommand(pm),
		BuildCommand:         build,
		TestCommand:          pkg.TestCommand(),
		Dependencies:         copyMap(pkg.Dependencies),
		DevDependencies:      copyMap(pkg.DevDependencies),
		SystemDeps:           systemDeps,
		TestFramework:        framework,
		HasBuildStep:         build != "",
		HasTypeScript:        pkg.HasTypeScript() || report.TSConfig != nil,
		IsMonorepo:           monorepo,
	}
	if err := report.Descriptor.Validate(); err != nil {
		return nil, err
	}
	return report, nil
}

// workspaceDeps folds the dependencies of nested manifests into deps so
// native packages used by any workspace reach the mapper.
func (a *Analyzer) workspaceDeps(root string, deps map[string]string) []string {
	manifests, err := filetree.Find(root, PackageJSONFile, workspaceDepth)
	if err != nil {
		a.logger.Warn().Err(err).Msg("scanning workspaces")
		return nil
	}
	for _, rel := range manifests {
		ws, err := LoadPackageJSON(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			a.logger.Warn().Err(err).Str("manifest", rel).Msg("skipping workspace manifest")
			continue
		}
		for k, v := range ws.AllDependencies() {
			if _, ok := deps[k]; !ok {
				deps[k] = v
			}
		}
	}
	return manifests
}

func (a *Analyzer) repoName(ctx context.Context, root string, opts Options) (string, error) {
	if opts.Repo != "" {
		return opts.Repo, nil
	}
	if opts.RepoURL != "" {
		ref, err := ParseRepoURL(opts.RepoURL)
		if err != nil {
			return "", err
		}
		return ref.FullName(), nil
	}
	if a.runner != nil {
		out, err := a.runner.RunCommandInDir(ctx, root, "git", "remote", "get-url", "origin")
		if err == nil {
			if ref, err := ParseRepoURL(strings.TrimSpace(out)); err == nil {
				return ref.FullName(), nil
			}
		}
	}
	return "", fmt.Errorf("%w: cannot determine owner/name for %s; pass --repo", descriptor.ErrInvalid, root)
}

func (a *Analyzer) baseCommit(ctx context.Context, root, given string) string {
	if given != "" {
		return given
	}
	if a.runner == nil {
		return unknownCommit
	}
	out, err := a.runner.RunCommandInDir(ctx, root, "git", "rev-parse", "HEAD")
	if err != nil {
		a.logger.Warn().Err(err).Msg("failed to read commit SHA")
		return unknownCommit
	}
	return strings.TrimSpace(out)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func copyMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
