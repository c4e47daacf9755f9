package analysis

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Azure/testbed-copilot/pkg/logger"
	"github.com/Azure/testbed-copilot/runner"
)

// RepoRef is a parsed GitHub repository reference.
type RepoRef struct {
	Owner    string
	Name     string
	CloneURL string
}

func (r RepoRef) FullName() string {
	return r.Owner + "/" + r.Name
}

// ParseRepoURL accepts https://github.com/owner/repo(.git) and owner/repo.
func ParseRepoURL(raw string) (RepoRef, error) {
	var owner, name string
	if strings.HasPrefix(raw, "http") || strings.HasPrefix(raw, "git@") {
		url := strings.TrimSuffix(strings.TrimRight(raw, "/"), ".git")
		url = strings.ReplaceAll(url, ":", "/")
		parts := strings.Split(url, "/")
		if len(parts) < 2 {
			return RepoRef{}, fmt.Errorf("invalid repository URL: %s", raw)
		}
		owner, name = parts[len(parts)-2], parts[len(parts)-1]
	} else {
		parts := strings.Split(raw, "/")
		if len(parts) != 2 {
			return RepoRef{}, fmt.Errorf("invalid repository reference: %s", raw)
		}
		owner, name = parts[0], parts[1]
	}
	if owner == "" || name == "" {
		return RepoRef{}, fmt.Errorf("invalid repository reference: %s", raw)
	}
	return RepoRef{
		Owner:    owner,
		Name:     name,
		CloneURL: fmt.Sprintf("https://github.com/%s/%s.git", owner, name),
	}, nil
}

// Fetcher keeps clones under CacheDir/<owner>__<repo>.
type Fetcher struct {
	Runner   runner.CommandRunner
	CacheDir string
}

func NewFetcher(r runner.CommandRunner, cacheDir string) *Fetcher {
	return &Fetcher{Runner: r, CacheDir: cacheDir}
}

// Clone returns the local checkout of ref, reusing an existing clone. Without
// a commit the clone is shallow.
func (f *Fetcher) Clone(ctx context.Context, ref RepoRef, commit string) (string, error) {
	dir := filepath.Join(f.CacheDir, ref.Owner+"__"+ref.Name)

	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		logger.Infof("Repository already cloned at %s", dir)
		if commit != "" {
			if out, err := f.Runner.RunCommandInDir(ctx, dir, "git", "checkout", commit); err != nil {
				logger.Warnf("Failed to checkout %s: %v: %s", commit, err, out)
			}
		}
		return dir, nil
	}

	if err := os.MkdirAll(f.CacheDir, 0755); err != nil {
		return "", fmt.Errorf("creating clone cache: %w", err)
	}

	logger.Infof("Cloning %s to %s", ref.CloneURL, dir)
	args := []string{"git", "clone", ref.CloneURL, dir}
	if commit == "" {
		args = []string{"git", "clone", "--depth=1", ref.CloneURL, dir}
	}
	if out, err := f.Runner.RunCommand(ctx, args...); err != nil {
		return "", fmt.Errorf("git clone failed: %w: %s", err, strings.TrimSpace(out))
	}
	if commit != "" {
		if out, err := f.Runner.RunCommandInDir(ctx, dir, "git", "checkout", commit); err != nil {
			return "", fmt.Errorf("checking out %s: %w: %s", commit, err, strings.TrimSpace(out))
		}
	}
	return dir, nil
}
