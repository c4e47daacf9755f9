package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Azure/testbed-copilot/pkg/analysis"
	"github.com/Azure/testbed-copilot/pkg/logger"
	"github.com/Azure/testbed-copilot/pkg/settings"
	"github.com/Azure/testbed-copilot/runner"
)

// loadSettings layers defaults, the settings file, TESTBED_* variables and
// finally the flags the user actually set.
func loadSettings(cmd *cobra.Command, root string, getenv func(string) string, o *rootOptions) (settings.Settings, error) {
	s, err := settings.Resolve(root, getenv)
	if err != nil {
		return s, err
	}

	flags := cmd.Flags()
	if flags.Changed("max-iterations") {
		s.MaxIterations = o.maxIterations
	}
	if flags.Changed("run-timeout") {
		d, err := settings.ParseTimeout(o.runTimeout)
		if err != nil {
			return s, fmt.Errorf("--run-timeout: %w", err)
		}
		s.RunTimeout = d
	}
	s.ImageTag = getFirstNonEmpty(o.imageTag, s.ImageTag)
	s.Platform = getFirstNonEmpty(o.platform, s.Platform)
	s.WorkDir = getFirstNonEmpty(o.workDir, s.WorkDir)
	s.OutputDir = getFirstNonEmpty(o.outputDir, s.OutputDir)
	s.StorePath = getFirstNonEmpty(o.storePath, s.StorePath)
	s.MetricsFile = getFirstNonEmpty(o.metricsFile, s.MetricsFile)
	s.LogFile = getFirstNonEmpty(o.logFile, s.LogFile)
	if flags.Changed("remove-images") {
		s.RemoveImages = o.removeImages
	}
	return s, s.Validate()
}

// getFirstNonEmpty returns the first non-empty string from the provided values
func getFirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// repoOptions identify the repository a command works on.
type repoOptions struct {
	repo       string
	repoURL    string
	baseCommit string
	language   string
	cacheDir   string
}

func (r *repoOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.repo, "repo", "", "Repository name as owner/name (default: derived from the URL or git remote)")
	cmd.Flags().StringVar(&r.repoURL, "repo-url", "", "GitHub repository URL to clone when no local path is given")
	cmd.Flags().StringVar(&r.baseCommit, "base-commit", "", "Commit to analyze (default: HEAD)")
	cmd.Flags().StringVar(&r.language, "language", "", "Language label, typescript or javascript (default: detected)")
	cmd.Flags().StringVar(&r.cacheDir, "cache-dir", "", "Directory for cloned repositories")
}

// resolveRepoPath returns an absolute local checkout: the path argument when
// given, otherwise a clone of --repo-url.
func resolveRepoPath(ctx context.Context, args []string, r *repoOptions, cmdRunner runner.CommandRunner) (string, error) {
	if len(args) > 0 {
		absPath, err := filepath.Abs(args[0])
		if err != nil {
			return "", fmt.Errorf("error converting target repo path to absolute path: %w", err)
		}
		if info, err := os.Stat(absPath); err != nil || !info.IsDir() {
			return "", fmt.Errorf("target repo %s is not a directory", absPath)
		}
		return absPath, nil
	}
	if r.repoURL == "" {
		return "", fmt.Errorf("pass a repository path or --repo-url")
	}

	ref, err := analysis.ParseRepoURL(r.repoURL)
	if err != nil {
		return "", err
	}
	cacheDir := getFirstNonEmpty(r.cacheDir, filepath.Join(settings.Dir, "repos"))
	dir, err := analysis.NewFetcher(cmdRunner, cacheDir).Clone(ctx, ref, r.baseCommit)
	if err != nil {
		return "", err
	}
	logger.Infof("Repository available at %s", dir)
	return dir, nil
}

func (r *repoOptions) analysisOptions() analysis.Options {
	return analysis.Options{
		Repo:       r.repo,
		RepoURL:    r.repoURL,
		BaseCommit: r.baseCommit,
		Language:   r.language,
	}
}
