// Package harness builds and runs a recipe inside containers and leaves the
// resulting logs on disk for the analyzer.
package harness

import (
	"context"
	"strings"
	"time"

	"github.com/Azure/testbed-copilot/pkg/recipe"
)

// Instance is the synthetic evaluation instance a recipe is validated against.
type Instance struct {
	InstanceID             string    `json:"instance_id"`
	Repo                   string    `json:"repo"`
	Version                string    `json:"version"`
	BaseCommit             string    `json:"base_commit"`
	EnvironmentSetupCommit string    `json:"environment_setup_commit"`
	RepoURL                string    `json:"repo_url,omitempty"`
	Language               string    `json:"language,omitempty"`
	ProblemStatement       string    `json:"problem_statement"`
	CreatedAt              time.Time `json:"created_at"`
}

func NewInstance(repo, version, baseCommit, repoURL, language string, createdAt time.Time) Instance {
	return Instance{
		InstanceID:             InstanceID(repo, version),
		Repo:                   repo,
		Version:                version,
		BaseCommit:             baseCommit,
		EnvironmentSetupCommit: baseCommit,
		RepoURL:                repoURL,
		Language:               language,
		ProblemStatement:       "Docker configuration validation test",
		CreatedAt:              createdAt,
	}
}

// InstanceID returns owner__repo-agent-test-<version>.
func InstanceID(repo, version string) string {
	return strings.ReplaceAll(repo, "/", "__") + "-agent-test-" + version
}

type BuildResult struct {
	Success bool
	// LogPath is the build log, present for both outcomes.
	LogPath string
}

type RunResult struct {
	Completed bool
	LogDir    string
}

// Harness is the build/run collaborator of the repair loop. Errors are
// reserved for failures of the harness itself; a failed build or test run is
// reported through the result and its logs.
type Harness interface {
	Build(ctx context.Context, inst Instance, cfg *recipe.Config) (BuildResult, error)
	Run(ctx context.Context, inst Instance, cfg *recipe.Config, timeout time.Duration) (RunResult, error)
}
