package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Azure/testbed-copilot/pkg/artifact"
	"github.com/Azure/testbed-copilot/pkg/harness"
	"github.com/Azure/testbed-copilot/pkg/logger"
	"github.com/Azure/testbed-copilot/pkg/metrics"
	"github.com/Azure/testbed-copilot/pkg/settings"
	"github.com/Azure/testbed-copilot/pkg/store"
	"github.com/Azure/testbed-copilot/runner"
)

// Clients holds the collaborators a repair session is wired with
type Clients struct {
	Runner  runner.CommandRunner
	Docker  runner.DockerRunner
	Harness harness.Harness
	Writer  artifact.Writer
	// S3 is nil unless an artifact bucket is configured.
	S3      *artifact.S3Store
	Store   *store.BoltStore
	Metrics *metrics.Recorder
}

func initClients(ctx context.Context, s settings.Settings) (*Clients, error) {
	cmdRunner := &runner.DefaultCommandRunner{}
	docker := runner.NewDockerCmdRunner(cmdRunner)

	if out, err := docker.Version(ctx); err != nil {
		return nil, fmt.Errorf("docker is not available: %w: %s", err, out)
	}

	c := &Clients{
		Runner: cmdRunner,
		Docker: docker,
		Harness: harness.NewDockerHarness(docker, harness.DockerOptions{
			WorkDir:      s.WorkDir,
			Platform:     s.Platform,
			ImageTag:     s.ImageTag,
			RemoveImages: s.RemoveImages,
		}, logger.With("harness")),
		Metrics: metrics.New(),
	}

	writers := artifact.MultiWriter{artifact.NewLocalStore(filepath.Join(s.OutputDir, "recipes"))}
	if s.Artifact.Enabled() {
		s3, err := artifact.NewS3Store(s.Artifact)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 artifact store: %w", err)
		}
		c.S3 = s3
		writers = append(writers, s3)
	}
	c.Writer = writers

	st, err := store.NewBoltStore(s.StorePath)
	if err != nil {
		logger.Warnf("Session history disabled: %v", err)
	} else {
		c.Store = st
	}
	return c, nil
}

func (c *Clients) Close() {
	if c.Store != nil {
		c.Store.Close()
	}
}
