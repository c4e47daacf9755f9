package runner

import (
	"context"
	"sort"
)

type DockerRunner interface {
	Version(ctx context.Context) (string, error)
	Build(ctx context.Context, dockerfilePath, imageTag, contextPath, platform string) (string, error)
	Run(ctx context.Context, imageTag string, mounts map[string]string, command ...string) (string, error)
	RemoveImage(ctx context.Context, imageTag string) (string, error)
}

type DockerCmdRunner struct {
	runner CommandRunner
}

var _ DockerRunner = &DockerCmdRunner{}

func NewDockerCmdRunner(runner CommandRunner) DockerRunner {
	return &DockerCmdRunner{
		runner: runner,
	}
}

func (d *DockerCmdRunner) Version(ctx context.Context) (string, error) {
	return d.runner.RunCommand(ctx, "docker", "version", "--format", "{{.Server.Version}}")
}

// Build returns the combined build output so it can be written to the build log.
func (d *DockerCmdRunner) Build(ctx context.Context, dockerfilePath, imageTag, contextPath, platform string) (string, error) {
	args := []string{"docker", "build", "-f", dockerfilePath, "-t", imageTag}
	if platform != "" {
		args = append(args, "--platform", platform)
	}
	args = append(args, contextPath)
	return d.runner.RunCommand(ctx, args...)
}

// Run starts a throwaway container. mounts maps host paths to container paths.
func (d *DockerCmdRunner) Run(ctx context.Context, imageTag string, mounts map[string]string, command ...string) (string, error) {
	args := []string{"docker", "run", "--rm"}
	hosts := make([]string, 0, len(mounts))
	for host := range mounts {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	for _, host := range hosts {
		args = append(args, "-v", host+":"+mounts[host])
	}
	args = append(args, imageTag)
	args = append(args, command...)
	return d.runner.RunCommand(ctx, args...)
}

func (d *DockerCmdRunner) RemoveImage(ctx context.Context, imageTag string) (string, error) {
	return d.runner.RunCommand(ctx, "docker", "image", "rm", "-f", imageTag)
}
