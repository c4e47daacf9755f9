package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Azure/testbed-copilot/pkg/analyzer"
	"github.com/Azure/testbed-copilot/pkg/descriptor"
	"github.com/Azure/testbed-copilot/pkg/recipe"
	"github.com/Azure/testbed-copilot/runner"
)

const (
	buildSuccessLine = "Image built successfully"
	buildFailureLine = "Error building image"
	runTimeoutLine   = "Timeout error"

	evalMount = "/eval"
)

type DockerOptions struct {
	// WorkDir holds build contexts and logs.
	WorkDir       string
	Platform      string
	UbuntuVersion string
	ImageTag      string
	// RemoveImages deletes the instance image after each run.
	RemoveImages bool
}

// DockerHarness drives the docker CLI through a runner.DockerRunner.
type DockerHarness struct {
	docker runner.DockerRunner
	opts   DockerOptions
	logger zerolog.Logger
}

var _ Harness = &DockerHarness{}

func NewDockerHarness(docker runner.DockerRunner, opts DockerOptions, logger zerolog.Logger) *DockerHarness {
	if opts.ImageTag == "" {
		opts.ImageTag = "agent-test"
	}
	opts.Platform = NormalizePlatform(opts.Platform)
	return &DockerHarness{
		docker: docker,
		opts:   opts,
		logger: logger.With().Str("component", "docker-harness").Logger(),
	}
}

type imageNames struct {
	base, env, instance string
}

func (h *DockerHarness) images(inst Instance) imageNames {
	id := strings.ToLower(inst.InstanceID)
	return imageNames{
		base:     fmt.Sprintf("testbed.base.%s:%s", id, h.opts.ImageTag),
		env:      fmt.Sprintf("testbed.env.%s:%s", id, h.opts.ImageTag),
		instance: fmt.Sprintf("testbed.eval.%s:%s", id, h.opts.ImageTag),
	}
}

// BuildDir is where the build contexts and build_image.log of inst live.
func (h *DockerHarness) BuildDir(inst Instance) string {
	return filepath.Join(h.opts.WorkDir, "build_images", strings.ToLower(inst.InstanceID))
}

// RunDir is where the run logs of inst live.
func (h *DockerHarness) RunDir(inst Instance) string {
	return filepath.Join(h.opts.WorkDir, "run_evaluation", inst.InstanceID)
}

// Build renders the base, env and instance Dockerfiles from cfg and builds
// them in order. Every layer's output is appended to build_image.log.
func (h *DockerHarness) Build(ctx context.Context, inst Instance, cfg *recipe.Config) (BuildResult, error) {
	dir := h.BuildDir(inst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return BuildResult{}, fmt.Errorf("creating build dir: %w", err)
	}
	logPath := filepath.Join(dir, analyzer.BuildLogName)
	logFile, err := os.Create(logPath)
	if err != nil {
		return BuildResult{}, fmt.Errorf("creating build log: %w", err)
	}
	defer logFile.Close()

	layers, err := h.dockerfiles(inst, cfg)
	if err != nil {
		return BuildResult{}, err
	}

	for _, layer := range layers {
		layerDir := filepath.Join(dir, layer.name)
		if err := os.MkdirAll(layerDir, 0755); err != nil {
			return BuildResult{}, fmt.Errorf("creating %s context: %w", layer.name, err)
		}
		dockerfile := filepath.Join(layerDir, "Dockerfile")
		if err := os.WriteFile(dockerfile, []byte(layer.content), 0644); err != nil {
			return BuildResult{}, fmt.Errorf("writing %s Dockerfile: %w", layer.name, err)
		}

		h.logger.Info().Str("image", layer.image).Msg("building image")
		fmt.Fprintf(logFile, "Building %s image %s\n", layer.name, layer.image)
		out, err := h.docker.Build(ctx, dockerfile, layer.image, layerDir, h.opts.Platform)
		fmt.Fprintln(logFile, out)
		if err != nil {
			if ctx.Err() != nil {
				return BuildResult{}, ctx.Err()
			}
			fmt.Fprintf(logFile, "%s: %s: %v\n", buildFailureLine, layer.image, err)
			h.logger.Warn().Err(err).Str("image", layer.image).Msg("image build failed")
			return BuildResult{Success: false, LogPath: logPath}, nil
		}
	}

	fmt.Fprintln(logFile, buildSuccessLine)
	return BuildResult{Success: true, LogPath: logPath}, nil
}

type layer struct {
	name, image, content string
}

func (h *DockerHarness) dockerfiles(inst Instance, cfg *recipe.Config) ([]layer, error) {
	names := h.images(inst)

	base, err := RenderBase(BaseImage{
		Platform:      h.opts.Platform,
		UbuntuVersion: h.opts.UbuntuVersion,
		NodeVersion:   cfg.DockerSpecs[recipe.SpecNodeVersion],
		PnpmVersion:   cfg.DockerSpecs[recipe.SpecPnpmVersion],
		Yarn:          cfg.PackageManager == descriptor.Yarn,
		AptPkgs:       cfg.AptPkgs,
	})
	if err != nil {
		return nil, err
	}
	env, err := RenderEnv(EnvImage{
		Platform:  h.opts.Platform,
		BaseImage: names.base,
		Env:       SortedEnv(cfg.EnvVars),
	})
	if err != nil {
		return nil, err
	}
	instance, err := RenderInstance(InstanceImage{
		Platform:   h.opts.Platform,
		EnvImage:   names.env,
		RepoURL:    repoURL(inst),
		BaseCommit: inst.BaseCommit,
	})
	if err != nil {
		return nil, err
	}
	return []layer{
		{name: "base", image: names.base, content: base},
		{name: "env", image: names.env, content: env},
		{name: "instance", image: names.instance, content: instance},
	}, nil
}

func repoURL(inst Instance) string {
	if inst.RepoURL != "" {
		return inst.RepoURL
	}
	return "https://github.com/" + inst.Repo + ".git"
}

// Run executes install, build and test inside the instance image. The run
// directory receives test_output.txt, run_instance.log and an
// image_build_dir link to the build logs.
func (h *DockerHarness) Run(ctx context.Context, inst Instance, cfg *recipe.Config, timeout time.Duration) (RunResult, error) {
	dir := h.RunDir(inst)
	if err := os.RemoveAll(dir); err != nil {
		return RunResult{}, fmt.Errorf("clearing run dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return RunResult{}, fmt.Errorf("creating run dir: %w", err)
	}
	buildDir, err := filepath.Abs(h.BuildDir(inst))
	if err != nil {
		return RunResult{}, err
	}
	if err := os.Symlink(buildDir, filepath.Join(dir, analyzer.BuildDirLink)); err != nil {
		return RunResult{}, fmt.Errorf("linking build dir: %w", err)
	}

	script, err := RenderEval(EvalScript{Install: cfg.Install, Build: cfg.Build, TestCmd: cfg.TestCmd})
	if err != nil {
		return RunResult{}, err
	}
	if err := os.WriteFile(filepath.Join(dir, "eval.sh"), []byte(script), 0755); err != nil {
		return RunResult{}, fmt.Errorf("writing eval script: %w", err)
	}

	runLog, err := os.Create(filepath.Join(dir, analyzer.RunLogName))
	if err != nil {
		return RunResult{}, fmt.Errorf("creating run log: %w", err)
	}
	defer runLog.Close()

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return RunResult{}, err
	}

	image := h.images(inst).instance
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	fmt.Fprintf(runLog, "Running %s in %s (timeout %s)\n", inst.InstanceID, image, timeout)
	h.logger.Info().Str("instance", inst.InstanceID).Dur("timeout", timeout).Msg("running tests")
	start := time.Now()
	out, runErr := h.docker.Run(runCtx, image, map[string]string{absDir: evalMount}, "bash", evalMount+"/eval.sh")

	if err := os.WriteFile(filepath.Join(dir, analyzer.TestOutputName), []byte(out), 0644); err != nil {
		return RunResult{}, fmt.Errorf("writing test output: %w", err)
	}
	fmt.Fprintf(runLog, "Finished after %s\n", time.Since(start).Round(time.Second))

	if h.opts.RemoveImages {
		if _, err := h.docker.RemoveImage(context.WithoutCancel(ctx), image); err != nil {
			h.logger.Debug().Err(err).Str("image", image).Msg("removing image")
		}
	}

	switch {
	case ctx.Err() != nil:
		return RunResult{}, ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		fmt.Fprintf(runLog, "%s: test run exceeded %s\n", runTimeoutLine, timeout)
		return RunResult{Completed: false, LogDir: dir}, nil
	case runErr != nil:
		fmt.Fprintf(runLog, "Container exited with error: %v\n", runErr)
		return RunResult{Completed: false, LogDir: dir}, nil
	}
	return RunResult{Completed: true, LogDir: dir}, nil
}
