package harness

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/testbed-copilot/pkg/analyzer"
	"github.com/Azure/testbed-copilot/pkg/descriptor"
	"github.com/Azure/testbed-copilot/pkg/recipe"
	"github.com/Azure/testbed-copilot/runner"
)

func testConfig() *recipe.Config {
	return &recipe.Config{
		Repo:           "octo/widgets",
		Version:        "1.0.0",
		PackageManager: descriptor.PNPM,
		Install:        []string{"pnpm install"},
		TestCmd:        "pnpm test",
		DockerSpecs:    map[string]string{recipe.SpecNodeVersion: "20", recipe.SpecVariant: "js_2", recipe.SpecPnpmVersion: "9.5.0"},
		AptPkgs:        []string{"chromium", "xvfb"},
		EnvVars:        map[string]string{"CI": "true", "A_FIRST": "1"},
	}
}

func TestInstanceID(t *testing.T) {
	inst := NewInstance("octo/widgets", "1.0.0", "abc", "", "typescript", time.Unix(0, 0))
	assert.Equal(t, "octo__widgets-agent-test-1.0.0", inst.InstanceID)
	assert.Equal(t, "abc", inst.EnvironmentSetupCommit)
}

func TestNormalizePlatform(t *testing.T) {
	tests := map[string]string{
		"":            "linux/x86_64",
		"x86_64":      "linux/x86_64",
		"amd64":       "linux/x86_64",
		"linux/amd64": "linux/x86_64",
		"aarch64":     "linux/arm64/v8",
		"linux/s390x": "linux/s390x",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizePlatform(in), in)
	}
}

func TestRenderBase(t *testing.T) {
	out, err := RenderBase(BaseImage{Platform: "amd64", NodeVersion: "18", PnpmVersion: "9.5.0", AptPkgs: []string{"chromium"}})
	require.NoError(t, err)
	assert.Contains(t, out, "FROM --platform=linux/x86_64 ubuntu:22.04")
	assert.Contains(t, out, "setup_18.x")
	assert.Contains(t, out, "    chromium && \\")
	assert.Contains(t, out, "pnpm@9.5.0")
	assert.NotContains(t, out, "corepack")

	_, err = RenderBase(BaseImage{})
	assert.Error(t, err)
}

func TestRenderEnvSortsVariables(t *testing.T) {
	out, err := RenderEnv(EnvImage{BaseImage: "base:1", Env: SortedEnv(map[string]string{"Z": "last", "A": "first value"})})
	require.NoError(t, err)
	assert.Less(t, strings.Index(out, "ENV A="), strings.Index(out, "ENV Z="))
	assert.Contains(t, out, `ENV A="first value"`)
}

func TestRenderInstanceRequiresCommit(t *testing.T) {
	_, err := RenderInstance(InstanceImage{EnvImage: "env:1", RepoURL: "https://example.com/r.git"})
	assert.Error(t, err)
}

func TestRenderEval(t *testing.T) {
	out, err := RenderEval(EvalScript{
		Install: []string{"npm install", "npm install left-pad"},
		Build:   []string{"npm run build"},
		TestCmd: "npm test -- --grep 'it works'",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "npm install left-pad || { echo \">>>>> Init Failed\"; exit 1; }")
	assert.Contains(t, out, "npm run build || {")
	assert.Contains(t, out, `echo '+ npm test -- --grep '\''it works'\'''`)
	assert.Less(t, strings.Index(out, "npm run build"), strings.Index(out, ">>>>> Start Test Output"))
}

func newDockerHarness(t *testing.T, fake *runner.FakeCommandRunner) *DockerHarness {
	return NewDockerHarness(runner.NewDockerCmdRunner(fake), DockerOptions{WorkDir: t.TempDir()}, zerolog.Nop())
}

func TestDockerHarnessBuild(t *testing.T) {
	fake := &runner.FakeCommandRunner{Output: "Successfully built"}
	h := newDockerHarness(t, fake)
	inst := NewInstance("octo/widgets", "1.0.0", "abc", "", "", time.Now())

	res, err := h.Build(context.Background(), inst, testConfig())
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, fake.Calls, 3)
	assert.Contains(t, fake.Calls[0], "-t testbed.base.octo__widgets-agent-test-1.0.0:agent-test")
	assert.Contains(t, fake.Calls[2], "--platform linux/x86_64")

	data, err := os.ReadFile(res.LogPath)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(string(data)), "Image built successfully"))

	dockerfile, err := os.ReadFile(filepath.Join(h.BuildDir(inst), "instance", "Dockerfile"))
	require.NoError(t, err)
	assert.Contains(t, string(dockerfile), "git clone https://github.com/octo/widgets.git /testbed")
}

func TestDockerHarnessBuildFailureIsClassified(t *testing.T) {
	fake := &runner.FakeCommandRunner{Output: "E: Unable to locate package chromium", ErrStr: "exit status 100"}
	h := newDockerHarness(t, fake)
	inst := NewInstance("octo/widgets", "1.0.0", "abc", "", "", time.Now())

	res, err := h.Build(context.Background(), inst, testConfig())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Len(t, fake.Calls, 1)

	r := analyzer.New(zerolog.Nop()).AnalyzeBuildLog(res.LogPath)
	assert.Equal(t, analyzer.MissingPackage, r.Kind)
	assert.Equal(t, "chromium", r.Fix.Value)
}

func TestDockerHarnessRun(t *testing.T) {
	fake := &runner.FakeCommandRunner{
		Handler: func(_ string, args []string) (string, error) {
			if args[1] == "run" {
				return ">>>>> Start Test Output\n+ pnpm test\nTest Suites: 2 passed\n>>>>> End Test Output\n", nil
			}
			return "", nil
		},
	}
	h := newDockerHarness(t, fake)
	inst := NewInstance("octo/widgets", "1.0.0", "abc", "", "", time.Now())
	cfg := testConfig()

	_, err := h.Build(context.Background(), inst, cfg)
	require.NoError(t, err)
	res, err := h.Run(context.Background(), inst, cfg, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Completed)

	for _, name := range []string{analyzer.TestOutputName, analyzer.RunLogName, "eval.sh"} {
		assert.FileExists(t, filepath.Join(res.LogDir, name))
	}
	assert.True(t, analyzer.New(zerolog.Nop()).AnalyzeLogs(res.LogDir).OK())
}

func TestDockerHarnessRunEchoIsNotRunnerOutput(t *testing.T) {
	fake := &runner.FakeCommandRunner{
		Handler: func(_ string, args []string) (string, error) {
			if args[1] == "run" {
				return "+ pnpm install\n>>>>> Start Test Output\n+ pnpm test\n" +
					"Error: Failed to launch the browser process! Chromium revision is not found\n" +
					">>>>> End Test Output\n", nil
			}
			return "", nil
		},
	}
	h := newDockerHarness(t, fake)
	inst := NewInstance("octo/widgets", "1.0.0", "abc", "", "", time.Now())
	cfg := testConfig()

	_, err := h.Build(context.Background(), inst, cfg)
	require.NoError(t, err)
	res, err := h.Run(context.Background(), inst, cfg, time.Minute)
	require.NoError(t, err)

	script, err := os.ReadFile(filepath.Join(res.LogDir, "eval.sh"))
	require.NoError(t, err)
	assert.Contains(t, string(script), "echo '+ pnpm test'")

	r := analyzer.New(zerolog.Nop()).AnalyzeLogs(res.LogDir)
	assert.Equal(t, analyzer.ChromiumMissing, r.Kind)
	require.NotNil(t, r.Fix)
	assert.Equal(t, "chromium", r.Fix.Value)
}

func TestDockerHarnessRunTimeout(t *testing.T) {
	fake := &runner.FakeCommandRunner{
		Handler: func(_ string, args []string) (string, error) {
			if args[1] == "run" {
				time.Sleep(50 * time.Millisecond)
				return "", context.DeadlineExceeded
			}
			return "", nil
		},
	}
	h := newDockerHarness(t, fake)
	inst := NewInstance("octo/widgets", "1.0.0", "abc", "", "", time.Now())

	res, err := h.Run(context.Background(), inst, testConfig(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, res.Completed)

	data, err := os.ReadFile(filepath.Join(res.LogDir, analyzer.RunLogName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Timeout error")
}

func TestFakeRepeatsLastStep(t *testing.T) {
	f := &Fake{Dir: t.TempDir(), Steps: []FakeStep{{BuildOK: false, BuildLog: "Error building image"}}}
	inst := NewInstance("octo/widgets", "1.0.0", "abc", "", "", time.Now())
	for i := 0; i < 3; i++ {
		res, err := f.Build(context.Background(), inst, testConfig())
		require.NoError(t, err)
		assert.False(t, res.Success)
	}
	assert.Equal(t, 3, f.Builds())
	assert.Len(t, f.Configs, 3)
}
