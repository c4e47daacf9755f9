package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/testbed-copilot/pkg/analyzer"
	"github.com/Azure/testbed-copilot/pkg/descriptor"
	"github.com/Azure/testbed-copilot/pkg/pipeline"
	"github.com/Azure/testbed-copilot/pkg/recipe"
	"github.com/Azure/testbed-copilot/pkg/store"
)

func sampleDescriptor() *descriptor.Descriptor {
	return &descriptor.Descriptor{
		Repo:                 "octo/widgets",
		BaseCommit:           "abc123",
		Language:             "typescript",
		PackageManager:       descriptor.PNPM,
		RuntimeVersion:       "18",
		RuntimeVersionSource: descriptor.SourceManifest,
		InstallCommand:       []string{"pnpm install"},
		TestCommand:          "npm run test",
		SystemDeps:           []string{"libvips-dev"},
		TestFramework:        "vitest",
	}
}

func TestClassifyCommand(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, analyzer.BuildLogName)
	require.NoError(t, os.WriteFile(logPath, []byte("E: Unable to locate package libfoo-dev\nError building image\n"), 0644))

	var out bytes.Buffer
	code := run(context.Background(), &out, []string{"classify", "--phase", "build", logPath})
	require.Equal(t, 0, code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, false, got["ok"])
	assert.Equal(t, "missing_package", got["error_kind"])
	fix, ok := got["suggested_fix"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "remove_apt_package", fix["fix_kind"])
	assert.Equal(t, "libfoo-dev", fix["value"])
}

func TestClassifyCommandDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, analyzer.TestOutputName), []byte("> vitest run\n Test Files  4 passed (4)\n"), 0644))

	var out bytes.Buffer
	require.Equal(t, 0, run(context.Background(), &out, []string{"classify", "--dir", dir}))
	assert.Contains(t, out.String(), `"ok": true`)
}

func TestClassifyCommandRejectsPhase(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 1, run(context.Background(), &out, []string{"classify", "--phase", "deploy", "x.log"}))
}

func TestGenerateCommandFromDescriptor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "descriptor.yaml")
	require.NoError(t, descriptor.Save(path, sampleDescriptor()))

	var out bytes.Buffer
	code := run(context.Background(), &out, []string{"generate", "--descriptor", path, "--version", "v2", "--output-dir", dir, "--write"})
	require.Equal(t, 0, code)

	version, entry, err := recipe.UnmarshalEntryYAML(out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "v2", version)
	assert.Equal(t, []string{"pnpm install"}, entry.Install)
	assert.Equal(t, "npm run test", entry.TestCmd)
	assert.Equal(t, "9.5.0", entry.DockerSpecs[recipe.SpecPnpmVersion])
	assert.FileExists(t, filepath.Join(dir, "recipes", "octo__widgets", "v2.yaml"))
}

func TestGenerateCommandInvalidDescriptor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "descriptor.yaml")
	d := sampleDescriptor()
	d.Repo = "not-a-repo"
	require.NoError(t, descriptor.Save(path, d))

	var out bytes.Buffer
	assert.Equal(t, 1, run(context.Background(), &out, []string{"generate", "--descriptor", path}))
}

func TestAnalyzeCommand(t *testing.T) {
	repo := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repo, "package.json"), []byte(`{"scripts": {"test": "mocha"}, "devDependencies": {"mocha": "^10.0.0"}}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, ".nvmrc"), []byte("v20.11.0\n"), 0644))
	saved := filepath.Join(t.TempDir(), "descriptor.yaml")

	var out bytes.Buffer
	code := run(context.Background(), &out, []string{"analyze", repo, "--repo", "octo/mocha-app", "--base-commit", "deadbeef", "--out", saved})
	require.Equal(t, 0, code)
	assert.Contains(t, out.String(), "repo: octo/mocha-app")
	assert.Contains(t, out.String(), "test_framework: mocha")

	d, err := descriptor.Load(saved)
	require.NoError(t, err)
	assert.Equal(t, "20", d.RuntimeVersion)
	assert.Equal(t, descriptor.SourceExplicitFile, d.RuntimeVersionSource)
	assert.Equal(t, "deadbeef", d.BaseCommit)
}

func TestAnalyzeCommandNeedsRepository(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 1, run(context.Background(), &out, []string{"analyze"}))
}

func TestHistoryCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	st, err := store.NewBoltStore(dbPath)
	require.NoError(t, err)
	finished := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.Save(context.Background(), store.Record{WorkflowID: "wf-1", Repo: "octo/widgets", Version: "1.0", Status: "SUCCESS", Iterations: 2, FinishedAt: finished}))
	require.NoError(t, st.Save(context.Background(), store.Record{WorkflowID: "wf-2", Repo: "octo/gadgets", Version: "1.0", Status: "EXHAUSTED", Iterations: 5, FinishedAt: finished.Add(time.Hour)}))
	require.NoError(t, st.Close())

	var out bytes.Buffer
	require.Equal(t, 0, run(context.Background(), &out, []string{"history", "--store", dbPath, "--status", "success"}))
	assert.Contains(t, out.String(), "wf-1")
	assert.NotContains(t, out.String(), "wf-2")

	out.Reset()
	require.Equal(t, 0, run(context.Background(), &out, []string{"history", "--store", dbPath, "wf-2"}))
	assert.Contains(t, out.String(), `"status": "EXHAUSTED"`)

	out.Reset()
	assert.Equal(t, 1, run(context.Background(), &out, []string{"history", "--store", dbPath, "wf-missing"}))
}

func TestLoadSettingsPrecedence(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".testbed-copilot"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".testbed-copilot", "settings.yaml"), []byte("max_iterations: 7\nimage_tag: from-file\nplatform: linux/arm64\n"), 0644))
	env := map[string]string{"TESTBED_MAX_ITERATIONS": "9", "TESTBED_IMAGE_TAG": "from-env"}

	opts := &rootOptions{}
	cmd := &cobra.Command{}
	cmd.Flags().IntVarP(&opts.maxIterations, "max-iterations", "n", 0, "")
	cmd.Flags().StringVar(&opts.runTimeout, "run-timeout", "", "")
	cmd.Flags().BoolVar(&opts.removeImages, "remove-images", false, "")
	cmd.Flags().StringVar(&opts.imageTag, "image-tag", "", "")
	require.NoError(t, cmd.Flags().Parse([]string{"--run-timeout", "90", "--image-tag", "from-flag"}))

	s, err := loadSettings(cmd, root, func(k string) string { return env[k] }, opts)
	require.NoError(t, err)
	assert.Equal(t, 9, s.MaxIterations)
	assert.Equal(t, 90*time.Second, s.RunTimeout)
	assert.Equal(t, "from-flag", s.ImageTag)
	assert.Equal(t, "linux/arm64", s.Platform)

	require.NoError(t, cmd.Flags().Parse([]string{"--max-iterations", "0"}))
	_, err = loadSettings(cmd, root, func(k string) string { return env[k] }, opts)
	assert.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	res := &pipeline.Result{
		WorkflowID: "wf-9",
		Repo:       "octo/widgets",
		Version:    "1.0",
		InstanceID: "octo__widgets-agent-test-1.0",
		Status:     pipeline.StatusExhausted,
		Iterations: 2,
		Log:        []string{"Iteration 1: Build failed: network_timeout", "Iteration 2: Build failed: network_timeout"},
		Config:     &recipe.Config{Version: "1.0", Install: []string{"pnpm install"}, TestCmd: "npm run test"},
		Message:    "Max iterations (2) reached",
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
	}

	var out bytes.Buffer
	printSummary(&out, sampleDescriptor(), res, 2, "out/reports/wf-9")
	s := out.String()

	assert.Contains(t, s, "WORKFLOW SUMMARY")
	assert.Contains(t, s, "Workflow ID: wf-9")
	assert.Contains(t, s, "Package Manager: pnpm")
	assert.Contains(t, s, "Test Framework: vitest")
	assert.Contains(t, s, "Iterations: 2/2")
	assert.Contains(t, s, "    Iteration 2: Build failed: network_timeout")
	assert.Contains(t, s, "Message: Max iterations (2) reached")
	assert.Contains(t, s, "STATUS: ✗ FAILED (EXHAUSTED)")
	assert.Contains(t, s, "Report saved to: out/reports/wf-9")

	out.Reset()
	res.Status = pipeline.StatusSuccess
	printSummary(&out, sampleDescriptor(), res, 5, "")
	assert.Contains(t, out.String(), "Test Instance: octo__widgets-agent-test-1.0")
	assert.Contains(t, out.String(), "STATUS: ✓ SUCCESS")
	assert.False(t, strings.Contains(out.String(), "--- Errors ---"))
}

func TestExitErrorCodes(t *testing.T) {
	err := &exitError{code: pipeline.StatusInterrupted.ExitCode()}
	var target *exitError
	require.True(t, errors.As(err, &target))
	assert.Equal(t, 130, target.code)
	assert.Equal(t, "exit status 130", err.Error())
	assert.True(t, isDockerUnavailable(errors.New("Cannot connect to the Docker daemon at unix:///var/run/docker.sock")))
	assert.False(t, isDockerUnavailable(nil))
}
