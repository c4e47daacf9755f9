// Package analyzer classifies build and test logs into a closed set of error
// kinds, each optionally paired with a fix directive.
package analyzer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Log file names inside a run log directory.
const (
	BuildLogName   = "build_image.log"
	BuildDirLink   = "image_build_dir"
	TestOutputName = "test_output.txt"
	RunLogName     = "run_instance.log"
)

const (
	excerptLines        = 100
	installExcerptBytes = 2000
)

// Analyzer is stateless apart from its logger.
type Analyzer struct {
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Analyzer {
	return &Analyzer{logger: logger.With().Str("component", "analyzer").Logger()}
}

// Analyze dispatches on phase. For the test phase path may be either a
// test output file or a run log directory.
func (a *Analyzer) Analyze(path string, phase Phase) Result {
	switch phase {
	case PhaseBuild:
		return a.AnalyzeBuildLog(path)
	case PhaseTest:
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return a.AnalyzeLogs(path)
		}
		return a.AnalyzeTestOutput(path)
	}
	return Result{Kind: Unknown, Message: fmt.Sprintf("unknown phase %q", phase), Source: path}
}

// AnalyzeBuildLog classifies an image build log.
func (a *Analyzer) AnalyzeBuildLog(path string) Result {
	content, failed := readLog(path, "Build log")
	if failed != nil {
		return a.done(*failed)
	}
	if strings.Contains(content, buildSuccessMarker) {
		return a.done(Result{Source: path})
	}

	r, ok := match(buildSignatures, content)
	switch {
	case ok:
	case strings.Contains(content, buildFailureMarker):
		r = Result{Kind: BuildFailureGeneric, Message: "Docker build failed (unknown cause)"}
	default:
		r = Result{Kind: Unknown, Message: "Build log has no success marker and no known failure signature"}
	}
	r.Source = path
	r.Excerpt = tail(content, excerptLines)
	return a.done(r)
}

// AnalyzeTestOutput classifies the output of the install and test steps.
// A failed install is diagnosed with install signatures before test ones.
func (a *Analyzer) AnalyzeTestOutput(path string) Result {
	content, failed := readLog(path, "Test output")
	if failed != nil {
		return a.done(*failed)
	}

	if i := installFailureIndex(content); i >= 0 {
		r, ok := match(installSignatures, content)
		if !ok {
			r, ok = match(testSignatures, content)
		}
		if !ok {
			r = Result{Kind: InstallFailure, Message: "Install step failed"}
		}
		r.Source = path
		r.Excerpt = excerptFrom(content, i)
		return a.done(r)
	}

	if testsRan(content) && !strings.Contains(content, testsErroredMarker) {
		return a.done(Result{Source: path})
	}

	r, ok := match(testSignatures, content)
	switch {
	case ok:
	case strings.Contains(content, testsErroredMarker):
		r = Result{Kind: TestFailureGeneric, Message: "Test command failed (unknown cause)"}
	default:
		r = Result{Kind: Unknown, Message: "Test output shows no test runner activity"}
	}
	r.Source = path
	r.Excerpt = tail(content, excerptLines)
	return a.done(r)
}

// AnalyzeRunLog looks for a run timeout. A missing run log is not a failure.
func (a *Analyzer) AnalyzeRunLog(path string) Result {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Result{Source: path}
	}
	if err != nil {
		return a.done(Result{Kind: LogReadError, Message: fmt.Sprintf("Failed to read log: %v", err), Source: path})
	}
	content := string(data)
	if !strings.Contains(content, runTimeoutMarker) {
		return Result{Source: path}
	}
	r, _ := match(testSignatures[:1], runTimeoutMarker)
	r.Source = path
	r.Excerpt = tail(content, excerptLines)
	return a.done(r)
}

// AnalyzeLogs consolidates a run log directory. The linked build log, the
// test output and the run log are checked in that order and the first
// decisive result wins, with one exception: a timeout recorded in the run log
// is checked before the test output, because the harness keeps whatever
// output the killed container produced and that partial output can look
// like a passing run.
func (a *Analyzer) AnalyzeLogs(dir string) Result {
	link := filepath.Join(dir, BuildDirLink)
	if info, err := os.Lstat(link); err == nil && info.Mode()&os.ModeSymlink != 0 {
		buildLog := filepath.Join(link, BuildLogName)
		if _, err := os.Stat(buildLog); err == nil {
			if r := a.AnalyzeBuildLog(buildLog); !r.OK() {
				return r
			}
		}
	}

	run := a.AnalyzeRunLog(filepath.Join(dir, RunLogName))
	if run.Kind == Timeout {
		return run
	}

	testOutput := filepath.Join(dir, TestOutputName)
	if _, err := os.Stat(testOutput); err == nil {
		return a.AnalyzeTestOutput(testOutput)
	}
	if !run.OK() {
		return run
	}
	return a.done(Result{
		Kind:    LogNotFound,
		Message: fmt.Sprintf("Test output not found: %s", testOutput),
		Source:  testOutput,
	})
}

func (a *Analyzer) done(r Result) Result {
	ev := a.logger.Debug().Str("source", r.Source)
	if r.OK() {
		ev.Msg("no error detected")
		return r
	}
	ev = ev.Str("error_kind", string(r.Kind))
	if r.Fix != nil {
		ev = ev.Str("fix", r.Fix.String())
	}
	ev.Msg(r.Message)
	return r
}

// readLog returns a terminal Result when the log cannot be used as evidence.
func readLog(path, what string) (string, *Result) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", &Result{Kind: LogNotFound, Message: fmt.Sprintf("%s not found: %s", what, path), Source: path}
	}
	if err != nil {
		return "", &Result{Kind: LogReadError, Message: fmt.Sprintf("Failed to read log: %v", err), Source: path}
	}
	return string(data), nil
}

func installFailureIndex(content string) int {
	if i := strings.Index(content, initFailedMarker); i >= 0 {
		return i
	}
	return strings.Index(content, installFailMarker)
}

// testsRan looks for runner output between the harness test markers, when
// present. Echoed commands do not count: "+ npm test" only shows the script
// got that far.
func testsRan(content string) bool {
	if i := strings.Index(content, testStartMarker); i >= 0 {
		content = content[i+len(testStartMarker):]
	}
	if i := strings.Index(content, testEndMarker); i >= 0 {
		content = content[:i]
	}
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, commandEchoPrefix) {
			continue
		}
		for _, m := range testRunnerMarkers {
			if strings.Contains(line, m) {
				return true
			}
		}
	}
	return false
}

func tail(content string, n int) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func excerptFrom(content string, start int) string {
	end := start + installExcerptBytes
	if end > len(content) {
		end = len(content)
	}
	return strings.ToValidUTF8(content[start:end], "")
}
