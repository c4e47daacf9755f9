package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Azure/testbed-copilot/pkg/analyzer"
	"github.com/Azure/testbed-copilot/pkg/recipe"
)

// FakeStep scripts one build/run attempt of Fake.
type FakeStep struct {
	BuildOK    bool
	BuildLog   string
	TestOutput string
	// RunLog is written only when non-empty.
	RunLog string
	// BuildErr and RunErr simulate a broken collaborator.
	BuildErr error
	RunErr   error
	Panic    bool
}

// Fake replays FakeSteps and writes their logs under Dir. The last step
// repeats once the script runs out.
type Fake struct {
	Dir   string
	Steps []FakeStep

	mu       sync.Mutex
	builds   int
	runs     int
	Configs  []*recipe.Config
	Timeouts []time.Duration
}

var _ Harness = &Fake{}

func (f *Fake) step(i int) FakeStep {
	if len(f.Steps) == 0 {
		return FakeStep{}
	}
	if i >= len(f.Steps) {
		return f.Steps[len(f.Steps)-1]
	}
	return f.Steps[i]
}

// Builds reports how many build attempts were made.
func (f *Fake) Builds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds
}

func (f *Fake) Runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func (f *Fake) Build(_ context.Context, inst Instance, cfg *recipe.Config) (BuildResult, error) {
	f.mu.Lock()
	n := f.builds
	f.builds++
	f.Configs = append(f.Configs, cfg.Clone())
	f.mu.Unlock()

	s := f.step(n)
	if s.Panic {
		panic(fmt.Sprintf("fake harness crashed on build %d", n+1))
	}
	if s.BuildErr != nil {
		return BuildResult{}, s.BuildErr
	}

	dir := filepath.Join(f.Dir, fmt.Sprintf("build-%d", n+1))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return BuildResult{}, err
	}
	log := s.BuildLog
	if log == "" && s.BuildOK {
		log = buildSuccessLine + "\n"
	}
	path := filepath.Join(dir, analyzer.BuildLogName)
	if err := os.WriteFile(path, []byte(log), 0644); err != nil {
		return BuildResult{}, err
	}
	return BuildResult{Success: s.BuildOK, LogPath: path}, nil
}

func (f *Fake) Run(_ context.Context, inst Instance, cfg *recipe.Config, timeout time.Duration) (RunResult, error) {
	f.mu.Lock()
	n := f.builds - 1
	f.runs++
	f.Timeouts = append(f.Timeouts, timeout)
	f.mu.Unlock()

	s := f.step(n)
	if s.RunErr != nil {
		return RunResult{}, s.RunErr
	}
	dir := filepath.Join(f.Dir, fmt.Sprintf("run-%d", n+1))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return RunResult{}, err
	}
	if err := os.WriteFile(filepath.Join(dir, analyzer.TestOutputName), []byte(s.TestOutput), 0644); err != nil {
		return RunResult{}, err
	}
	if s.RunLog != "" {
		if err := os.WriteFile(filepath.Join(dir, analyzer.RunLogName), []byte(s.RunLog), 0644); err != nil {
			return RunResult{}, err
		}
	}
	return RunResult{Completed: true, LogDir: dir}, nil
}
