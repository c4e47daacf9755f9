package runner

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// CommandRunner is an interface for executing commands and getting the output/error
type CommandRunner interface {
	RunCommand(ctx context.Context, args ...string) (string, error)
	RunCommandInDir(ctx context.Context, dir string, args ...string) (string, error)
}

type DefaultCommandRunner struct{}

var _ CommandRunner = &DefaultCommandRunner{}

func (d *DefaultCommandRunner) RunCommand(ctx context.Context, args ...string) (string, error) {
	return d.RunCommandInDir(ctx, "", args...)
}

func (d *DefaultCommandRunner) RunCommandInDir(ctx context.Context, dir string, args ...string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("no command given")
	}
	log.Debug("Running command: ", args)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	log.Debug("Command output: ", string(out))
	return string(out), err
}

// FakeCommandRunner records every invocation. When Handler is set it decides
// the output per call, otherwise Output/ErrStr are returned.
type FakeCommandRunner struct {
	Output  string
	ErrStr  string
	Handler func(dir string, args []string) (string, error)

	mu    sync.Mutex
	Calls []string
}

var _ CommandRunner = &FakeCommandRunner{}

func (f *FakeCommandRunner) RunCommand(ctx context.Context, args ...string) (string, error) {
	return f.RunCommandInDir(ctx, "", args...)
}

func (f *FakeCommandRunner) RunCommandInDir(_ context.Context, dir string, args ...string) (string, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, strings.Join(args, " "))
	f.mu.Unlock()
	if f.Handler != nil {
		return f.Handler(dir, args)
	}
	if f.ErrStr != "" {
		return f.Output, errors.New(f.ErrStr)
	}
	return f.Output, nil
}
