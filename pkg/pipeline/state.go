package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Azure/testbed-copilot/pkg/analyzer"
	"github.com/Azure/testbed-copilot/pkg/descriptor"
	"github.com/Azure/testbed-copilot/pkg/generator"
	"github.com/Azure/testbed-copilot/pkg/harness"
	"github.com/Azure/testbed-copilot/pkg/recipe"
)

// Status is the terminal state of a repair session.
type Status string

const (
	StatusSuccess           Status = "SUCCESS"
	StatusExhausted         Status = "EXHAUSTED"
	StatusUnrecoverable     Status = "UNRECOVERABLE"
	StatusPreconditionError Status = "PRECONDITION_ERROR"
	// StatusError covers a collaborator failing outside its contract.
	StatusError       Status = "ERROR"
	StatusInterrupted Status = "INTERRUPTED"
)

const ExitInterrupted = 130

// ExitCode maps a status onto the process exit contract.
func (s Status) ExitCode() int {
	switch s {
	case StatusSuccess:
		return 0
	case StatusInterrupted:
		return ExitInterrupted
	}
	return 1
}

var ErrPrecondition = errors.New("precondition failed")

// Session holds everything one repair run needs. The loop owns Config for
// the duration of Run.
type Session struct {
	WorkflowID string
	Descriptor *descriptor.Descriptor
	Config     *recipe.Config
	Instance   harness.Instance
}

// NewSession generates the initial recipe for d and the synthetic instance it
// is validated against.
func NewSession(d *descriptor.Descriptor, version string, now time.Time) (*Session, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: repository descriptor is missing", ErrPrecondition)
	}
	cfg, err := generator.Generate(d, version)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPrecondition, err)
	}
	return &Session{
		WorkflowID: uuid.NewString(),
		Descriptor: d,
		Config:     cfg,
		Instance:   harness.NewInstance(d.Repo, version, d.BaseCommit, d.RepoURL, d.Language, now),
	}, nil
}

// Iteration is the audit record of one build/run attempt.
type Iteration struct {
	Number       int                  `json:"number"`
	Phase        analyzer.Phase       `json:"phase"`
	ErrorKind    analyzer.ErrorKind   `json:"error_kind,omitempty"`
	Message      string               `json:"message,omitempty"`
	Fix          *recipe.FixDirective `json:"fix,omitempty"`
	Applied      bool                 `json:"applied"`
	ArtifactPath string               `json:"artifact_path,omitempty"`
	LogPath      string               `json:"log_path,omitempty"`
	Excerpt      string               `json:"-"`
}

// Result is returned for every session, successful or not.
type Result struct {
	WorkflowID string      `json:"workflow_id"`
	Repo       string      `json:"repo"`
	Version    string      `json:"version"`
	InstanceID string      `json:"instance_id"`
	Status     Status      `json:"status"`
	Iterations int         `json:"iterations"`
	Log        []string    `json:"log"`
	History    []Iteration `json:"history"`
	// Config is the last configuration that was built.
	Config     *recipe.Config `json:"config,omitempty"`
	Message    string         `json:"message,omitempty"`
	Err        error          `json:"-"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

func (r *Result) ErrorString() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
