package pipeline

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Azure/testbed-copilot/pkg/analyzer"
	"github.com/Azure/testbed-copilot/pkg/artifact"
	"github.com/Azure/testbed-copilot/pkg/descriptor"
	"github.com/Azure/testbed-copilot/pkg/harness"
	"github.com/Azure/testbed-copilot/pkg/metrics"
	"github.com/Azure/testbed-copilot/pkg/recipe"
)

type Options struct {
	MaxIterations int
	// RunTimeout is passed to the harness for every test run.
	RunTimeout time.Duration
	// SnapshotDir enables per-iteration snapshots when non-empty.
	SnapshotDir string
}

// Loop is the repair controller: write the recipe, build, run, classify,
// apply the suggested fix and try again until success or the budget runs out.
type Loop struct {
	harness  harness.Harness
	writer   artifact.Writer
	analyzer *analyzer.Analyzer
	metrics  *metrics.Recorder
	out      io.Writer
	opts     Options
	logger   zerolog.Logger
}

func NewLoop(h harness.Harness, w artifact.Writer, a *analyzer.Analyzer, m *metrics.Recorder, out io.Writer, opts Options, logger zerolog.Logger) *Loop {
	if out == nil {
		out = io.Discard
	}
	return &Loop{
		harness:  h,
		writer:   w,
		analyzer: a,
		metrics:  m,
		out:      out,
		opts:     opts,
		logger:   logger.With().Str("component", "loop").Logger(),
	}
}

type verdict int

const (
	verdictContinue verdict = iota
	verdictSuccess
	verdictUnrecoverable
	verdictError
	verdictInterrupted
)

// step is the outcome of a single iteration.
type step struct {
	verdict verdict
	record  Iteration
	line    string
	err     error
}

// Run never returns an error: every outcome, including a panicking
// collaborator, is reported through the Result.
func (l *Loop) Run(ctx context.Context, s *Session) (res *Result) {
	start := time.Now()
	res = &Result{StartedAt: start, Log: []string{}, History: []Iteration{}}
	// current is the iteration in flight, nil once its outcome is recorded.
	var current *Iteration
	if s != nil {
		res.WorkflowID = s.WorkflowID
		res.InstanceID = s.Instance.InstanceID
		if s.Config != nil {
			res.Repo = s.Config.Repo
			res.Version = s.Config.Version
		}
	}

	defer func() {
		if p := recover(); p != nil {
			l.logger.Error().Interface("panic", p).Msg("collaborator crashed")
			res.Status = StatusError
			res.Err = fmt.Errorf("collaborator panic: %v", p)
			res.Message = res.Err.Error()
			if current != nil {
				current.Message = res.Message
				res.History = append(res.History, *current)
				res.Log = append(res.Log, fmt.Sprintf("Iteration %d: %s", current.Number, res.Message))
			}
		}
		res.FinishedAt = time.Now()
		l.metrics.SessionFinished(string(res.Status), res.FinishedAt.Sub(start))
		l.logger.Info().
			Str("workflow_id", res.WorkflowID).
			Str("status", string(res.Status)).
			Int("iterations", res.Iterations).
			Msg("repair session finished")
	}()

	if err := l.preconditions(s); err != nil {
		res.Status = StatusPreconditionError
		res.Err = err
		res.Message = err.Error()
		return res
	}

	cfg := s.Config
	timeout := l.opts.RunTimeout
	budget := l.opts.MaxIterations

	for i := 1; i <= budget; i++ {
		if err := ctx.Err(); err != nil {
			res.Status = StatusInterrupted
			res.Err = err
			res.Message = fmt.Sprintf("interrupted before iteration %d", i)
			return res
		}

		fmt.Fprintf(l.out, "\n=== Iteration %d/%d ===\n", i, budget)
		res.Iterations = i
		res.Config = cfg.Clone()

		current = &Iteration{Number: i, Phase: analyzer.PhaseBuild}
		st := l.iterate(ctx, i, s, cfg, current, &timeout)
		current = nil
		res.History = append(res.History, st.record)
		res.Log = append(res.Log, st.line)
		l.snapshot(i, res.Config, st.record)

		switch st.verdict {
		case verdictSuccess:
			fmt.Fprintln(l.out, "🎉 Configuration validated successfully!")
			res.Status = StatusSuccess
			return res
		case verdictUnrecoverable:
			fmt.Fprintln(l.out, "❌ No known fix; stopping")
			res.Status = StatusUnrecoverable
			res.Message = st.record.Message
			return res
		case verdictError:
			res.Status = StatusError
			res.Err = st.err
			res.Message = st.err.Error()
			return res
		case verdictInterrupted:
			res.Status = StatusInterrupted
			res.Err = st.err
			res.Message = fmt.Sprintf("interrupted during iteration %d", i)
			return res
		}
		fmt.Fprintln(l.out, "❌ Iteration failed; retrying with updated configuration...")
	}

	res.Status = StatusExhausted
	res.Message = fmt.Sprintf("Max iterations (%d) reached", budget)
	return res
}

func (l *Loop) preconditions(s *Session) error {
	switch {
	case s == nil:
		return fmt.Errorf("%w: session is missing", ErrPrecondition)
	case s.Descriptor == nil:
		return fmt.Errorf("%w: repository descriptor is missing", ErrPrecondition)
	case s.Config == nil:
		return fmt.Errorf("%w: configuration was not generated", ErrPrecondition)
	case len(s.Config.Install) == 0:
		return fmt.Errorf("%w: configuration has no install step", ErrPrecondition)
	case l.harness == nil || l.writer == nil || l.analyzer == nil:
		return fmt.Errorf("%w: loop collaborators are not configured", ErrPrecondition)
	case l.opts.MaxIterations < 1:
		return fmt.Errorf("%w: max iterations must be at least 1", ErrPrecondition)
	}
	return nil
}

// iterate fills rec as it goes so a crashing collaborator still leaves a
// record of how far the iteration got.
func (l *Loop) iterate(ctx context.Context, i int, s *Session, cfg *recipe.Config, rec *Iteration, timeout *time.Duration) step {
	loc, err := l.writer.WriteConfig(ctx, cfg)
	if err != nil {
		return l.failed(ctx, *rec, fmt.Errorf("writing configuration: %w", err))
	}
	rec.ArtifactPath = loc
	fmt.Fprintf(l.out, "📝 Configuration written to %s\n", loc)

	l.metrics.Iteration(string(analyzer.PhaseBuild))
	fmt.Fprintf(l.out, "🔨 Building images for %s...\n", s.Instance.InstanceID)
	build, err := l.harness.Build(ctx, s.Instance, cfg)
	if err != nil {
		return l.failed(ctx, *rec, fmt.Errorf("build collaborator: %w", err))
	}
	if !build.Success {
		rec.LogPath = build.LogPath
		r := l.analyzer.AnalyzeBuildLog(build.LogPath)
		if r.OK() {
			r.Kind = analyzer.Unknown
			r.Message = "Build reported failure but the log shows success"
		}
		fmt.Fprintf(l.out, "❌ Build failed: %s\n", r.Message)
		return l.classified(i, s, cfg, *rec, r, timeout, "Build failed")
	}
	fmt.Fprintln(l.out, "✅ Images built")

	rec.Phase = analyzer.PhaseTest
	l.metrics.Iteration(string(analyzer.PhaseTest))
	fmt.Fprintf(l.out, "🧪 Running tests (timeout %s)...\n", *timeout)
	run, err := l.harness.Run(ctx, s.Instance, cfg, *timeout)
	if err != nil {
		return l.failed(ctx, *rec, fmt.Errorf("run collaborator: %w", err))
	}
	if !run.Completed {
		l.logger.Warn().Str("log_dir", run.LogDir).Msg("test run did not complete cleanly")
	}
	rec.LogPath = run.LogDir
	r := l.analyzer.AnalyzeLogs(run.LogDir)
	if r.OK() {
		fmt.Fprintln(l.out, "✅ Tests ran successfully")
		return step{verdict: verdictSuccess, record: *rec, line: fmt.Sprintf("Iteration %d: Success!", i)}
	}
	fmt.Fprintf(l.out, "❌ Test run failed: %s\n", r.Message)
	return l.classified(i, s, cfg, *rec, r, timeout, "Test run failed")
}

// classified turns an analyzer verdict into either a stop or an applied fix.
func (l *Loop) classified(i int, s *Session, cfg *recipe.Config, rec Iteration, r analyzer.Result, timeout *time.Duration, what string) step {
	l.metrics.Classified(string(r.Kind))
	rec.ErrorKind = r.Kind
	rec.Message = r.Message
	rec.Excerpt = r.Excerpt
	rec.Fix = r.Fix

	if r.Fix == nil {
		return step{
			verdict: verdictUnrecoverable,
			record:  rec,
			line:    fmt.Sprintf("Iteration %d: %s: %s: %s (no fix available)", i, what, r.Kind, r.Message),
		}
	}

	rec.Applied = l.applyFix(s, cfg, *r.Fix, timeout)
	outcome := "applied"
	if !rec.Applied {
		outcome = "no change"
	}
	fmt.Fprintf(l.out, "🔧 Fix %s: %s (%s)\n", outcome, r.Fix, r.Fix.Reason)
	return step{
		verdict: verdictContinue,
		record:  rec,
		line:    fmt.Sprintf("Iteration %d: %s: %s: %s; fix %s [%s]", i, what, r.Kind, r.Message, r.Fix, outcome),
	}
}

// applyFix handles the kinds that act on the loop itself and delegates the
// rest to the recipe.
func (l *Loop) applyFix(s *Session, cfg *recipe.Config, fix recipe.FixDirective, timeout *time.Duration) bool {
	defer l.metrics.FixApplied(string(fix.Kind))

	switch fix.Kind {
	case recipe.IncreaseTimeout:
		// Zero means the run is not limited.
		if *timeout <= 0 {
			return false
		}
		secs, err := strconv.Atoi(fix.Value)
		if err != nil {
			l.logger.Warn().Str("value", fix.Value).Msg("ignoring malformed timeout directive")
			return false
		}
		*timeout = max(2 * *timeout, time.Duration(secs)*time.Second)
		return true
	case recipe.Retry:
		return false
	case recipe.ChangeVersion:
		if fix.Field == recipe.FieldNodeVersion && s.Descriptor.RuntimeVersionSource == descriptor.SourceExplicitFile {
			l.logger.Warn().
				Str("pinned", s.Descriptor.RuntimeVersion).
				Str("new", fix.Value).
				Msg("overriding runtime version pinned by the repository")
		}
	}
	return cfg.Apply(fix)
}

func (l *Loop) failed(ctx context.Context, rec Iteration, err error) step {
	if ctx.Err() != nil {
		return step{
			verdict: verdictInterrupted,
			record:  rec,
			line:    fmt.Sprintf("Iteration %d: interrupted", rec.Number),
			err:     ctx.Err(),
		}
	}
	l.logger.Error().Err(err).Int("iteration", rec.Number).Msg("collaborator error")
	rec.Message = err.Error()
	return step{
		verdict: verdictError,
		record:  rec,
		line:    fmt.Sprintf("Iteration %d: %v", rec.Number, err),
		err:     err,
	}
}

func (l *Loop) snapshot(i int, cfg *recipe.Config, rec Iteration) {
	if l.opts.SnapshotDir == "" {
		return
	}
	if err := WriteIterationSnapshot(l.opts.SnapshotDir, i, cfg, rec); err != nil {
		l.logger.Warn().Err(err).Int("iteration", i).Msg("writing snapshot")
	}
}
