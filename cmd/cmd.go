package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Azure/testbed-copilot/pkg/logger"
	"github.com/Azure/testbed-copilot/pkg/pipeline"
	"github.com/Azure/testbed-copilot/pkg/settings"
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	verbose       bool
	logFile       string
	maxIterations int
	runTimeout    string
	imageTag      string
	platform      string
	workDir       string
	outputDir     string
	storePath     string
	metricsFile   string
	removeImages  bool

	settings settings.Settings
	closers  []io.Closer
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "testbed-copilot",
		Short:         "Derive and repair container build/test recipes for JavaScript repositories",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			opts.close()
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	rootCmd.SetOut(out)

	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	flags.StringVar(&opts.logFile, "log-file", "", "Also write JSON logs to this file")
	flags.IntVarP(&opts.maxIterations, "max-iterations", "n", 0, "Maximum repair iterations (default 5)")
	flags.StringVar(&opts.runTimeout, "run-timeout", "", "Timeout for one test run, as a duration or seconds (default 30m)")
	flags.StringVar(&opts.imageTag, "image-tag", "", "Tag used for the built images (default agent-test)")
	flags.StringVar(&opts.platform, "platform", "", "Docker build platform (default linux/x86_64)")
	flags.StringVar(&opts.workDir, "work-dir", "", "Directory for build contexts and container logs (default logs)")
	flags.StringVarP(&opts.outputDir, "output-dir", "o", "", "Directory for recipes and reports")
	flags.StringVar(&opts.storePath, "store", "", "Path of the session database")
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "Write prometheus metrics to this file when done")
	flags.BoolVar(&opts.removeImages, "remove-images", false, "Remove built images after each run")

	rootCmd.AddCommand(
		newAnalyzeCmd(opts),
		newGenerateCmd(opts),
		newRepairCmd(opts),
		newClassifyCmd(opts),
		newHistoryCmd(opts),
	)
	return rootCmd
}

func (o *rootOptions) setup(cmd *cobra.Command) error {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf("Ignoring unreadable .env: %v", err)
	}

	logger.SetVerbose(o.verbose)

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("error getting current directory: %w", err)
	}
	s, err := loadSettings(cmd, cwd, os.Getenv, o)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	o.settings = s

	if s.LogFile != "" {
		closer, err := logger.AddFileSink(s.LogFile)
		if err != nil {
			return err
		}
		o.closers = append(o.closers, closer)
	}
	return nil
}

func (o *rootOptions) close() {
	for _, c := range o.closers {
		c.Close()
	}
	o.closers = nil
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Stdout, os.Args[1:])
}

func run(ctx context.Context, out io.Writer, args []string) int {
	rootCmd := newRootCmd(out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			logger.Error(exitErr.err.Error())
		}
		return exitErr.code
	}
	if ctx.Err() != nil {
		logger.Error("\nWorkflow interrupted by user")
		return pipeline.ExitInterrupted
	}
	logger.Errorf("Error: %v", err)
	if isDockerUnavailable(err) {
		printDockerHelp()
	}
	return 1
}
