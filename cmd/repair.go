package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Azure/testbed-copilot/pkg/analyzer"
	"github.com/Azure/testbed-copilot/pkg/descriptor"
	"github.com/Azure/testbed-copilot/pkg/logger"
	"github.com/Azure/testbed-copilot/pkg/pipeline"
	"github.com/Azure/testbed-copilot/pkg/store"
	"github.com/Azure/testbed-copilot/runner"
)

func newRepairCmd(root *rootOptions) *cobra.Command {
	r := &repoOptions{}
	var (
		descriptorFile string
		version        string
		snapshot       bool
	)

	cmd := &cobra.Command{
		Use:   "repair [repo-path]",
		Short: "Generate a recipe and repair it until the tests run",
		Long: `The repair command analyzes the repository, generates an initial recipe and then
builds and runs it in Docker, applying known fixes after each failure until the
test suite runs or the iteration budget is spent.

Exit status is 0 on success, 1 on any other outcome and 130 when interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s := root.settings
			out := cmd.OutOrStdout()

			d, err := describe(ctx, args, r, descriptorFile, &runner.DefaultCommandRunner{})
			if err != nil {
				return err
			}
			printHeader(out, d, version)

			c, err := initClients(ctx, s)
			if err != nil {
				return err
			}
			defer c.Close()

			var res *pipeline.Result
			session, err := pipeline.NewSession(d, version, time.Now())
			if err != nil {
				now := time.Now()
				res = &pipeline.Result{
					Repo:       d.Repo,
					Version:    version,
					Status:     pipeline.StatusPreconditionError,
					Err:        err,
					Message:    err.Error(),
					StartedAt:  now,
					FinishedAt: now,
				}
			} else {
				opts := pipeline.Options{
					MaxIterations: s.MaxIterations,
					RunTimeout:    s.RunTimeout,
				}
				if snapshot {
					opts.SnapshotDir = s.OutputDir
				}
				loop := pipeline.NewLoop(c.Harness, c.Writer, analyzer.New(logger.With("analyzer")), c.Metrics, out, opts, logger.With("pipeline"))
				res = loop.Run(ctx, session)
			}

			reportDir := finishSession(context.WithoutCancel(ctx), c, s.OutputDir, s.MetricsFile, res)
			printSummary(out, d, res, s.MaxIterations, reportDir)

			if res.Status != pipeline.StatusSuccess {
				return &exitError{code: res.Status.ExitCode()}
			}
			return nil
		},
	}
	r.addFlags(cmd)
	cmd.Flags().StringVar(&descriptorFile, "descriptor", "", "Use a saved descriptor instead of analyzing a repository")
	cmd.Flags().StringVar(&version, "version", defaultVersion, "Version string of the recipe")
	cmd.Flags().BoolVarP(&snapshot, "snapshot", "s", false, "Keep a snapshot of the recipe and diagnosis of every iteration")
	return cmd
}

// finishSession writes the report, records the session and exports metrics.
// Failures are logged; the session outcome stands regardless.
func finishSession(ctx context.Context, c *Clients, outputDir, metricsFile string, res *pipeline.Result) string {
	reportDir := ""
	if res.WorkflowID != "" {
		reportDir = pipeline.ReportDir(outputDir, res)
		if err := pipeline.WriteReport(res, reportDir); err != nil {
			logger.Warnf("Failed to write report: %v", err)
			reportDir = ""
		} else if c.S3 != nil {
			uploadReport(ctx, c, res, reportDir)
		}
	}

	if c.Store != nil && res.WorkflowID != "" {
		rec := store.Record{
			WorkflowID: res.WorkflowID,
			Repo:       res.Repo,
			Version:    res.Version,
			Status:     string(res.Status),
			Iterations: res.Iterations,
			Log:        res.Log,
			Message:    res.Message,
			Config:     res.Config,
			ReportDir:  reportDir,
			StartedAt:  res.StartedAt,
			FinishedAt: res.FinishedAt,
		}
		if err := c.Store.Save(ctx, rec); err != nil {
			logger.Warnf("Failed to save session: %v", err)
		}
	}

	if metricsFile != "" {
		if err := c.Metrics.WriteTextfile(metricsFile); err != nil {
			logger.Warnf("%v", err)
		}
	}
	return reportDir
}

func uploadReport(ctx context.Context, c *Clients, res *pipeline.Result, reportDir string) {
	for _, name := range []string{pipeline.RunReportFileName, pipeline.ReportMarkdownFileName} {
		content, err := os.ReadFile(filepath.Join(reportDir, name))
		if err != nil {
			logger.Warnf("Failed to read %s: %v", name, err)
			continue
		}
		loc, err := c.S3.UploadFile(ctx, fmt.Sprintf("reports/%s/%s", res.WorkflowID, name), content)
		if err != nil {
			logger.Warnf("Failed to upload %s: %v", name, err)
			continue
		}
		logger.Debugf("Uploaded %s", loc)
	}
}

func printHeader(out io.Writer, d *descriptor.Descriptor, version string) {
	fmt.Fprintf(out, "\n%s\n", separator)
	fmt.Fprintln(out, "testbed-copilot - Automated Docker Configuration")
	fmt.Fprintf(out, "%s\n", separator)
	fmt.Fprintf(out, "\nRepository: %s\n", d.Repo)
	fmt.Fprintf(out, "Language: %s\n", d.Language)
	fmt.Fprintf(out, "Version: %s\n", version)
	fmt.Fprintf(out, "Commit: %s\n\n", d.BaseCommit)
}
