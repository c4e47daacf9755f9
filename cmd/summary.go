package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/Azure/testbed-copilot/pkg/descriptor"
	"github.com/Azure/testbed-copilot/pkg/pipeline"
)

var separator = strings.Repeat("=", 70)

// printSummary prints the end-of-run overview: analysis, generation and
// validation sections followed by the final status.
func printSummary(out io.Writer, d *descriptor.Descriptor, res *pipeline.Result, maxIterations int, reportDir string) {
	fmt.Fprintf(out, "\n%s\n", separator)
	fmt.Fprintln(out, "WORKFLOW SUMMARY")
	fmt.Fprintln(out, separator)

	fmt.Fprintf(out, "\nRepository: %s\n", res.Repo)
	fmt.Fprintf(out, "Workflow ID: %s\n", res.WorkflowID)
	fmt.Fprintf(out, "Timestamp: %s\n", res.StartedAt.Format("2006-01-02T15:04:05Z07:00"))

	fmt.Fprintln(out, "\n--- Repository Analysis ---")
	if d != nil {
		fmt.Fprintln(out, "✓ Complete")
		fmt.Fprintf(out, "  Language: %s\n", d.Language)
		fmt.Fprintf(out, "  Package Manager: %s\n", d.PackageManager)
		fmt.Fprintf(out, "  Node Version: %s (%s)\n", d.RuntimeVersion, d.RuntimeVersionSource)
		fmt.Fprintf(out, "  Test Framework: %s\n", valueOr(d.TestFramework, "none detected"))
		fmt.Fprintf(out, "  System Deps: %d packages\n", len(d.SystemDeps))
	} else {
		fmt.Fprintln(out, "✗ Failed or incomplete")
	}

	fmt.Fprintln(out, "\n--- Configuration Generation ---")
	if cfg := res.Config; cfg != nil {
		fmt.Fprintln(out, "✓ Complete")
		fmt.Fprintf(out, "  Version: %s\n", cfg.Version)
		fmt.Fprintf(out, "  Install Commands: %d\n", len(cfg.Install))
		fmt.Fprintf(out, "  Test Command: %s\n", cfg.TestCmd)
		fmt.Fprintf(out, "  Build Commands: %d\n", len(cfg.Build))
		fmt.Fprintf(out, "  APT Packages: %d\n", len(cfg.AptPkgs))
	} else {
		fmt.Fprintln(out, "✗ Failed or incomplete")
	}

	fmt.Fprintln(out, "\n--- Docker Validation ---")
	switch {
	case res.Iterations == 0:
		fmt.Fprintln(out, "✗ Not started or incomplete")
	case res.Status == pipeline.StatusSuccess:
		fmt.Fprintln(out, "✓ Success")
		fmt.Fprintf(out, "  Iterations: %d/%d\n", res.Iterations, maxIterations)
		fmt.Fprintf(out, "  Test Instance: %s\n", res.InstanceID)
	default:
		fmt.Fprintln(out, "✗ Failed")
		fmt.Fprintf(out, "  Iterations: %d/%d\n", res.Iterations, maxIterations)
		fmt.Fprintln(out, "  Validation Logs:")
		for _, line := range res.Log {
			fmt.Fprintf(out, "    %s\n", line)
		}
	}

	if res.Status != pipeline.StatusSuccess && res.Message != "" {
		fmt.Fprintln(out, "\n--- Errors ---")
		fmt.Fprintf(out, "Status: %s\n", res.Status)
		fmt.Fprintf(out, "Message: %s\n", res.Message)
	}

	fmt.Fprintf(out, "\n%s\n", separator)
	switch res.Status {
	case pipeline.StatusSuccess:
		fmt.Fprintln(out, "STATUS: ✓ SUCCESS")
	case pipeline.StatusError, pipeline.StatusPreconditionError:
		fmt.Fprintf(out, "STATUS: ✗ ERROR (%s)\n", res.Status)
	default:
		fmt.Fprintf(out, "STATUS: ✗ FAILED (%s)\n", res.Status)
	}
	if reportDir != "" {
		fmt.Fprintf(out, "\nReport saved to: %s\n", reportDir)
	}
	fmt.Fprintf(out, "%s\n\n", separator)
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
