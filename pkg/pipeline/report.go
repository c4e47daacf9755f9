package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Azure/testbed-copilot/pkg/logger"
	"github.com/Azure/testbed-copilot/pkg/recipe"
)

const RunReportFileName = "run_report.json"

const ReportMarkdownFileName = "report.md"

type RunReport struct {
	WorkflowID     string                 `json:"workflow_id"`
	Repo           string                 `json:"repo"`
	Version        string                 `json:"version"`
	InstanceID     string                 `json:"instance_id"`
	Status         Status                 `json:"status"`
	IterationCount int                    `json:"iteration_count"`
	Log            []string               `json:"log"`
	History        []Iteration            `json:"history"`
	Config         *recipe.ConstantsEntry `json:"config,omitempty"`
	Message        string                 `json:"message,omitempty"`
	Error          string                 `json:"error,omitempty"`
	StartedAt      time.Time              `json:"started_at"`
	FinishedAt     time.Time              `json:"finished_at"`
}

func NewReport(res *Result) *RunReport {
	report := &RunReport{
		WorkflowID:     res.WorkflowID,
		Repo:           res.Repo,
		Version:        res.Version,
		InstanceID:     res.InstanceID,
		Status:         res.Status,
		IterationCount: res.Iterations,
		Log:            res.Log,
		History:        res.History,
		Message:        res.Message,
		Error:          res.ErrorString(),
		StartedAt:      res.StartedAt,
		FinishedAt:     res.FinishedAt,
	}
	if res.Config != nil {
		entry := res.Config.ConstantsEntry()
		report.Config = &entry
	}
	return report
}

// ReportDir is the per-session report directory under outputDir.
func ReportDir(outputDir string, res *Result) string {
	return filepath.Join(outputDir, "reports", res.WorkflowID)
}

func formatMarkdownReport(res *Result) string {
	var md strings.Builder

	md.WriteString(fmt.Sprintf("# Repair report: %s@%s\n\n", res.Repo, res.Version))
	md.WriteString(fmt.Sprintf("**Outcome:** %s\n\n", res.Status))
	md.WriteString(fmt.Sprintf("**Total Iterations:** %d\n\n", res.Iterations))
	md.WriteString(fmt.Sprintf("**Workflow:** %s\n\n", res.WorkflowID))
	if res.Message != "" {
		md.WriteString(fmt.Sprintf("**Message:** %s\n\n", res.Message))
	}
	md.WriteString(fmt.Sprintf("**Duration:** %s\n\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Second)))

	md.WriteString("## Iteration History\n\n")
	if len(res.History) == 0 {
		md.WriteString("No iterations recorded.\n")
	} else {
		md.WriteString("| Iteration | Phase | Error Kind | Fix | Applied |\n")
		md.WriteString("|-----------|-------|------------|-----|---------|\n")
		for _, it := range res.History {
			kind := string(it.ErrorKind)
			if kind == "" {
				kind = "-"
			}
			fix := "-"
			if it.Fix != nil {
				fix = it.Fix.String()
			}
			md.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %t |\n", it.Number, it.Phase, kind, strings.ReplaceAll(fix, "|", `\|`), it.Applied))
		}
	}

	md.WriteString("\n## Log\n\n")
	for _, line := range res.Log {
		md.WriteString(fmt.Sprintf("- %s\n", line))
	}

	md.WriteString("\n## Final Configuration\n\n")
	if res.Config == nil {
		md.WriteString("No configuration was attempted.\n")
	} else if data, err := res.Config.MarshalEntryYAML(); err == nil {
		md.WriteString("```yaml\n")
		md.Write(data)
		md.WriteString("```\n")
	}

	return md.String()
}

// WriteReport writes run_report.json and report.md into dir.
func WriteReport(res *Result, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Errorf("Error creating report directory %s: %v", dir, err)
		return fmt.Errorf("creating report directory: %w", err)
	}

	reportJSON, err := json.MarshalIndent(NewReport(res), "", "  ")
	if err != nil {
		logger.Warnf("Error marshalling run report: %v", err)
		return fmt.Errorf("marshalling run report: %w", err)
	}
	reportFile := filepath.Join(dir, RunReportFileName)
	logger.Debugf("Writing run report to %s", reportFile)
	if err := os.WriteFile(reportFile, reportJSON, 0644); err != nil {
		logger.Errorf("Error writing run report to file: %v", err)
		return fmt.Errorf("writing run report to file: %w", err)
	}

	reportMarkdownFile := filepath.Join(dir, ReportMarkdownFileName)
	logger.Debugf("Writing markdown report to %s", reportMarkdownFile)
	if err := os.WriteFile(reportMarkdownFile, []byte(formatMarkdownReport(res)), 0644); err != nil {
		logger.Errorf("Error writing markdown report to file: %v", err)
		return fmt.Errorf("writing markdown report to file: %w", err)
	}

	return nil
}
