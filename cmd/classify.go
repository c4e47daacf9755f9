package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Azure/testbed-copilot/pkg/analyzer"
	"github.com/Azure/testbed-copilot/pkg/logger"
)

// classification is the JSON shape printed by classify.
type classification struct {
	OK        bool               `json:"ok"`
	ErrorKind analyzer.ErrorKind `json:"error_kind,omitempty"`
	Message   string             `json:"message,omitempty"`
	Fix       interface{}        `json:"suggested_fix,omitempty"`
	Source    string             `json:"source,omitempty"`
	Excerpt   string             `json:"excerpt,omitempty"`
}

func newClassifyCmd(root *rootOptions) *cobra.Command {
	var (
		phase   string
		dir     bool
		excerpt bool
	)

	cmd := &cobra.Command{
		Use:   "classify <log-path>",
		Short: "Classify a build log, test output or run log directory",
		Long: `The classify command runs the error analyzer on a single log file, or with --dir
on a run directory containing test_output.txt and run_instance.log, and prints
the diagnosis and suggested fix as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := analyzer.New(logger.With("analyzer"))
			var r analyzer.Result
			switch {
			case dir:
				r = a.AnalyzeLogs(args[0])
			case phase == string(analyzer.PhaseBuild) || phase == string(analyzer.PhaseTest):
				r = a.Analyze(args[0], analyzer.Phase(phase))
			default:
				return fmt.Errorf("--phase must be %q or %q", analyzer.PhaseBuild, analyzer.PhaseTest)
			}

			c := classification{
				OK:        r.OK(),
				ErrorKind: r.Kind,
				Message:   r.Message,
				Source:    r.Source,
			}
			if r.Fix != nil {
				c.Fix = r.Fix
			}
			if excerpt {
				c.Excerpt = r.Excerpt
			}
			data, err := json.MarshalIndent(c, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&phase, "phase", "p", string(analyzer.PhaseTest), "Phase the log belongs to: build or test")
	cmd.Flags().BoolVar(&dir, "dir", false, "Treat the argument as a run log directory")
	cmd.Flags().BoolVar(&excerpt, "excerpt", false, "Include the log excerpt in the output")
	return cmd
}
