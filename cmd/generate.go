package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Azure/testbed-copilot/pkg/analysis"
	"github.com/Azure/testbed-copilot/pkg/artifact"
	"github.com/Azure/testbed-copilot/pkg/depmap"
	"github.com/Azure/testbed-copilot/pkg/descriptor"
	"github.com/Azure/testbed-copilot/pkg/generator"
	"github.com/Azure/testbed-copilot/pkg/logger"
	"github.com/Azure/testbed-copilot/runner"
)

const defaultVersion = "latest"

// describe produces the descriptor either from a saved file or by analyzing
// the repository.
func describe(ctx context.Context, args []string, r *repoOptions, descriptorFile string, cmdRunner runner.CommandRunner) (*descriptor.Descriptor, error) {
	if descriptorFile != "" {
		logger.Debugf("Loading descriptor from %s", descriptorFile)
		return descriptor.Load(descriptorFile)
	}
	p := startProgress("Fetching repository...")
	root, err := resolveRepoPath(ctx, args, r, cmdRunner)
	p.Stop()
	if err != nil {
		return nil, err
	}

	p = startProgress("Analyzing repository...")
	report, err := analysis.NewAnalyzer(cmdRunner, depmap.NewMapper(), logger.With("analysis")).Analyze(ctx, root, r.analysisOptions())
	p.Stop()
	if err != nil {
		return nil, fmt.Errorf("analyzing repository: %w", err)
	}
	return report.Descriptor, nil
}

func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	r := &repoOptions{}
	var out string

	cmd := &cobra.Command{
		Use:   "analyze [repo-path]",
		Short: "Analyze a repository and print its descriptor",
		Long:  `The analyze command reads package.json, lock files, .nvmrc and tsconfig.json of a checked-out repository and prints the resulting descriptor as YAML.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := describe(cmd.Context(), args, r, "", &runner.DefaultCommandRunner{})
			if err != nil {
				return err
			}
			if out != "" {
				if err := descriptor.Save(out, d); err != nil {
					return err
				}
				logger.Infof("Descriptor written to %s", out)
			}
			data, err := yaml.Marshal(d)
			if err != nil {
				return fmt.Errorf("marshalling descriptor: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	r.addFlags(cmd)
	cmd.Flags().StringVar(&out, "out", "", "Also save the descriptor to this file")
	return cmd
}

func newGenerateCmd(root *rootOptions) *cobra.Command {
	r := &repoOptions{}
	var (
		descriptorFile string
		version        string
		write          bool
	)

	cmd := &cobra.Command{
		Use:   "generate [repo-path]",
		Short: "Generate the initial recipe without building it",
		Long:  `The generate command derives the initial build/test recipe from the repository descriptor and prints it as a constants entry.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := describe(cmd.Context(), args, r, descriptorFile, &runner.DefaultCommandRunner{})
			if err != nil {
				return err
			}
			cfg, err := generator.Generate(d, version)
			if err != nil {
				return fmt.Errorf("generating recipe: %w", err)
			}
			if write {
				loc, err := artifact.NewLocalStore(filepath.Join(root.settings.OutputDir, "recipes")).WriteConfig(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				logger.Infof("Recipe written to %s", loc)
			}
			data, err := cfg.MarshalEntryYAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	r.addFlags(cmd)
	cmd.Flags().StringVar(&descriptorFile, "descriptor", "", "Use a saved descriptor instead of analyzing a repository")
	cmd.Flags().StringVar(&version, "version", defaultVersion, "Version string of the recipe")
	cmd.Flags().BoolVar(&write, "write", false, "Also write the recipe under the output directory")
	return cmd
}
