// Package generator derives the initial recipe from a repository descriptor.
package generator

import (
	"fmt"
	"slices"

	"github.com/Azure/testbed-copilot/pkg/depmap"
	"github.com/Azure/testbed-copilot/pkg/descriptor"
	"github.com/Azure/testbed-copilot/pkg/recipe"
)

const (
	// Variant selects the modern JavaScript base image.
	Variant = "js_2"
	// PnpmVersion is pinned when the repository uses pnpm.
	PnpmVersion = "9.5.0"
)

// Generate is deterministic: the same descriptor and version always produce
// an equal Config. The descriptor is not modified.
func Generate(d *descriptor.Descriptor, version string) (*recipe.Config, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if version == "" {
		return nil, fmt.Errorf("%w: version is empty", descriptor.ErrInvalid)
	}

	cfg := &recipe.Config{
		Repo:           d.Repo,
		Version:        version,
		PackageManager: d.PackageManager,
		Install:        installCommands(d),
		TestCmd:        d.TestCommand,
		Build:          buildCommands(d),
		DockerSpecs:    dockerSpecs(d),
		AptPkgs:        slices.Clone(d.SystemDeps),
		EnvVars:        map[string]string{},
	}
	if cfg.AptPkgs == nil {
		cfg.AptPkgs = []string{}
	}
	for k, v := range d.EnvVars {
		cfg.EnvVars[k] = v
	}
	return cfg, nil
}

func installCommands(d *descriptor.Descriptor) []string {
	if len(d.InstallCommand) > 0 {
		return slices.Clone(d.InstallCommand)
	}
	return depmap.InstallCommand(d.PackageManager)
}

func buildCommands(d *descriptor.Descriptor) []string {
	if !d.HasBuildStep || d.BuildCommand == "" {
		return nil
	}
	return []string{d.BuildCommand}
}

func dockerSpecs(d *descriptor.Descriptor) map[string]string {
	specs := map[string]string{
		recipe.SpecNodeVersion: d.RuntimeVersion,
		recipe.SpecVariant:     Variant,
	}
	if d.PackageManager == descriptor.PNPM {
		specs[recipe.SpecPnpmVersion] = PnpmVersion
	}
	return specs
}
