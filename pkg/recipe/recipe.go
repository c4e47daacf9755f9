// Package recipe is the mutable build/test configuration that the repair loop
// converges on.
package recipe

import (
	"fmt"
	"slices"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/Azure/testbed-copilot/pkg/depmap"
	"github.com/Azure/testbed-copilot/pkg/descriptor"
)

// Keys of Config.DockerSpecs.
const (
	SpecNodeVersion = "node_version"
	SpecPnpmVersion = "pnpm_version"
	SpecVariant     = "_variant"
)

// Config is the recipe under repair. The loop owns it for a session and
// changes it only through Apply.
type Config struct {
	Repo           string                    `json:"repo"`
	Version        string                    `json:"version"`
	PackageManager descriptor.PackageManager `json:"package_manager"`
	Install        []string                  `json:"install"`
	TestCmd        string                    `json:"test_cmd"`
	// Build is nil when the repository has no build step. A non-nil empty
	// slice is a build step with no commands yet.
	Build       []string          `json:"build"`
	DockerSpecs map[string]string `json:"docker_specs"`
	AptPkgs     []string          `json:"apt_pkgs"`
	EnvVars     map[string]string `json:"env_vars"`
}

// Apply mutates c according to d and reports whether anything changed.
// Unknown kinds and kinds handled by the loop itself leave c untouched.
func (c *Config) Apply(d FixDirective) bool {
	switch d.Kind {
	case AddAptPackage:
		if d.Value == "" || slices.Contains(c.AptPkgs, d.Value) {
			return false
		}
		c.AptPkgs = append(c.AptPkgs, d.Value)
		return true
	case RemoveAptPackage:
		i := slices.Index(c.AptPkgs, d.Value)
		if i < 0 {
			return false
		}
		c.AptPkgs = slices.Delete(c.AptPkgs, i, i+1)
		return true
	case ChangeVersion:
		if d.Field == "" {
			return false
		}
		if c.DockerSpecs == nil {
			c.DockerSpecs = map[string]string{}
		}
		if cur, ok := c.DockerSpecs[d.Field]; ok && cur == d.Value {
			return false
		}
		c.DockerSpecs[d.Field] = d.Value
		return true
	case AddCommand:
		switch d.Field {
		case FieldInstall:
			if d.Value == "" || slices.Contains(c.Install, d.Value) {
				return false
			}
			c.Install = append(c.Install, d.Value)
			return true
		case FieldBuild:
			if d.Value == "" || slices.Contains(c.Build, d.Value) {
				return false
			}
			c.Build = append(c.Build, d.Value)
			return true
		}
		return false
	case ModifyTestCmd:
		if d.Value == "" || c.TestCmd == d.Value {
			return false
		}
		c.TestCmd = d.Value
		return true
	case AddNpmFlag:
		return c.addInstallFlag(d.Value)
	case Retry, IncreaseTimeout:
		return false
	}
	return false
}

func (c *Config) addInstallFlag(flag string) bool {
	if flag == "" {
		return false
	}
	invocation := depmap.InstallInvocation(c.PackageManager)
	changed := false
	for i, cmd := range c.Install {
		if !strings.Contains(cmd, invocation) || slices.Contains(strings.Fields(cmd), flag) {
			continue
		}
		c.Install[i] = cmd + " " + flag
		changed = true
	}
	return changed
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Install = slices.Clone(c.Install)
	if c.Build != nil {
		out.Build = slices.Clone(c.Build)
	}
	out.AptPkgs = slices.Clone(c.AptPkgs)
	out.DockerSpecs = cloneMap(c.DockerSpecs)
	out.EnvVars = cloneMap(c.EnvVars)
	return &out
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ConstantsEntry is the persisted form of a Config consumed by the evaluation
// harness. Optional fields are omitted when unset.
type ConstantsEntry struct {
	Install     []string          `json:"install"`
	TestCmd     string            `json:"test_cmd"`
	Build       []string          `json:"build,omitempty"`
	DockerSpecs map[string]string `json:"docker_specs"`
	AptPkgs     []string          `json:"apt-pkgs,omitempty"`
	EnvVars     map[string]string `json:"env_vars,omitempty"`
}

func (c *Config) ConstantsEntry() ConstantsEntry {
	specs := cloneMap(c.DockerSpecs)
	if specs == nil {
		specs = map[string]string{}
	}
	entry := ConstantsEntry{
		Install:     slices.Clone(c.Install),
		TestCmd:     c.TestCmd,
		DockerSpecs: specs,
	}
	if len(c.Build) > 0 {
		entry.Build = slices.Clone(c.Build)
	}
	if len(c.AptPkgs) > 0 {
		entry.AptPkgs = slices.Clone(c.AptPkgs)
	}
	if len(c.EnvVars) > 0 {
		entry.EnvVars = cloneMap(c.EnvVars)
	}
	return entry
}

// MarshalEntryYAML renders the constants entry keyed by version, the layout
// the harness expects for one repository.
func (c *Config) MarshalEntryYAML() ([]byte, error) {
	return yaml.Marshal(map[string]ConstantsEntry{c.Version: c.ConstantsEntry()})
}

// UnmarshalEntryYAML is the inverse of MarshalEntryYAML for a single version.
func UnmarshalEntryYAML(data []byte) (string, ConstantsEntry, error) {
	var doc map[string]ConstantsEntry
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", ConstantsEntry{}, err
	}
	if len(doc) != 1 {
		return "", ConstantsEntry{}, fmt.Errorf("expected one version entry, found %d", len(doc))
	}
	for version, entry := range doc {
		return version, entry, nil
	}
	return "", ConstantsEntry{}, nil
}
