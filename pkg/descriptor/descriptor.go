// Package descriptor holds the read-only summary of a repository's toolchain
// that ingestion produces and recipe generation consumes.
package descriptor

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type PackageManager string

const (
	NPM  PackageManager = "npm"
	Yarn PackageManager = "yarn"
	PNPM PackageManager = "pnpm"
)

// VersionSource records where the runtime version came from. An explicit-file
// version should only be overridden when a failure calls for it.
type VersionSource string

const (
	SourceExplicitFile VersionSource = "explicit-file"
	SourceManifest     VersionSource = "manifest"
	SourceDefault      VersionSource = "default"
)

// ErrInvalid is returned for descriptors that fail validation.
var ErrInvalid = errors.New("invalid repository descriptor")

var (
	validate = validator.New()
	repoRe   = regexp.MustCompile(`^[A-Za-z0-9._-]+/[A-Za-z0-9._-]+$`)
)

func init() {
	_ = validate.RegisterValidation("repo", func(fl validator.FieldLevel) bool {
		return repoRe.MatchString(fl.Field().String())
	})
}

// Descriptor is produced once per repository revision and never mutated by
// the repair loop.
type Descriptor struct {
	Repo       string `json:"repo" yaml:"repo" validate:"required,repo"`
	BaseCommit string `json:"base_commit" yaml:"base_commit" validate:"required"`
	RepoURL    string `json:"repo_url,omitempty" yaml:"repo_url,omitempty"`
	Language   string `json:"language" yaml:"language"`

	PackageManager       PackageManager `json:"package_manager" yaml:"package_manager" validate:"required,oneof=npm yarn pnpm"`
	LockFileType         string         `json:"lock_file_type,omitempty" yaml:"lock_file_type,omitempty"`
	RuntimeVersion       string         `json:"runtime_version" yaml:"runtime_version" validate:"required"`
	RuntimeVersionSource VersionSource  `json:"runtime_version_source" yaml:"runtime_version_source" validate:"required,oneof=explicit-file manifest default"`

	InstallCommand []string `json:"install_command,omitempty" yaml:"install_command,omitempty" validate:"dive,required"`
	// BuildCommand is empty when the repository has no build script.
	BuildCommand string `json:"build_command,omitempty" yaml:"build_command,omitempty"`
	TestCommand  string `json:"test_command" yaml:"test_command" validate:"required"`

	Dependencies    map[string]string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	DevDependencies map[string]string `json:"dev_dependencies,omitempty" yaml:"dev_dependencies,omitempty"`

	SystemDeps    []string          `json:"system_deps,omitempty" yaml:"system_deps,omitempty"`
	TestFramework string            `json:"test_framework,omitempty" yaml:"test_framework,omitempty"`
	HasBuildStep  bool              `json:"has_build_step" yaml:"has_build_step"`
	HasTypeScript bool              `json:"has_typescript" yaml:"has_typescript"`
	IsMonorepo    bool              `json:"is_monorepo,omitempty" yaml:"is_monorepo,omitempty"`
	EnvVars       map[string]string `json:"env_vars,omitempty" yaml:"env_vars,omitempty"`
}

// Validate checks the fields generation depends on.
func (d *Descriptor) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: descriptor is nil", ErrInvalid)
	}
	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Owner and Name split Repo; both are empty for malformed values.
func (d *Descriptor) Owner() string {
	owner, _, _ := strings.Cut(d.Repo, "/")
	return owner
}

func (d *Descriptor) Name() string {
	_, name, _ := strings.Cut(d.Repo, "/")
	return name
}

// Load reads a descriptor saved by Save.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading descriptor: %w", err)
	}
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing descriptor %s: %w", path, err)
	}
	return &d, nil
}

func Save(path string, d *Descriptor) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshalling descriptor: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
