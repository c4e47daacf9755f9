// Package settings loads .testbed-copilot/settings.yaml and applies TESTBED_*
// environment overrides on top of built-in defaults.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Azure/testbed-copilot/pkg/artifact"
)

const (
	Dir      = ".testbed-copilot"
	FileName = "settings.yaml"
)

type Settings struct {
	MaxIterations int           `yaml:"max_iterations"`
	RunTimeout    time.Duration `yaml:"run_timeout"`
	ImageTag      string        `yaml:"image_tag"`
	Platform      string        `yaml:"platform"`
	// WorkDir receives build contexts and container logs.
	WorkDir   string `yaml:"work_dir"`
	OutputDir string `yaml:"output_dir"`
	LogFile   string `yaml:"log_file"`
	StorePath string `yaml:"store_path"`
	// MetricsFile is written in prometheus text format when set.
	MetricsFile  string            `yaml:"metrics_file"`
	RemoveImages bool              `yaml:"remove_images"`
	Artifact     artifact.S3Config `yaml:"artifact"`
}

func Defaults() Settings {
	return Settings{
		MaxIterations: 5,
		RunTimeout:    30 * time.Minute,
		ImageTag:      "agent-test",
		Platform:      "linux/x86_64",
		WorkDir:       "logs",
		OutputDir:     filepath.Join(Dir, "output"),
		StorePath:     filepath.Join(Dir, "sessions.db"),
	}
}

// Load reads <root>/.testbed-copilot/settings.yaml.
// Returns nil (not an error) if the file does not exist.
func Load(root string) (*Settings, error) {
	path := filepath.Join(root, Dir, FileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return &s, nil
}

// Resolve layers defaults, the settings file under root and the environment.
// Command line flags are applied by the caller afterwards.
func Resolve(root string, getenv func(string) string) (Settings, error) {
	s := Defaults()
	file, err := Load(root)
	if err != nil {
		return s, err
	}
	s.merge(file)
	if err := s.applyEnv(getenv); err != nil {
		return s, err
	}
	return s, s.Validate()
}

func (s *Settings) Validate() error {
	if s.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", s.MaxIterations)
	}
	if s.RunTimeout < 0 {
		return fmt.Errorf("run_timeout must not be negative")
	}
	return nil
}

// merge copies the non-zero fields of o.
func (s *Settings) merge(o *Settings) {
	if o == nil {
		return
	}
	if o.MaxIterations != 0 {
		s.MaxIterations = o.MaxIterations
	}
	if o.RunTimeout != 0 {
		s.RunTimeout = o.RunTimeout
	}
	setString(&s.ImageTag, o.ImageTag)
	setString(&s.Platform, o.Platform)
	setString(&s.WorkDir, o.WorkDir)
	setString(&s.OutputDir, o.OutputDir)
	setString(&s.LogFile, o.LogFile)
	setString(&s.StorePath, o.StorePath)
	setString(&s.MetricsFile, o.MetricsFile)
	if o.RemoveImages {
		s.RemoveImages = true
	}
	setString(&s.Artifact.Endpoint, o.Artifact.Endpoint)
	setString(&s.Artifact.Region, o.Artifact.Region)
	setString(&s.Artifact.AccessKey, o.Artifact.AccessKey)
	setString(&s.Artifact.SecretKey, o.Artifact.SecretKey)
	setString(&s.Artifact.Bucket, o.Artifact.Bucket)
	setString(&s.Artifact.Prefix, o.Artifact.Prefix)
	if o.Artifact.UseSSL {
		s.Artifact.UseSSL = true
	}
}

func (s *Settings) applyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv("TESTBED_MAX_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TESTBED_MAX_ITERATIONS: %w", err)
		}
		s.MaxIterations = n
	}
	if v := getenv("TESTBED_RUN_TIMEOUT"); v != "" {
		d, err := ParseTimeout(v)
		if err != nil {
			return fmt.Errorf("TESTBED_RUN_TIMEOUT: %w", err)
		}
		s.RunTimeout = d
	}
	setString(&s.ImageTag, getenv("TESTBED_IMAGE_TAG"))
	setString(&s.Platform, getenv("TESTBED_PLATFORM"))
	setString(&s.WorkDir, getenv("TESTBED_WORK_DIR"))
	setString(&s.OutputDir, getenv("TESTBED_OUTPUT_DIR"))
	setString(&s.LogFile, getenv("TESTBED_LOG_FILE"))
	setString(&s.StorePath, getenv("TESTBED_STORE_PATH"))
	setString(&s.MetricsFile, getenv("TESTBED_METRICS_FILE"))
	if v := getenv("TESTBED_REMOVE_IMAGES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TESTBED_REMOVE_IMAGES: %w", err)
		}
		s.RemoveImages = b
	}
	setString(&s.Artifact.Endpoint, getenv("TESTBED_S3_ENDPOINT"))
	setString(&s.Artifact.Region, getenv("TESTBED_S3_REGION"))
	setString(&s.Artifact.AccessKey, getenv("TESTBED_S3_ACCESS_KEY"))
	setString(&s.Artifact.SecretKey, getenv("TESTBED_S3_SECRET_KEY"))
	setString(&s.Artifact.Bucket, getenv("TESTBED_S3_BUCKET"))
	setString(&s.Artifact.Prefix, getenv("TESTBED_S3_PREFIX"))
	if v := getenv("TESTBED_S3_USE_SSL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TESTBED_S3_USE_SSL: %w", err)
		}
		s.Artifact.UseSSL = b
	}
	return nil
}

// ParseTimeout accepts a Go duration or a bare number of seconds.
func ParseTimeout(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
