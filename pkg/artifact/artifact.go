// Package artifact persists recipes for the evaluation harness.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Azure/testbed-copilot/pkg/recipe"
)

// Writer stores the current recipe and returns where it went.
type Writer interface {
	WriteConfig(ctx context.Context, cfg *recipe.Config) (string, error)
}

// RelPath is <owner>__<repo>/<version>.<ext>.
func RelPath(cfg *recipe.Config, ext string) string {
	return path.Join(strings.ReplaceAll(cfg.Repo, "/", "__"), cfg.Version+"."+ext)
}

// LocalStore writes the constants entry as YAML and the full recipe as JSON.
type LocalStore struct {
	Dir string
}

var _ Writer = &LocalStore{}

func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{Dir: dir}
}

func (s *LocalStore) WriteConfig(_ context.Context, cfg *recipe.Config) (string, error) {
	if cfg.Repo == "" || cfg.Version == "" {
		return "", fmt.Errorf("recipe needs repo and version to be stored")
	}
	yamlPath := filepath.Join(s.Dir, filepath.FromSlash(RelPath(cfg, "yaml")))
	if err := os.MkdirAll(filepath.Dir(yamlPath), 0755); err != nil {
		return "", fmt.Errorf("creating artifact dir: %w", err)
	}

	entry, err := cfg.MarshalEntryYAML()
	if err != nil {
		return "", fmt.Errorf("marshalling recipe: %w", err)
	}
	if err := os.WriteFile(yamlPath, entry, 0644); err != nil {
		return "", fmt.Errorf("writing %s: %w", yamlPath, err)
	}

	full, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshalling recipe json: %w", err)
	}
	jsonPath := filepath.Join(s.Dir, filepath.FromSlash(RelPath(cfg, "json")))
	if err := os.WriteFile(jsonPath, full, 0644); err != nil {
		return "", fmt.Errorf("writing %s: %w", jsonPath, err)
	}
	return yamlPath, nil
}

// MultiWriter writes to every writer in order and stops at the first error.
// The location of the first writer is returned.
type MultiWriter []Writer

func (m MultiWriter) WriteConfig(ctx context.Context, cfg *recipe.Config) (string, error) {
	var first string
	for i, w := range m {
		loc, err := w.WriteConfig(ctx, cfg)
		if err != nil {
			return "", err
		}
		if i == 0 {
			first = loc
		}
	}
	return first, nil
}
