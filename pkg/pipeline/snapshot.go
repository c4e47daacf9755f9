package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Azure/testbed-copilot/pkg/recipe"
)

const SnapshotDirName = ".testbed-copilot-snapshots"

// WriteIterationSnapshot records the recipe that iteration i built and what
// the analyzer made of it.
func WriteIterationSnapshot(targetDir string, i int, cfg *recipe.Config, rec Iteration) error {
	snapDir := filepath.Join(targetDir, SnapshotDirName, fmt.Sprintf("iteration_%d", i))
	if err := os.MkdirAll(snapDir, 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	meta := map[string]interface{}{
		"iteration":     i,
		"phase":         rec.Phase,
		"error_kind":    rec.ErrorKind,
		"message":       rec.Message,
		"fix":           rec.Fix,
		"applied":       rec.Applied,
		"artifact_path": rec.ArtifactPath,
		"log_path":      rec.LogPath,
	}

	metaJson, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling metadata to JSON: %w", err)
	}
	if err := os.WriteFile(filepath.Join(snapDir, "metadata.json"), metaJson, 0644); err != nil {
		return fmt.Errorf("writing metadata.json: %w", err)
	}

	if cfg != nil {
		data, err := cfg.MarshalEntryYAML()
		if err != nil {
			return fmt.Errorf("marshaling recipe snapshot: %w", err)
		}
		if err := os.WriteFile(filepath.Join(snapDir, "recipe.yaml"), data, 0644); err != nil {
			return fmt.Errorf("writing recipe snapshot: %w", err)
		}
	}

	if rec.Excerpt != "" {
		if err := os.WriteFile(filepath.Join(snapDir, "log_excerpt.txt"), []byte(rec.Excerpt), 0644); err != nil {
			return fmt.Errorf("writing log excerpt: %w", err)
		}
	}
	return nil
}
