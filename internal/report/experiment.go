package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"brandforge/internal/experiment"
)

// WriteExperiment persists the experiment summary under
// <dir>/experiments/<parentJobId>-<timestamp>.json. Experiments are
// timestamped rather than overwritten: reruns of the same parent job are
// usually compared against each other.
func (w *Writer) WriteExperiment(sum *experiment.Summary) (string, error) {
	dir := filepath.Join(w.dir, "experiments")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("report dir: %w", err)
	}

	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}
	name := fmt.Sprintf("%s-%s.json", sum.ParentJobID, sum.StartedAt.UTC().Format("20060102-150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}

	w.log.Infow("experiment summary written",
		"parentJobId", sum.ParentJobID, "winner", sum.WinnerJobID, "path", path)
	return path, nil
}
