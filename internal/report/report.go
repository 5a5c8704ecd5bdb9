// Package report persists and presents run outcomes: the scorecard JSON
// sink, a deterministic plain-text report, the colored console summary, the
// experiment summary file, and a sqlite run history.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"brandforge/internal/logging"
	"brandforge/internal/scorecard"
)

// Writer persists per-run reports under a report directory:
//
//	<dir>/pipeline/<jobId>-scorecard.json
//	<dir>/pipeline/<jobId>-report.txt
//	<dir>/experiments/<parentJobId>-<timestamp>.json
type Writer struct {
	dir string
	log *zap.SugaredLogger
}

// NewWriter builds a writer rooted at reportDir.
func NewWriter(reportDir string) *Writer {
	return &Writer{dir: reportDir, log: logging.Get(logging.CategoryReport)}
}

// WriteScorecard persists the scorecard as JSON plus its text rendering and
// returns the JSON path.
func (w *Writer) WriteScorecard(sc *scorecard.Scorecard) (string, error) {
	dir := filepath.Join(w.dir, "pipeline")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("report dir: %w", err)
	}

	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode scorecard: %w", err)
	}
	jsonPath := filepath.Join(dir, sc.JobID+"-scorecard.json")
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write scorecard: %w", err)
	}

	textPath := filepath.Join(dir, sc.JobID+"-report.txt")
	if err := os.WriteFile(textPath, []byte(RenderText(sc)), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	w.log.Infow("report written", "jobId", sc.JobID, "path", jsonPath)
	return jsonPath, nil
}

// RenderText renders the plain-text report. Everything in it comes from the
// scorecard, so identical scorecards render identical text.
func RenderText(sc *scorecard.Scorecard) string {
	var b strings.Builder
	fmt.Fprintf(&b, "job        %s\n", sc.JobID)
	if sc.Mode != "" {
		fmt.Fprintf(&b, "mode       %s\n", sc.Mode)
	}
	if sc.Intent != "" {
		fmt.Fprintf(&b, "intent     %s\n", sc.Intent)
	}
	if sc.Provenance.Worker != "" {
		fmt.Fprintf(&b, "worker     %s\n", sc.Provenance.Worker)
	}
	if sc.Provenance.Preset != "" {
		fmt.Fprintf(&b, "preset     %s\n", sc.Provenance.Preset)
	}
	if sc.ArtifactPath != "" {
		fmt.Fprintf(&b, "artifact   %s\n", sc.ArtifactPath)
	}
	if sc.Provenance.Digest != "" {
		fmt.Fprintf(&b, "digest     %s\n", sc.Provenance.Digest)
	}
	if !sc.StartedAt.IsZero() {
		fmt.Fprintf(&b, "started    %s\n", sc.StartedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "duration   %d ms\n\n", sc.DurationMs)

	for i := range sc.PerLayer {
		lr := &sc.PerLayer[i]
		fmt.Fprintf(&b, "%-3s %-14s %s\n", lr.LayerID, lr.Name, layerSummary(lr))
		for _, f := range lr.Findings {
			fmt.Fprintf(&b, "    [%s] %s: %s%s\n", f.Severity, f.Category, f.Message, findingRef(f))
		}
	}

	fmt.Fprintf(&b, "\noverall    %.2f/%.0f  grade %.1f  verdict %s\n",
		sc.Overall, sc.MaxOverall, sc.Grade, sc.Verdict)
	fmt.Fprintf(&b, "threshold  %.2f\n", sc.Threshold)
	if sc.OverallPassed {
		b.WriteString("gate       PASSED\n")
	} else {
		b.WriteString("gate       FAILED\n")
	}
	if sc.Message != "" {
		fmt.Fprintf(&b, "error      [%s] %s\n", sc.ErrorCategory, sc.Message)
	}
	fmt.Fprintf(&b, "exit       %d\n", sc.ExitCode)
	return b.String()
}

func layerSummary(lr *scorecard.LayerResult) string {
	if lr.Skipped {
		if lr.SkipReason != "" {
			return fmt.Sprintf("skip (%s)", lr.SkipReason)
		}
		return "skip"
	}
	verdict := "pass"
	if !lr.Passed {
		verdict = "FAIL"
	}
	s := fmt.Sprintf("%.2f/%.2f %s", lr.Score, lr.MaxScore, verdict)
	if lr.DryRun {
		s += " (dry-run)"
	}
	if lr.FirstAttemptScore != nil {
		s += fmt.Sprintf(" (first attempt %.2f)", *lr.FirstAttemptScore)
	}
	return s
}

func findingRef(f scorecard.Finding) string {
	switch {
	case f.Page > 0 && f.Locator != "":
		return fmt.Sprintf(" (page %d, %s)", f.Page, f.Locator)
	case f.Page > 0:
		return fmt.Sprintf(" (page %d)", f.Page)
	case f.Locator != "":
		return fmt.Sprintf(" (%s)", f.Locator)
	}
	return ""
}
