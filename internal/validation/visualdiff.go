package validation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"brandforge/internal/job"
	"brandforge/internal/pdftool"
	"brandforge/internal/scorecard"
)

// defaultMaxDiffPercent is the per-page pixel difference a baseline
// comparison tolerates before it counts as a regression.
const defaultMaxDiffPercent = 5.0

// VisualDiff is L3: per-page raster comparison against a stored baseline.
// Jobs without a baseline id, or with a baseline directory that does not
// exist yet, skip benignly so first runs can seed baselines.
type VisualDiff struct{}

func (*VisualDiff) ID() string   { return IDVisual }
func (*VisualDiff) Name() string { return job.LayerVisual }

func (l *VisualDiff) Run(ctx context.Context, t *Target, cfg Settings) (*scorecard.LayerResult, error) {
	r := newResult(l.ID(), l.Name(), cfg)

	baselineDir, ok := l.baselineDir(t)
	if !ok {
		r.BenignSkip(scorecard.SkipNoBaseline)
		return r, nil
	}

	dpi := pdftool.IntentDPI(string(t.Job.EffectiveIntent()))
	pages, err := t.Raster.Pages(ctx, t.Artifact.Path, t.Artifact.PageCount, dpi)
	if err != nil {
		return nil, fmt.Errorf("visual rasterization: %w", err)
	}

	maxAllowed := optFloat(cfg.Options, "maxDiffPercent", defaultMaxDiffPercent)
	maxDiff := 0.0
	for i, page := range pages {
		diff, err := l.comparePage(baselineDir, page, i+1, r)
		if err != nil {
			return nil, err
		}
		if diff > maxDiff {
			maxDiff = diff
		}
		if diff > maxAllowed {
			r.Findings = append(r.Findings, scorecard.Finding{
				Severity: scorecard.SeverityCritical,
				Category: "visual",
				Message:  fmt.Sprintf("page differs from baseline by %.2f%% (limit %.2f%%)", diff, maxAllowed),
				Page:     i + 1,
			})
		}
	}

	if extra := l.extraBaselinePages(baselineDir, len(pages)); extra > 0 {
		maxDiff = 100
		r.Findings = append(r.Findings, scorecard.Finding{
			Severity: scorecard.SeverityCritical,
			Category: "visual",
			Message:  fmt.Sprintf("baseline has %d more pages than the artifact", extra),
		})
	}

	r.Score = round2(1 - maxDiff/100)
	if r.Score < 0 {
		r.Score = 0
	}
	r.SubScores = []scorecard.SubScore{
		{Name: "max_diff_percent", Score: round2(maxDiff), Max: 100},
	}
	return finish(r), nil
}

func (l *VisualDiff) baselineDir(t *Target) (string, bool) {
	id := t.Job.QA.VisualBaseline
	if id == "" {
		return "", false
	}
	dir := filepath.Join(t.ReportDir, "baselines", id)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", false
	}
	return dir, true
}

// comparePage diffs one rendered page against its baseline image. A page
// missing from the baseline is a full-page difference.
func (l *VisualDiff) comparePage(baselineDir, pagePath string, page int, r *scorecard.LayerResult) (float64, error) {
	baseline := filepath.Join(baselineDir, fmt.Sprintf("page-%d.png", page))
	if _, err := os.Stat(baseline); err != nil {
		r.Findings = append(r.Findings, scorecard.Finding{
			Severity: scorecard.SeverityCritical,
			Category: "visual",
			Message:  "page has no baseline image",
			Page:     page,
		})
		return 100, nil
	}

	diff, err := pdftool.PixelDiff(baseline, pagePath)
	if err != nil {
		return 0, fmt.Errorf("visual diff page %d: %w", page, err)
	}
	return diff.PercentDiff, nil
}

func (l *VisualDiff) extraBaselinePages(baselineDir string, artifactPages int) int {
	extra := 0
	for page := artifactPages + 1; ; page++ {
		if _, err := os.Stat(filepath.Join(baselineDir, fmt.Sprintf("page-%d.png", page))); err != nil {
			break
		}
		extra++
	}
	return extra
}
