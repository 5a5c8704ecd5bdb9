package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"brandforge/internal/job"
	"brandforge/internal/pdftool"
	"brandforge/internal/scorecard"
	"brandforge/internal/vision"
)

// maxCritiquePages caps how many page images go to the vision model.
const maxCritiquePages = 8

// VisionProvider is what L4 needs from a critique backend; satisfied by
// every internal/vision provider.
type VisionProvider interface {
	Name() string
	Critique(ctx context.Context, imagePaths []string, rubric string) (*vision.Critique, error)
}

// AIVision is L4: a vision model scores rendered pages against a design
// rubric. Provider failures degrade the layer instead of aborting the run;
// qa.failOnAiError upgrades them to gate failures.
type AIVision struct {
	Provider VisionProvider
}

func (*AIVision) ID() string   { return IDAIVision }
func (*AIVision) Name() string { return job.LayerAIVision }

func (l *AIVision) Run(ctx context.Context, t *Target, cfg Settings) (*scorecard.LayerResult, error) {
	if l.Provider == nil {
		return nil, &ConfigurationError{Layer: job.LayerAIVision, Err: errors.New("no vision provider configured")}
	}
	r := newResult(l.ID(), l.Name(), cfg)

	pages, err := t.Raster.Pages(ctx, t.Artifact.Path, t.Artifact.PageCount, pdftool.ScreenDPI)
	if err != nil {
		return nil, fmt.Errorf("vision rasterization: %w", err)
	}
	if len(pages) > maxCritiquePages {
		pages = pages[:maxCritiquePages]
	}

	critique, err := l.Provider.Critique(ctx, pages, l.rubric(t.Job, cfg))
	if err != nil {
		r.LayerErr = err.Error()
		severity := scorecard.SeverityWarning
		if t.Job.QA.FailOnAiError {
			severity = scorecard.SeverityCritical
		}
		r.Findings = append(r.Findings, scorecard.Finding{
			Severity: severity,
			Category: "ai_provider",
			Message:  fmt.Sprintf("%s critique failed: %v", l.Provider.Name(), err),
		})
		r.Passed = false
		return r, nil
	}

	r.Score = round2(critique.Score)
	r.DryRun = critique.DryRun
	for _, f := range critique.Findings {
		r.Findings = append(r.Findings, scorecard.Finding{
			Severity: scorecard.SeverityWarning,
			Category: "design",
			Message:  f,
		})
	}
	for i, note := range critique.PageNotes {
		if note == "" {
			continue
		}
		r.Findings = append(r.Findings, scorecard.Finding{
			Severity: scorecard.SeverityInfo,
			Category: "design",
			Message:  note,
			Page:     i + 1,
		})
	}
	return finish(r), nil
}

// rubric assembles the critique prompt from the job's identity and intent.
func (l *AIVision) rubric(j *job.Job, cfg Settings) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Critique these document pages as a senior brand designer. Export intent: %s.", j.EffectiveIntent())
	if org := j.ContentString("organization"); org != "" {
		fmt.Fprintf(&b, " The document represents %s.", org)
	}
	if partner := j.ContentString("partner"); partner != "" {
		fmt.Fprintf(&b, " It is co-branded with %s.", partner)
	}
	b.WriteString(" Judge layout balance, typographic hierarchy, whitespace, and brand consistency.")
	if extra := optString(cfg.Options, "rubric", ""); extra != "" {
		b.WriteString(" ")
		b.WriteString(extra)
	}
	return b.String()
}
