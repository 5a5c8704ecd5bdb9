package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"brandforge/internal/a11y"
	"brandforge/internal/job"
	"brandforge/internal/scorecard"
)

// AccessibilityProvider is what L5 needs from a remediation backend;
// satisfied by every internal/a11y provider.
type AccessibilityProvider interface {
	Name() string
	Remediate(ctx context.Context, pdfPath, standard, outputPath string) (*a11y.Result, error)
}

// Accessibility is L5: conformance scoring and remediation against a PDF
// accessibility standard. Unlike the vision layer, a remediation failure
// gates the run; shipping an unchecked document is not tolerated.
type Accessibility struct {
	Provider AccessibilityProvider
}

func (*Accessibility) ID() string   { return IDAccessibility }
func (*Accessibility) Name() string { return job.LayerAccessibility }

func (l *Accessibility) Run(ctx context.Context, t *Target, cfg Settings) (*scorecard.LayerResult, error) {
	if l.Provider == nil {
		return nil, &ConfigurationError{Layer: job.LayerAccessibility, Err: errors.New("no accessibility provider configured")}
	}
	r := newResult(l.ID(), l.Name(), cfg)

	standard := optString(cfg.Options, "standard", a11y.DefaultStandard)
	outputPath := strings.TrimSuffix(t.Artifact.Path, ".pdf") + "-remediated.pdf"

	result, err := l.Provider.Remediate(ctx, t.Artifact.Path, standard, outputPath)
	if err != nil {
		r.LayerErr = err.Error()
		r.Findings = append(r.Findings, scorecard.Finding{
			Severity: scorecard.SeverityCritical,
			Category: "accessibility",
			Message:  fmt.Sprintf("%s remediation failed: %v", l.Provider.Name(), err),
		})
		return r, nil
	}

	r.Score = round2(result.Score)
	r.DryRun = result.DryRun
	for _, issue := range result.Issues {
		r.Findings = append(r.Findings, scorecard.Finding{
			Severity: scorecard.SeverityWarning,
			Category: "accessibility",
			Message:  issue,
		})
	}
	if result.RemediatedPath != "" {
		r.Artifacts = append(r.Artifacts, result.RemediatedPath)
		r.Findings = append(r.Findings, scorecard.Finding{
			Severity: scorecard.SeverityInfo,
			Category: "accessibility",
			Message:  fmt.Sprintf("remediated copy written for %s conformance", result.Standard),
		})
	}
	return finish(r), nil
}
