// Package a11y wraps the accessibility remediation service: it grades a PDF
// against a named standard and may write a remediated copy next to the
// original. A dry-run provider stands in when the service is absent.
package a11y

import (
	"context"
	"fmt"
	"os"
)

// DefaultStandard is the compliance target when the job names none.
const DefaultStandard = "pdf-ua-1"

// Environment keys consulted by FromEnv.
const (
	EnvDryRun     = "DRY_RUN_A11Y"
	EnvServiceURL = "A11Y_SERVICE_URL"
)

// Result is the remediation outcome for one PDF.
type Result struct {
	Score          float64  `json:"score"`
	Standard       string   `json:"standard"`
	Issues         []string `json:"issues"`
	RemediatedPath string   `json:"remediatedPath,omitempty"`
	DryRun         bool     `json:"dryRun,omitempty"`
}

// Provider grades and optionally remediates a PDF.
type Provider interface {
	Name() string
	// Remediate grades pdfPath against standard; when the provider produces
	// a remediated copy it writes it to outputPath and reports it in the
	// result.
	Remediate(ctx context.Context, pdfPath, standard, outputPath string) (*Result, error)
}

// FromEnv selects a provider: DRY_RUN_A11Y=1 wins, else the HTTP service at
// A11Y_SERVICE_URL. minScore seeds the dry-run synthetic score.
func FromEnv(minScore float64) (Provider, error) {
	if os.Getenv(EnvDryRun) == "1" {
		return NewDryRun(minScore), nil
	}
	url := os.Getenv(EnvServiceURL)
	if url == "" {
		return nil, fmt.Errorf("no accessibility provider configured: set %s or %s=1", EnvServiceURL, EnvDryRun)
	}
	return NewService(url), nil
}

// DryRun produces a synthetic passing result without calling any service.
type DryRun struct {
	minScore float64
}

// NewDryRun builds the synthetic provider around the layer's minScore.
func NewDryRun(minScore float64) *DryRun {
	return &DryRun{minScore: minScore}
}

func (d *DryRun) Name() string { return "dryrun" }

func (d *DryRun) Remediate(_ context.Context, pdfPath, standard, _ string) (*Result, error) {
	if standard == "" {
		standard = DefaultStandard
	}
	score := d.minScore + 0.01
	if score > 1 {
		score = 1
	}
	return &Result{
		Score:    score,
		Standard: standard,
		Issues:   []string{"dry-run: synthetic compliance result, service not called"},
		DryRun:   true,
	}, nil
}
