// Package validation composes the ordered quality layers into a single
// scorecard: structural analysis, content rubric, PDF quality, visual
// regression, AI vision review and accessibility remediation. The engine
// owns fail-fast, the color auto-fix retry, aggregation and gating.
package validation

import (
	"context"
	"fmt"
	"time"

	"brandforge/internal/artifact"
	"brandforge/internal/job"
	"brandforge/internal/pdftool"
	"brandforge/internal/scorecard"
)

// Layer ids, aligned with job layer keys.
const (
	IDStructural    = "L0"
	IDContent       = "L1"
	IDPDFQuality    = "L2"
	IDVisual        = "L3"
	IDAIVision      = "L4"
	IDAccessibility = "L5"
)

// Introspector is the PDF inspection capability layers need; satisfied by
// *pdftool.Runner.
type Introspector interface {
	Info(ctx context.Context, pdfPath string) (*pdftool.DocumentStats, error)
	Fonts(ctx context.Context, pdfPath string) ([]pdftool.FontInfo, error)
	Images(ctx context.Context, pdfPath string) ([]pdftool.ImageInfo, error)
	Text(ctx context.Context, pdfPath string) (string, error)
	TextLayout(ctx context.Context, pdfPath string) (*pdftool.Layout, error)
}

// PageRasterizer renders artifact pages to PNG; satisfied by
// *pdftool.Rasterizer.
type PageRasterizer interface {
	Page(ctx context.Context, pdfPath string, page, dpi int) (string, error)
	Pages(ctx context.Context, pdfPath string, pageCount, dpi int) ([]string, error)
}

// Target is the artifact under validation plus the job that produced it.
type Target struct {
	Artifact  *artifact.Artifact
	Job       *job.Job
	PDF       Introspector
	Raster    PageRasterizer
	ReportDir string
}

// Settings is one layer's resolved gate: job overrides merged over engine
// defaults.
type Settings struct {
	Enabled  bool
	MinScore float64
	MaxScore float64
	Weight   float64
	Options  map[string]any
}

// Layer is one validation stage.
type Layer interface {
	ID() string
	Name() string
	Run(ctx context.Context, t *Target, cfg Settings) (*scorecard.LayerResult, error)
}

// ConfigurationError marks a layer that is enabled but cannot run as
// configured (missing provider, unusable options). It aborts the run as an
// infrastructure failure rather than a quality failure.
type ConfigurationError struct {
	Layer string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("layer %s misconfigured: %v", e.Layer, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Per-layer stock gates. Weights come from job.DefaultLayerWeights.
var layerDefaults = map[string]struct {
	minScore float64
	maxScore float64
}{
	job.LayerStructural:    {minScore: 0.70, maxScore: 1},
	job.LayerContent:       {minScore: 100, maxScore: 150},
	job.LayerPDFQuality:    {minScore: 1, maxScore: 1},
	job.LayerVisual:        {minScore: 0, maxScore: 1},
	job.LayerAIVision:      {minScore: 0.85, maxScore: 1},
	job.LayerAccessibility: {minScore: 0.80, maxScore: 1},
}

// DefaultMinScore exposes a layer's stock gate, used to seed dry-run
// providers with a plausibly passing score.
func DefaultMinScore(layer string) float64 {
	return layerDefaults[layer].minScore
}

// ResolveSettings merges the job's layer gates over the engine defaults.
func ResolveSettings(j *job.Job) map[string]Settings {
	weights := j.EffectiveWeights()
	out := make(map[string]Settings, len(job.LayerOrder))
	for _, name := range job.LayerOrder {
		def := layerDefaults[name]
		s := Settings{
			Enabled:  true,
			MinScore: def.minScore,
			MaxScore: def.maxScore,
			Weight:   weights[name],
		}
		if lc, ok := j.LayerSetting(name); ok {
			if lc.Enabled != nil {
				s.Enabled = *lc.Enabled
			}
			if lc.MinScore != nil {
				s.MinScore = *lc.MinScore
			}
			s.Options = lc.Options
		}
		out[name] = s
	}
	return out
}

// newResult seeds a LayerResult with the layer identity and its gate.
func newResult(id, name string, cfg Settings) *scorecard.LayerResult {
	return &scorecard.LayerResult{
		LayerID:  id,
		Name:     name,
		MaxScore: cfg.MaxScore,
		MinScore: cfg.MinScore,
		Weight:   cfg.Weight,
	}
}

// finish derives the pass flag: score meets the gate and nothing critical.
func finish(r *scorecard.LayerResult) *scorecard.LayerResult {
	r.Passed = r.Score >= r.MinScore && !r.HasCritical()
	return r
}

func timed(start time.Time, r *scorecard.LayerResult) *scorecard.LayerResult {
	r.DurationMs = time.Since(start).Milliseconds()
	return r
}

// Option readers for the loosely typed layer options mapping. The schema
// validated shapes at load time; these tolerate JSON's float64 numbers.

func optString(opts map[string]any, key, fallback string) string {
	if v, ok := opts[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func optFloat(opts map[string]any, key string, fallback float64) float64 {
	if v, ok := opts[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return fallback
}

func optStrings(opts map[string]any, key string) []string {
	v, ok := opts[key]
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
