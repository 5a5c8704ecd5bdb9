package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"brandforge/internal/artifact"
	"brandforge/internal/job"
	"brandforge/internal/logging"
	"brandforge/internal/scorecard"
)

// RefitFunc re-invokes the worker with the color-correction override and
// returns the replacement artifact. The router injects it only when the
// layout worker produced the artifact.
type RefitFunc func(ctx context.Context, j *job.Job) (*artifact.Artifact, error)

// Options configure an Engine.
type Options struct {
	// ReportDir receives per-layer subreports under <reportdir>/<layer>/.
	ReportDir string
	// Bands override the verdict thresholds; zero value means defaults.
	Bands scorecard.VerdictBands
	// Refit enables the color auto-fix retry.
	Refit RefitFunc
}

// Engine runs the ordered layers and assembles the scorecard.
type Engine struct {
	layers []Layer
	opts   Options
	log    *zap.SugaredLogger
}

// NewEngine builds an engine over the given ordered layers.
func NewEngine(layers []Layer, opts Options) *Engine {
	if opts.Bands == (scorecard.VerdictBands{}) {
		opts.Bands = scorecard.DefaultVerdictBands()
	}
	return &Engine{
		layers: layers,
		opts:   opts,
		log:    logging.Get(logging.CategoryValidation),
	}
}

// DefaultLayers returns the six stock layers in execution order. The vision
// and accessibility providers may be nil; the corresponding layer then fails
// with a ConfigurationError if a job leaves it enabled.
func DefaultLayers(vp VisionProvider, ap AccessibilityProvider) []Layer {
	return []Layer{
		&Structural{},
		&Content{},
		&PDFQuality{},
		&VisualDiff{},
		&AIVision{Provider: vp},
		&Accessibility{Provider: ap},
	}
}

// Run validates the target and returns the finalized scorecard. A returned
// error is an infrastructure fault (misconfigured layer, introspection
// failure); quality failures are expressed in the scorecard instead.
func (e *Engine) Run(ctx context.Context, t *Target) (*scorecard.Scorecard, error) {
	started := time.Now().UTC()
	j := t.Job
	settings := ResolveSettings(j)
	failFast := j.QA.FailFastEnabled()

	results := make([]scorecard.LayerResult, 0, len(e.layers))
	failed := false
	autoFixed := false

	for _, layer := range e.layers {
		cfg := settings[layer.Name()]

		if !cfg.Enabled {
			r := newResult(layer.ID(), layer.Name(), cfg)
			r.BenignSkip(scorecard.SkipDisabled)
			results = append(results, *r)
			e.log.Debugw("layer disabled", "layer", layer.Name())
			continue
		}
		if failed && failFast {
			r := newResult(layer.ID(), layer.Name(), cfg)
			r.FailFastSkip()
			results = append(results, *r)
			continue
		}

		r, err := e.runLayer(ctx, layer, t, cfg)
		if err != nil {
			return nil, err
		}

		if layer.Name() == job.LayerContent && r.BlocksGate() && !autoFixed &&
			j.QA.AutoFixColors && e.opts.Refit != nil {
			autoFixed = true
			r = e.autoFix(ctx, layer, t, cfg, r)
		}

		if r.BlocksGate() {
			failed = true
		}
		results = append(results, *r)
		e.log.Infow("layer finished",
			"layer", layer.Name(), "score", r.Score, "max", r.MaxScore,
			"passed", r.Passed, "durationMs", r.DurationMs)
	}

	sc := &scorecard.Scorecard{
		JobID:        j.JobID,
		Mode:         string(j.EffectiveMode()),
		Intent:       string(j.EffectiveIntent()),
		ArtifactPath: t.Artifact.Path,
		Provenance:   t.Artifact.Provenance(),
		Threshold:    j.QA.Threshold,
		PerLayer:     results,
		StartedAt:    started,
	}
	sc.DurationMs = time.Since(started).Milliseconds()
	sc.Finalize(e.opts.Bands)
	e.writeSubreports(sc)
	e.log.Infow("validation finished", "jobId", j.JobID, "summary", sc.String())
	return sc, nil
}

func (e *Engine) runLayer(ctx context.Context, layer Layer, t *Target, cfg Settings) (*scorecard.LayerResult, error) {
	start := time.Now()
	r, err := layer.Run(ctx, t, cfg)
	if err != nil {
		return nil, err
	}
	return timed(start, r), nil
}

// autoFix runs the one-shot color correction retry: refit the artifact, then
// re-run only the content layer against it. The first attempt's score is
// preserved on the replacement result. Failures leave the original result in
// place with a remediation finding attached.
func (e *Engine) autoFix(ctx context.Context, layer Layer, t *Target, cfg Settings, first *scorecard.LayerResult) *scorecard.LayerResult {
	e.log.Infow("content layer failed, attempting color auto-fix",
		"jobId", t.Job.JobID, "firstScore", first.Score)

	refit, err := e.opts.Refit(ctx, t.Job)
	if err != nil {
		e.log.Warnw("color auto-fix refit failed", "err", err)
		first.Findings = append(first.Findings, scorecard.Finding{
			Severity: scorecard.SeverityWarning,
			Category: scorecard.CategoryRemediation,
			Message:  fmt.Sprintf("color auto-fix failed: %v", err),
		})
		return first
	}
	t.Artifact = refit

	second, err := e.runLayer(ctx, layer, t, cfg)
	if err != nil {
		e.log.Warnw("content layer re-run failed after auto-fix", "err", err)
		first.Findings = append(first.Findings, scorecard.Finding{
			Severity: scorecard.SeverityWarning,
			Category: scorecard.CategoryRemediation,
			Message:  fmt.Sprintf("content re-check after auto-fix failed: %v", err),
		})
		return first
	}

	firstScore := first.Score
	second.FirstAttemptScore = &firstScore
	second.Findings = append(second.Findings, scorecard.Finding{
		Severity: scorecard.SeverityInfo,
		Category: scorecard.CategoryRemediation,
		Message:  "color auto-fix applied; content layer re-ran against the refit artifact",
	})
	e.log.Infow("color auto-fix finished",
		"firstScore", firstScore, "finalScore", second.Score, "passed", second.Passed)
	return second
}

// writeSubreports persists one JSON file per layer under the report dir.
// Subreport write failures are logged, not fatal; the scorecard itself is
// the caller's responsibility.
func (e *Engine) writeSubreports(sc *scorecard.Scorecard) {
	if e.opts.ReportDir == "" {
		return
	}
	for i := range sc.PerLayer {
		lr := &sc.PerLayer[i]
		dir := filepath.Join(e.opts.ReportDir, lr.Name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			e.log.Warnw("subreport dir", "layer", lr.Name, "err", err)
			continue
		}
		data, err := json.MarshalIndent(lr, "", "  ")
		if err != nil {
			e.log.Warnw("subreport marshal", "layer", lr.Name, "err", err)
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("%s-%s.json", sc.JobID, lr.Name))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			e.log.Warnw("subreport write", "path", path, "err", err)
			continue
		}
		lr.Artifacts = append(lr.Artifacts, path)
	}
}
