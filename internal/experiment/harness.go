// Package experiment runs a job's variants through the pipeline and selects
// a winner by weighted composite score. Variants execute strictly in index
// order: the layout application is a single instance, so parallel variants
// would only serialize on the gate anyway while holding budgets open.
package experiment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"brandforge/internal/job"
	"brandforge/internal/logging"
	"brandforge/internal/scorecard"
)

// Pipeline is the per-variant execution capability; satisfied by
// *router.Router.
type Pipeline interface {
	RunJob(ctx context.Context, j *job.Job) (*scorecard.Scorecard, error)
}

// VariantResult captures one variant's run.
type VariantResult struct {
	Index      int                  `json:"index"`
	JobID      string               `json:"jobId"`
	Overrides  map[string]any       `json:"overrides,omitempty"`
	Scorecard  *scorecard.Scorecard `json:"scorecard,omitempty"`
	Metrics    Metrics              `json:"metrics"`
	Composite  float64              `json:"composite"`
	Failed     bool                 `json:"failed"`
	Err        string               `json:"error,omitempty"`
	DurationMs int64                `json:"durationMs"`
}

// Summary is the experiment outcome: every variant, the winner, and the
// selection reasoning.
type Summary struct {
	ParentJobID string            `json:"parentJobId"`
	Weights     job.WinnerWeights `json:"weights"`
	Variants    []VariantResult   `json:"variants"`
	WinnerIndex int               `json:"winnerIndex"`
	WinnerJobID string            `json:"winnerJobId"`
	AllFailed   bool              `json:"allFailed"`
	Reasoning   string            `json:"reasoning"`
	StartedAt   time.Time         `json:"startedAt"`
	DurationMs  int64             `json:"durationMs"`
}

// Winner returns the winning variant's result.
func (s *Summary) Winner() *VariantResult {
	for i := range s.Variants {
		if s.Variants[i].Index == s.WinnerIndex {
			return &s.Variants[i]
		}
	}
	return nil
}

// variant is a built child job awaiting execution.
type variant struct {
	index     int
	overrides map[string]any
	job       *job.Job
}

// defaultPalettes are the built-in design-token variations applied when an
// experiment declares variantCount without explicit variantConfigs.
var defaultPalettes = []map[string]any{
	{"primaryColor": "#0F62FE", "accentColor": "#FF832B", "fontScale": 1.0},
	{"primaryColor": "#198038", "accentColor": "#8A3FFC", "fontScale": 1.05},
	{"primaryColor": "#DA1E28", "accentColor": "#0043CE", "fontScale": 0.95},
	{"primaryColor": "#6929C4", "accentColor": "#005D5D", "fontScale": 1.1},
}

func defaultOverrides(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{
			"content": map[string]any{
				"designTokens": defaultPalettes[i%len(defaultPalettes)],
			},
		}
	}
	return out
}

// buildVariants derives the child jobs: each variant's overrides deep-merged
// over the parent, the experiment block stripped, mode reset to normal, and
// the id fixed to <parent>-variant-<i> (1-based). An invalid variant config
// aborts the whole experiment; a half-run experiment cannot select a winner
// fairly.
func buildVariants(parent *job.Job) ([]variant, error) {
	cfg := parent.Experiment
	overridesList := cfg.VariantConfigs
	if len(overridesList) == 0 {
		overridesList = defaultOverrides(cfg.VariantCount)
	}

	base, err := parent.ToMap()
	if err != nil {
		return nil, err
	}

	variants := make([]variant, 0, len(overridesList))
	for i, overrides := range overridesList {
		idx := i + 1
		merged := job.DeepMerge(base, overrides)
		delete(merged, "experiment")
		merged["jobId"] = job.VariantID(parent.JobID, idx)
		merged["mode"] = string(job.ModeNormal)

		child, _, err := job.FromMap(merged)
		if err != nil {
			return nil, fmt.Errorf("variant %d config invalid: %w", idx, err)
		}
		variants = append(variants, variant{index: idx, overrides: overrides, job: child})
	}
	return variants, nil
}

// Harness executes experiments.
type Harness struct {
	pipeline Pipeline
	log      *zap.SugaredLogger
}

// NewHarness builds a harness over the given pipeline.
func NewHarness(p Pipeline) *Harness {
	return &Harness{
		pipeline: p,
		log:      logging.Get(logging.CategoryExperiment),
	}
}

// Run executes all variants sequentially and selects the winner. A non-nil
// error means the experiment could not be set up (invalid variant config);
// individual variant failures are recorded in the summary instead.
func (h *Harness) Run(ctx context.Context, parent *job.Job) (*Summary, error) {
	if parent.Experiment == nil {
		return nil, fmt.Errorf("job %s has no experiment block", parent.JobID)
	}
	variants, err := buildVariants(parent)
	if err != nil {
		return nil, err
	}

	weights := job.DefaultWinnerWeights()
	if parent.Experiment.Weights != nil {
		weights = *parent.Experiment.Weights
	}

	started := time.Now().UTC()
	h.log.Infow("experiment started",
		"parentJobId", parent.JobID, "variants", len(variants), "weights", weights)

	results := make([]VariantResult, 0, len(variants))
	for _, v := range variants {
		res := VariantResult{
			Index:     v.index,
			JobID:     v.job.JobID,
			Overrides: v.overrides,
		}

		if ctx.Err() != nil {
			// The parent context died; remaining variants never ran.
			res.Failed = true
			res.Err = fmt.Sprintf("skipped: %v", ctx.Err())
			results = append(results, res)
			continue
		}

		runStart := time.Now()
		sc, runErr := h.pipeline.RunJob(ctx, v.job)
		res.DurationMs = time.Since(runStart).Milliseconds()
		res.Scorecard = sc
		if sc != nil && sc.DurationMs > 0 {
			res.DurationMs = sc.DurationMs
		}
		if runErr != nil {
			res.Failed = true
			res.Err = runErr.Error()
		}
		if sc != nil {
			res.Metrics = MetricsFrom(sc)
			res.Composite = Composite(res.Metrics, weights)
		}

		h.log.Infow("variant finished",
			"jobId", res.JobID, "composite", res.Composite,
			"failed", res.Failed, "durationMs", res.DurationMs)
		results = append(results, res)
	}

	winnerPos, allFailed := selectWinner(results)
	winner := &results[winnerPos]

	sum := &Summary{
		ParentJobID: parent.JobID,
		Weights:     weights,
		Variants:    results,
		WinnerIndex: winner.Index,
		WinnerJobID: winner.JobID,
		AllFailed:   allFailed,
		Reasoning:   reasoning(results, winnerPos, allFailed),
		StartedAt:   started,
		DurationMs:  time.Since(started).Milliseconds(),
	}
	h.log.Infow("experiment finished",
		"parentJobId", parent.JobID, "winner", sum.WinnerJobID,
		"composite", winner.Composite, "allFailed", allFailed)
	return sum, nil
}
