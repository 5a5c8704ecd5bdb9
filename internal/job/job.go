// Package job defines the immutable job description the orchestrator
// executes: routing key, opaque content for the worker, export settings,
// QA gates, per-layer validation config, and optional experiment setup.
// The loader accepts JSON or YAML, rewrites deprecated keys, validates the
// document against an embedded schema in strict mode, and enforces the
// cross-field invariants the pipeline depends on.
package job

import (
	"fmt"
	"math"
	"strings"
)

// Mode selects the pipeline flavor.
type Mode string

const (
	ModeNormal     Mode = "normal"
	ModeWorldClass Mode = "world_class"
	ModeExperiment Mode = "experiment"
)

// Intent is the export target: print (higher DPI, CMYK expectations) or
// screen (lower DPI, RGB expectations). It affects export and validation.
type Intent string

const (
	IntentPrint  Intent = "print"
	IntentScreen Intent = "screen"
)

// ThresholdScale names the scale a threshold is expressed in. Internally all
// thresholds are rubric points (0-150); grade-scale values (0-100) are
// converted once at load time. Ambiguous configs are rejected.
const (
	ScaleRubric = "rubric"
	ScaleGrade  = "grade"
)

// WorldClassThreshold is the minimum rubric threshold world_class mode
// accepts (140/150, i.e. a 93.3 grade).
const WorldClassThreshold = 140.0

// DefaultBudgetSeconds bounds a job's wall clock when the config is silent.
const DefaultBudgetSeconds = 1800

// Canonical layer keys, in execution order.
var LayerOrder = []string{
	LayerStructural,
	LayerContent,
	LayerPDFQuality,
	LayerVisual,
	LayerAIVision,
	LayerAccessibility,
}

const (
	LayerStructural    = "structural"
	LayerContent       = "content"
	LayerPDFQuality    = "pdf_quality"
	LayerVisual        = "visual"
	LayerAIVision      = "ai_vision"
	LayerAccessibility = "accessibility"
)

// layerAliases maps the L0..L5 shorthand accepted in configs onto canonical
// layer keys.
var layerAliases = map[string]string{
	"L0": LayerStructural,
	"L1": LayerContent,
	"L2": LayerPDFQuality,
	"L3": LayerVisual,
	"L4": LayerAIVision,
	"L5": LayerAccessibility,
}

// Job is the immutable input to one pipeline run. The loader canonicalizes
// YAML documents through JSON, so only json tags matter here.
type Job struct {
	JobID   string         `json:"jobId" validate:"required"`
	Mode    Mode           `json:"mode,omitempty" validate:"omitempty,oneof=normal world_class experiment"`
	JobType string         `json:"jobType,omitempty"`
	Content map[string]any `json:"content,omitempty"`

	Export ExportConfig `json:"export"`
	QA     QAConfig     `json:"qa"`

	// Layers maps canonical layer keys to their gates. Missing layers get
	// engine defaults; L0..L5 aliases are normalized at load time.
	Layers map[string]LayerConfig `json:"layers,omitempty"`

	Experiment *ExperimentConfig `json:"experiment,omitempty"`

	RAG    RAGConfig    `json:"rag"`
	Report ReportConfig `json:"report"`

	// BudgetSeconds caps the whole run; exceeding it is an infrastructure
	// error (exit 3), not a validation failure.
	BudgetSeconds int `json:"budgetSeconds,omitempty" validate:"gte=0"`
}

// ExportConfig selects the export profile.
type ExportConfig struct {
	Intent   Intent `json:"intent,omitempty" validate:"omitempty,oneof=print screen"`
	Preset   string `json:"preset,omitempty"`
	PageSize string `json:"pageSize,omitempty"`
}

// QAConfig holds the gating knobs.
type QAConfig struct {
	Threshold      float64 `json:"threshold" validate:"gte=0"`
	Scale          string  `json:"scale,omitempty" validate:"omitempty,oneof=rubric grade"`
	AutoFixColors  bool    `json:"autoFixColors,omitempty"`
	VisualBaseline string  `json:"visualBaseline,omitempty"`
	FailFast       *bool   `json:"failFast,omitempty"`
	FailOnAiError  bool    `json:"failOnAiError,omitempty"`
}

// FailFastEnabled defaults to true when the config is silent.
func (q QAConfig) FailFastEnabled() bool {
	if q.FailFast == nil {
		return true
	}
	return *q.FailFast
}

// LayerConfig is one layer's gate in the job. Pointer fields distinguish
// "explicitly set" from "use the engine default".
type LayerConfig struct {
	Enabled  *bool          `json:"enabled,omitempty"`
	MinScore *float64       `json:"minScore,omitempty"`
	Weight   *float64       `json:"weight,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

// ExperimentConfig declares variant generation and winner weighting.
type ExperimentConfig struct {
	VariantCount   int              `json:"variantCount,omitempty" validate:"gte=0"`
	VariantConfigs []map[string]any `json:"variantConfigs,omitempty"`
	Weights        *WinnerWeights   `json:"weights,omitempty"`
}

// WinnerWeights weight the composite score used for winner selection.
type WinnerWeights struct {
	Total      float64 `json:"total"`
	Brand      float64 `json:"brand"`
	VisualDiff float64 `json:"visualDiff"`
	PassFail   float64 `json:"passFail"`
}

// DefaultWinnerWeights mirror the stock selection policy: total score 0.50,
// brand sub-score 0.30, inverted visual diff 0.15, pass/fail 0.05.
func DefaultWinnerWeights() WinnerWeights {
	return WinnerWeights{Total: 0.50, Brand: 0.30, VisualDiff: 0.15, PassFail: 0.05}
}

// Sum returns the weight total, used by the weight-sum invariant.
func (w WinnerWeights) Sum() float64 {
	return w.Total + w.Brand + w.VisualDiff + w.PassFail
}

// RAGConfig is passed through to content-aware workers.
type RAGConfig struct {
	Enabled    bool   `json:"enabled,omitempty"`
	Collection string `json:"collection,omitempty"`
}

// ReportConfig tunes the report sinks.
type ReportConfig struct {
	// History disables the sqlite run-history sink when set to false.
	History *bool `json:"history,omitempty"`
}

// HistoryEnabled defaults to true.
func (r ReportConfig) HistoryEnabled() bool {
	if r.History == nil {
		return true
	}
	return *r.History
}

// ContentString fetches a string value from the opaque content mapping.
func (j *Job) ContentString(key string) string {
	if j.Content == nil {
		return ""
	}
	if v, ok := j.Content[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// EffectiveMode defaults to normal.
func (j *Job) EffectiveMode() Mode {
	if j.Mode == "" {
		return ModeNormal
	}
	return j.Mode
}

// EffectiveIntent defaults to screen, except world_class which is print-only.
func (j *Job) EffectiveIntent() Intent {
	if j.Export.Intent != "" {
		return j.Export.Intent
	}
	if j.EffectiveMode() == ModeWorldClass {
		return IntentPrint
	}
	return IntentScreen
}

// EffectiveBudgetSeconds applies the default wall-clock budget.
func (j *Job) EffectiveBudgetSeconds() int {
	if j.BudgetSeconds <= 0 {
		return DefaultBudgetSeconds
	}
	return j.BudgetSeconds
}

// LayerSetting returns the configured gate for a canonical layer key.
func (j *Job) LayerSetting(name string) (LayerConfig, bool) {
	lc, ok := j.Layers[name]
	return lc, ok
}

// normalizeLayerKeys rewrites L0..L5 aliases in a raw config mapping to the
// canonical layer keys. Returns a warning per rewritten key.
func normalizeLayerKeys(raw map[string]any) []string {
	layersAny, ok := raw["layers"]
	if !ok {
		return nil
	}
	layers, ok := layersAny.(map[string]any)
	if !ok {
		return nil
	}
	var warnings []string
	for alias, canonical := range layerAliases {
		if v, ok := layers[alias]; ok {
			if _, clash := layers[canonical]; clash {
				warnings = append(warnings,
					fmt.Sprintf("layers.%s ignored: %s is also configured", alias, canonical))
			} else {
				layers[canonical] = v
				warnings = append(warnings,
					fmt.Sprintf("layers.%s rewritten to layers.%s", alias, canonical))
			}
			delete(layers, alias)
		}
	}
	return warnings
}

// validateSemantics enforces the cross-field invariants the struct tags
// cannot express. Violations are configuration errors (exit 3).
func validateSemantics(j *Job) error {
	if strings.TrimSpace(j.JobID) == "" {
		return fmt.Errorf("jobId must be non-empty")
	}

	// Threshold scale. Grade-scale thresholds were already converted by the
	// loader; what remains must be rubric points within range.
	if j.QA.Threshold < 0 || j.QA.Threshold > 150 {
		return fmt.Errorf("qa.threshold %.2f outside rubric range [0,150]", j.QA.Threshold)
	}

	if j.EffectiveMode() == ModeWorldClass {
		if j.Export.Intent == IntentScreen {
			return fmt.Errorf("world_class mode requires print intent")
		}
		if j.QA.Threshold < WorldClassThreshold {
			return fmt.Errorf("world_class mode requires qa.threshold >= %.0f rubric points, got %.2f",
				WorldClassThreshold, j.QA.Threshold)
		}
	}

	// Layer weights: when any weight is provided, the full set (provided plus
	// defaults) must still sum to 1.0. Silently shadowed weights are exactly
	// the failure mode this guards against.
	if err := checkWeightSum(j); err != nil {
		return err
	}

	if j.Experiment != nil {
		if j.Experiment.Weights != nil {
			if s := j.Experiment.Weights.Sum(); math.Abs(s-1.0) > 0.001 {
				return fmt.Errorf("experiment.weights must sum to 1.0, got %.4f", s)
			}
		}
		if j.Experiment.VariantCount == 0 && len(j.Experiment.VariantConfigs) == 0 {
			return fmt.Errorf("experiment requires variantCount or variantConfigs")
		}
	}
	if j.EffectiveMode() == ModeExperiment && j.Experiment == nil {
		return fmt.Errorf("mode=experiment requires an experiment block")
	}

	for name := range j.Layers {
		if !isCanonicalLayer(name) {
			return fmt.Errorf("unknown layer %q (known: %s)", name, strings.Join(LayerOrder, ", "))
		}
	}
	return nil
}

func isCanonicalLayer(name string) bool {
	for _, l := range LayerOrder {
		if l == name {
			return true
		}
	}
	return false
}

// DefaultLayerWeights are the stock weights, summing to 1.0.
func DefaultLayerWeights() map[string]float64 {
	return map[string]float64{
		LayerStructural:    0.15,
		LayerContent:       0.35,
		LayerPDFQuality:    0.20,
		LayerVisual:        0.10,
		LayerAIVision:      0.15,
		LayerAccessibility: 0.05,
	}
}

// EffectiveWeights merges configured weights over the defaults.
func (j *Job) EffectiveWeights() map[string]float64 {
	weights := DefaultLayerWeights()
	for name, lc := range j.Layers {
		if lc.Weight != nil {
			weights[name] = *lc.Weight
		}
	}
	return weights
}

func checkWeightSum(j *Job) error {
	anyProvided := false
	for _, lc := range j.Layers {
		if lc.Weight != nil {
			anyProvided = true
			break
		}
	}
	if !anyProvided {
		return nil
	}
	var sum float64
	for _, w := range j.EffectiveWeights() {
		if w < 0 {
			return fmt.Errorf("layer weights must be >= 0")
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("layer weights must sum to 1.0, got %.4f", sum)
	}
	return nil
}
