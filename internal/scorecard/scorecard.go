// Package scorecard defines the result model shared by the validation engine,
// the experiment harness, and the report sinks: per-layer results, the
// aggregated scorecard, verdict banding, and the process exit-code mapping.
package scorecard

import (
	"fmt"
	"math"
	"time"
)

// MaxOverall is the rubric ceiling for the aggregated score. All layer
// contributions are normalized into this 0-150 scale; letter verdicts are
// banded from the derived 0-100 grade.
const MaxOverall = 150.0

// Process exit codes. CI distinguishes retryable infrastructure faults (3)
// from genuine quality failures (1).
const (
	ExitOK               = 0
	ExitValidationFailed = 1
	ExitInfra            = 3
)

// Error categories for the failure taxonomy. Configuration, transport and IO
// faults are retryable infrastructure errors; the rest are production
// failures.
const (
	CategoryConfiguration = "configuration"
	CategoryTransport     = "transport"
	CategoryScript        = "script"
	CategoryValidation    = "validation"
	CategoryRemediation   = "remediation"
	CategoryAIProvider    = "ai_provider"
	CategoryIO            = "io"
)

// ExitForCategory maps an error category to the process exit code.
func ExitForCategory(category string) int {
	switch category {
	case CategoryConfiguration, CategoryTransport, CategoryIO:
		return ExitInfra
	default:
		return ExitValidationFailed
	}
}

// Severity classifies a finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Finding is one observation emitted by a validation layer.
type Finding struct {
	Severity Severity `json:"severity"`
	Category string   `json:"category"`
	Message  string   `json:"message"`
	Page     int      `json:"page,omitempty"`
	Locator  string   `json:"locator,omitempty"`
}

// SkipReason explains why a layer did not run.
type SkipReason string

const (
	// SkipDisabled: the job disabled the layer. Counts as passed, full score.
	SkipDisabled SkipReason = "disabled"
	// SkipNoBaseline: visual layer had no configured baseline. Benign.
	SkipNoBaseline SkipReason = "no_baseline"
	// SkipEarlierFailure: fail-fast short-circuit. Counts as failed, zero score.
	SkipEarlierFailure SkipReason = "earlier_failure"
)

// SubScore is a named component of a layer score. The content layer emits a
// "brand_compliance" sub-score that experiment winner selection consumes.
type SubScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
	Max   float64 `json:"max"`
}

// LayerResult is the outcome of a single validation layer.
type LayerResult struct {
	LayerID   string     `json:"layer_id"` // L0..L5
	Name      string     `json:"name"`
	Score     float64    `json:"score"`
	MaxScore  float64    `json:"max_score"`
	MinScore  float64    `json:"min_score"`
	Weight    float64    `json:"weight"`
	Passed    bool       `json:"passed"`
	Skipped   bool       `json:"skipped"`
	DryRun    bool       `json:"dry_run,omitempty"`
	LayerErr  string     `json:"error,omitempty"`
	Findings  []Finding  `json:"findings,omitempty"`
	SubScores []SubScore `json:"sub_scores,omitempty"`

	SkipReason SkipReason `json:"skip_reason,omitempty"`

	// FirstAttemptScore is set only when the auto-fix retry replaced this
	// result; the pre-remediation score is preserved for auditing.
	FirstAttemptScore *float64 `json:"first_attempt_score,omitempty"`

	DurationMs int64    `json:"duration_ms"`
	Artifacts  []string `json:"artifacts,omitempty"`
}

// BlocksGate reports whether this result blocks the overall gate. A layer
// that errored against an external provider and carries no critical finding
// gates only through its zero score contribution; jobs opt in to hard
// failure by making the layer emit a critical finding instead. The engine
// uses the same rule for its fail-fast trigger.
func (r *LayerResult) BlocksGate() bool {
	if r.Passed {
		return false
	}
	if r.LayerErr != "" && !r.HasCritical() {
		return false
	}
	return true
}

// HasCritical reports whether any finding carries critical severity.
func (r *LayerResult) HasCritical() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// SubScore returns the named sub-score, if present.
func (r *LayerResult) SubScore(name string) (SubScore, bool) {
	for _, s := range r.SubScores {
		if s.Name == name {
			return s, true
		}
	}
	return SubScore{}, false
}

// BenignSkip marks the result as skipped in a way that counts as passed with
// full score (disabled layer, or visual layer without a baseline).
func (r *LayerResult) BenignSkip(reason SkipReason) {
	r.Skipped = true
	r.SkipReason = reason
	r.Passed = true
	r.Score = r.MaxScore
}

// FailFastSkip marks the result as skipped by an earlier failure. The layer
// never ran, contributes zero, and preserves the overall failure signal.
func (r *LayerResult) FailFastSkip() {
	r.Skipped = true
	r.SkipReason = SkipEarlierFailure
	r.Passed = false
	r.Score = 0
}

// VerdictBands holds the grade thresholds for letter verdicts, on the 0-100
// grade scale derived from overall/MaxOverall.
type VerdictBands struct {
	APlus float64 `json:"a_plus"`
	A     float64 `json:"a"`
	B     float64 `json:"b"`
	C     float64 `json:"c"`
}

// DefaultVerdictBands are the stock thresholds: A+ >= 95, A >= 90, B >= 80,
// C >= 70, else F.
func DefaultVerdictBands() VerdictBands {
	return VerdictBands{APlus: 95, A: 90, B: 80, C: 70}
}

// Verdict bands a 0-100 grade into a letter.
func (b VerdictBands) Verdict(grade float64) string {
	switch {
	case grade >= b.APlus:
		return "A+"
	case grade >= b.A:
		return "A"
	case grade >= b.B:
		return "B"
	case grade >= b.C:
		return "C"
	default:
		return "F"
	}
}

// Provenance records how the artifact under validation was produced. The
// preset is logged by the worker before export and echoed here for auditing.
type Provenance struct {
	Worker     string    `json:"worker"`
	Preset     string    `json:"preset,omitempty"`
	DocumentID string    `json:"document_id,omitempty"`
	Digest     string    `json:"digest,omitempty"`
	ProducedAt time.Time `json:"produced_at"`
}

// Scorecard is the aggregated result document for one job.
type Scorecard struct {
	JobID  string `json:"job_id"`
	Mode   string `json:"mode,omitempty"`
	Intent string `json:"intent,omitempty"`

	ArtifactPath string     `json:"artifact_path,omitempty"`
	Provenance   Provenance `json:"provenance,omitempty"`

	Overall       float64       `json:"overall"`
	MaxOverall    float64       `json:"max_overall"`
	Grade         float64       `json:"grade"`
	Verdict       string        `json:"verdict"`
	Threshold     float64       `json:"threshold"`
	OverallPassed bool          `json:"overall_passed"`
	PerLayer      []LayerResult `json:"per_layer"`

	ExitCode      int    `json:"exit_code"`
	ErrorCategory string `json:"error_category,omitempty"`
	Message       string `json:"message,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// ComputeOverall aggregates per-layer results into the 0-150 overall score.
// Each layer contributes (score/max) * weight * MaxOverall; benign skips were
// already normalized to full score by BenignSkip, fail-fast skips to zero.
func ComputeOverall(perLayer []LayerResult) float64 {
	var overall float64
	for _, lr := range perLayer {
		if lr.MaxScore <= 0 || lr.Weight <= 0 {
			continue
		}
		frac := lr.Score / lr.MaxScore
		if frac < 0 {
			frac = 0
		}
		if frac > 1 {
			frac = 1
		}
		overall += frac * lr.Weight * MaxOverall
	}
	// Round to 2 decimals so serialized scorecards are stable across runs.
	return math.Round(overall*100) / 100
}

// GradeFor converts a 0-150 overall into the 0-100 grade used for verdicts.
func GradeFor(overall float64) float64 {
	return math.Round(overall/MaxOverall*100*100) / 100
}

// Gate applies the pass criteria: no layer blocks, and the overall meets the
// threshold. Benign skips were marked passed; fail-fast skips block.
func Gate(perLayer []LayerResult, overall, threshold float64) bool {
	for _, lr := range perLayer {
		if lr.BlocksGate() {
			return false
		}
	}
	return overall >= threshold
}

// Finalize computes the derived scorecard fields from PerLayer and Threshold.
func (s *Scorecard) Finalize(bands VerdictBands) {
	s.MaxOverall = MaxOverall
	s.Overall = ComputeOverall(s.PerLayer)
	s.Grade = GradeFor(s.Overall)
	s.Verdict = bands.Verdict(s.Grade)
	s.OverallPassed = Gate(s.PerLayer, s.Overall, s.Threshold)
	if s.OverallPassed {
		s.ExitCode = ExitOK
	} else {
		s.ExitCode = ExitValidationFailed
	}
}

// Layer returns the result for the given layer id, if present.
func (s *Scorecard) Layer(id string) (*LayerResult, bool) {
	for i := range s.PerLayer {
		if s.PerLayer[i].LayerID == id {
			return &s.PerLayer[i], true
		}
	}
	return nil, false
}

// Failure builds the partial scorecard written when the pipeline dies before
// validation completes (transport down, config invalid, script threw, budget
// blown). The exit code follows the category taxonomy: transport, io and
// configuration faults are retryable infrastructure, the rest are production
// failures.
func Failure(jobID, category string, err error) *Scorecard {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Scorecard{
		JobID:         jobID,
		MaxOverall:    MaxOverall,
		Verdict:       "F",
		ExitCode:      ExitForCategory(category),
		ErrorCategory: category,
		Message:       msg,
		StartedAt:     time.Now().UTC(),
	}
}

// String renders a one-line summary, used in logs.
func (s *Scorecard) String() string {
	return fmt.Sprintf("%s overall=%.1f/%d verdict=%s passed=%v exit=%d",
		s.JobID, s.Overall, int(MaxOverall), s.Verdict, s.OverallPassed, s.ExitCode)
}
