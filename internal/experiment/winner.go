package experiment

import (
	"fmt"
	"math"
	"strings"

	"brandforge/internal/job"
	"brandforge/internal/scorecard"
)

// brandSubMax is the rubric ceiling of the content layer's brand-compliance
// sub-score.
const brandSubMax = 25.0

// compositeEps treats composites within a billionth as tied, pushing the
// decision into the tie-break cascade instead of float noise.
const compositeEps = 1e-9

// Metrics are the normalization inputs for one variant's composite.
type Metrics struct {
	// Total is the overall rubric score, 0-150.
	Total float64 `json:"total"`
	// Brand is the brand-compliance sub-score, 0-25.
	Brand float64 `json:"brand"`
	// VisualDiff is the worst per-page diff percentage, 0-100.
	VisualDiff float64 `json:"visualDiff"`
	Passed     bool    `json:"passed"`
}

// MetricsFrom extracts winner-selection metrics from a scorecard. A missing
// brand sub-score falls back to the content layer's score ratio; a skipped
// visual layer reads as zero diff.
func MetricsFrom(sc *scorecard.Scorecard) Metrics {
	m := Metrics{Total: sc.Overall, Passed: sc.OverallPassed}

	if lr, ok := layerByName(sc, job.LayerContent); ok {
		if sub, ok := lr.SubScore("brand_compliance"); ok && sub.Max > 0 {
			m.Brand = sub.Score / sub.Max * brandSubMax
		} else if lr.MaxScore > 0 {
			m.Brand = lr.Score / lr.MaxScore * brandSubMax
		}
	}
	if lr, ok := layerByName(sc, job.LayerVisual); ok {
		if sub, ok := lr.SubScore("max_diff_percent"); ok {
			m.VisualDiff = sub.Score
		}
	}
	return m
}

func layerByName(sc *scorecard.Scorecard, name string) (*scorecard.LayerResult, bool) {
	for i := range sc.PerLayer {
		if sc.PerLayer[i].Name == name {
			return &sc.PerLayer[i], true
		}
	}
	return nil, false
}

// Composite folds the normalized metrics under the winner weights: total/150,
// brand/25, inverted diff, binary pass.
func Composite(m Metrics, w job.WinnerWeights) float64 {
	total := clamp01(m.Total / scorecard.MaxOverall)
	brand := clamp01(m.Brand / brandSubMax)
	diff := 1 - clamp(m.VisualDiff, 0, 100)/100
	pass := 0.0
	if m.Passed {
		pass = 1
	}
	return w.Total*total + w.Brand*brand + w.VisualDiff*diff + w.PassFail*pass
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// selectWinner returns the slice position of the winning variant. Failed
// variants are excluded unless every variant failed; then the least-failed
// one (highest composite) is chosen so the summary still names a best effort.
func selectWinner(results []VariantResult) (pos int, allFailed bool) {
	allFailed = true
	for i := range results {
		if !results[i].Failed {
			allFailed = false
			break
		}
	}

	pos = -1
	for i := range results {
		if !allFailed && results[i].Failed {
			continue
		}
		if pos < 0 || better(&results[i], &results[pos]) {
			pos = i
		}
	}
	return pos, allFailed
}

// better reports whether a beats b under the tie-break cascade: composite,
// then total score, brand sub-score, lowest visual diff, fastest run,
// earliest index.
func better(a, b *VariantResult) bool {
	if d := a.Composite - b.Composite; math.Abs(d) > compositeEps {
		return d > 0
	}
	if d := a.Metrics.Total - b.Metrics.Total; math.Abs(d) > compositeEps {
		return d > 0
	}
	if d := a.Metrics.Brand - b.Metrics.Brand; math.Abs(d) > compositeEps {
		return d > 0
	}
	if d := a.Metrics.VisualDiff - b.Metrics.VisualDiff; math.Abs(d) > compositeEps {
		return d < 0
	}
	if a.DurationMs != b.DurationMs {
		return a.DurationMs < b.DurationMs
	}
	return a.Index < b.Index
}

// reasoning renders the human explanation of the pick: the winning composite,
// which metrics it leads on, and the margin over the runner-up.
func reasoning(results []VariantResult, winnerPos int, allFailed bool) string {
	w := &results[winnerPos]

	var b strings.Builder
	if allFailed {
		fmt.Fprintf(&b, "all %d variants failed; variant %d (%s) selected as least-failed with composite %.4f.",
			len(results), w.Index, w.JobID, w.Composite)
		return b.String()
	}

	fmt.Fprintf(&b, "variant %d (%s) wins with composite %.4f", w.Index, w.JobID, w.Composite)

	if leads := leadsOn(results, winnerPos); len(leads) > 0 {
		fmt.Fprintf(&b, "; leads on %s", strings.Join(leads, ", "))
	}

	if runnerPos := runnerUp(results, winnerPos); runnerPos >= 0 {
		r := &results[runnerPos]
		fmt.Fprintf(&b, "; margin over runner-up variant %d (%s, composite %.4f) is %.4f",
			r.Index, r.JobID, r.Composite, w.Composite-r.Composite)
	}
	b.WriteString(".")
	return b.String()
}

// leadsOn lists the metrics where the winner is at least as good as every
// other non-failed variant.
func leadsOn(results []VariantResult, winnerPos int) []string {
	w := &results[winnerPos]
	bestTotal, bestBrand, bestDiff := true, true, true
	for i := range results {
		if i == winnerPos || results[i].Failed {
			continue
		}
		m := results[i].Metrics
		if m.Total > w.Metrics.Total {
			bestTotal = false
		}
		if m.Brand > w.Metrics.Brand {
			bestBrand = false
		}
		if m.VisualDiff < w.Metrics.VisualDiff {
			bestDiff = false
		}
	}

	var leads []string
	if bestTotal {
		leads = append(leads, fmt.Sprintf("total score (%.1f/%.0f)", w.Metrics.Total, scorecard.MaxOverall))
	}
	if bestBrand {
		leads = append(leads, fmt.Sprintf("brand compliance (%.1f/%.0f)", w.Metrics.Brand, brandSubMax))
	}
	if bestDiff {
		leads = append(leads, fmt.Sprintf("visual diff (%.2f%%)", w.Metrics.VisualDiff))
	}
	if w.Metrics.Passed {
		leads = append(leads, "gate passed")
	}
	return leads
}

// runnerUp finds the best non-failed variant other than the winner.
func runnerUp(results []VariantResult, winnerPos int) int {
	pos := -1
	for i := range results {
		if i == winnerPos || results[i].Failed {
			continue
		}
		if pos < 0 || better(&results[i], &results[pos]) {
			pos = i
		}
	}
	return pos
}
