package experiment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandforge/internal/job"
	"brandforge/internal/scorecard"
)

// variantCard builds a finished scorecard carrying the three selection
// metrics: overall total, brand sub-score, worst visual diff.
func variantCard(id string, total, brand, diff float64, passed bool) *scorecard.Scorecard {
	return &scorecard.Scorecard{
		JobID:         id,
		Overall:       total,
		MaxOverall:    scorecard.MaxOverall,
		OverallPassed: passed,
		PerLayer: []scorecard.LayerResult{
			{
				LayerID: "L1", Name: job.LayerContent,
				Score: 140, MaxScore: 150,
				SubScores: []scorecard.SubScore{{Name: "brand_compliance", Score: brand, Max: 25}},
			},
			{
				LayerID: "L3", Name: job.LayerVisual,
				Score: 1, MaxScore: 1,
				SubScores: []scorecard.SubScore{{Name: "max_diff_percent", Score: diff, Max: 100}},
			},
		},
	}
}

func resultsFor(cards ...*scorecard.Scorecard) []VariantResult {
	w := job.DefaultWinnerWeights()
	out := make([]VariantResult, len(cards))
	for i, sc := range cards {
		m := MetricsFrom(sc)
		out[i] = VariantResult{
			Index:     i + 1,
			JobID:     sc.JobID,
			Scorecard: sc,
			Metrics:   m,
			Composite: Composite(m, w),
		}
	}
	return out
}

func TestCompositeSelection(t *testing.T) {
	results := resultsFor(
		variantCard("camp-variant-1", 128, 23, 3.2, true),
		variantCard("camp-variant-2", 135, 24, 2.1, true),
		variantCard("camp-variant-3", 130, 22, 4.0, true),
	)

	pos, allFailed := selectWinner(results)
	require.False(t, allFailed)
	winner := results[pos]

	assert.Equal(t, "camp-variant-2", winner.JobID)
	assert.InDelta(t, 0.935, winner.Composite, 0.0005)

	text := reasoning(results, pos, false)
	assert.Contains(t, text, "variant 2")
	assert.Contains(t, text, "total score (135.0/150)")
	assert.Contains(t, text, "brand compliance (24.0/25)")
	assert.Contains(t, text, "visual diff (2.10%)")
	assert.Contains(t, text, "margin over runner-up")
	assert.Contains(t, text, "camp-variant-1", "runner-up is V1 on composite")
}

func TestWinnerBeatsEveryNonFailedVariant(t *testing.T) {
	results := resultsFor(
		variantCard("e-variant-1", 150, 25, 0, true),
		variantCard("e-variant-2", 100, 20, 8, true),
		variantCard("e-variant-3", 120, 25, 1, false),
	)

	pos, _ := selectWinner(results)
	for i := range results {
		if i == pos || results[i].Failed {
			continue
		}
		assert.GreaterOrEqual(t, results[pos].Composite, results[i].Composite)
	}
}

func TestTieBreakCascade(t *testing.T) {
	mk := func(idx int, composite, total, brand, diff float64, durMs int64) VariantResult {
		return VariantResult{
			Index:      idx,
			JobID:      job.VariantID("tie", idx),
			Composite:  composite,
			Metrics:    Metrics{Total: total, Brand: brand, VisualDiff: diff, Passed: true},
			DurationMs: durMs,
		}
	}

	t.Run("higher total breaks composite tie", func(t *testing.T) {
		pos, _ := selectWinner([]VariantResult{
			mk(1, 0.9, 130, 25, 1, 10),
			mk(2, 0.9, 140, 20, 1, 10),
		})
		assert.Equal(t, 1, pos)
	})

	t.Run("higher brand breaks total tie", func(t *testing.T) {
		pos, _ := selectWinner([]VariantResult{
			mk(1, 0.9, 140, 20, 1, 10),
			mk(2, 0.9, 140, 24, 1, 10),
		})
		assert.Equal(t, 1, pos)
	})

	t.Run("lower diff breaks brand tie", func(t *testing.T) {
		pos, _ := selectWinner([]VariantResult{
			mk(1, 0.9, 140, 24, 3, 10),
			mk(2, 0.9, 140, 24, 1, 10),
		})
		assert.Equal(t, 1, pos)
	})

	t.Run("faster run breaks diff tie", func(t *testing.T) {
		pos, _ := selectWinner([]VariantResult{
			mk(1, 0.9, 140, 24, 1, 900),
			mk(2, 0.9, 140, 24, 1, 400),
		})
		assert.Equal(t, 1, pos)
	})

	t.Run("earliest index wins a full tie", func(t *testing.T) {
		pos, _ := selectWinner([]VariantResult{
			mk(1, 0.9, 140, 24, 1, 10),
			mk(2, 0.9, 140, 24, 1, 10),
		})
		assert.Equal(t, 0, pos)
	})
}

func TestFailedVariantsExcluded(t *testing.T) {
	results := resultsFor(
		variantCard("f-variant-1", 150, 25, 0, true),
		variantCard("f-variant-2", 90, 15, 9, true),
	)
	results[0].Failed = true
	results[0].Err = "transport dropped"

	pos, allFailed := selectWinner(results)
	assert.False(t, allFailed)
	assert.Equal(t, 1, pos, "a failed variant never wins while a healthy one exists")
}

func TestAllFailedPicksLeastFailed(t *testing.T) {
	results := resultsFor(
		variantCard("g-variant-1", 40, 5, 50, false),
		variantCard("g-variant-2", 80, 10, 20, false),
	)
	for i := range results {
		results[i].Failed = true
		results[i].Err = "script error"
	}

	pos, allFailed := selectWinner(results)
	assert.True(t, allFailed)
	assert.Equal(t, 1, pos)

	text := reasoning(results, pos, true)
	assert.Contains(t, text, "least-failed")
	assert.Contains(t, text, "variant 2")
}

func TestMetricsFrom(t *testing.T) {
	t.Run("reads sub-scores", func(t *testing.T) {
		m := MetricsFrom(variantCard("m-1", 135, 24, 2.1, true))
		assert.Equal(t, 135.0, m.Total)
		assert.Equal(t, 24.0, m.Brand)
		assert.Equal(t, 2.1, m.VisualDiff)
		assert.True(t, m.Passed)
	})

	t.Run("brand falls back to content score ratio", func(t *testing.T) {
		sc := &scorecard.Scorecard{
			Overall: 120,
			PerLayer: []scorecard.LayerResult{
				{LayerID: "L1", Name: job.LayerContent, Score: 120, MaxScore: 150},
			},
		}
		m := MetricsFrom(sc)
		assert.InDelta(t, 20.0, m.Brand, 1e-9)
	})

	t.Run("skipped visual layer reads as zero diff", func(t *testing.T) {
		sc := &scorecard.Scorecard{
			Overall: 120,
			PerLayer: []scorecard.LayerResult{
				{LayerID: "L3", Name: job.LayerVisual, Skipped: true},
			},
		}
		m := MetricsFrom(sc)
		assert.Zero(t, m.VisualDiff)
	})

	t.Run("partial scorecard yields zero metrics", func(t *testing.T) {
		m := MetricsFrom(scorecard.Failure("dead", "transport", assert.AnError))
		assert.Zero(t, m.Total)
		assert.Zero(t, m.Brand)
		assert.False(t, m.Passed)
	})
}

func TestCompositeClamps(t *testing.T) {
	w := job.DefaultWinnerWeights()

	full := Composite(Metrics{Total: 150, Brand: 25, VisualDiff: 0, Passed: true}, w)
	assert.InDelta(t, 1.0, full, 1e-9)

	overflow := Composite(Metrics{Total: 900, Brand: 90, VisualDiff: -4, Passed: true}, w)
	assert.InDelta(t, 1.0, overflow, 1e-9)

	floor := Composite(Metrics{Total: -10, Brand: 0, VisualDiff: 400, Passed: false}, w)
	assert.InDelta(t, 0.0, floor, 1e-9)
}
