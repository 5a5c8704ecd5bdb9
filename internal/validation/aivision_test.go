package validation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandforge/internal/job"
	"brandforge/internal/scorecard"
	"brandforge/internal/vision"
)

type fakeVision struct {
	critique *vision.Critique
	err      error
	rubrics  []string
	batches  [][]string
}

func (f *fakeVision) Name() string { return "fake-vision" }

func (f *fakeVision) Critique(_ context.Context, imagePaths []string, rubric string) (*vision.Critique, error) {
	f.batches = append(f.batches, imagePaths)
	f.rubrics = append(f.rubrics, rubric)
	if f.err != nil {
		return nil, f.err
	}
	return f.critique, nil
}

func visionTarget(pages int) *Target {
	paths := make([]string, pages)
	for i := range paths {
		paths[i] = fmt.Sprintf("/tmp/render/page-%d.png", i+1)
	}
	j := testJobForLayers()
	j.Content = map[string]any{"organization": "Northwind Labs", "partner": "Contoso"}
	return &Target{
		Artifact: testArtifact(pages),
		Job:      j,
		Raster:   &fakeRaster{pages: paths},
	}
}

func TestAIVisionLayer(t *testing.T) {
	cfg := ResolveSettings(testJobForLayers())[job.LayerAIVision]

	t.Run("critique maps into the layer result", func(t *testing.T) {
		provider := &fakeVision{critique: &vision.Critique{
			Score:     0.9,
			Findings:  []string{"margins feel tight on the cover"},
			PageNotes: []string{"", "footer is busy"},
		}}
		layer := &AIVision{Provider: provider}
		target := visionTarget(2)

		r, err := layer.Run(context.Background(), target, cfg)
		require.NoError(t, err)

		assert.InDelta(t, 0.9, r.Score, 0.001)
		assert.True(t, r.Passed)
		assertFinding(t, r, scorecard.SeverityWarning, "margins feel tight")
		assertFinding(t, r, scorecard.SeverityInfo, "footer is busy")

		require.Len(t, provider.rubrics, 1)
		assert.Contains(t, provider.rubrics[0], "Northwind Labs")
		assert.Contains(t, provider.rubrics[0], "Contoso")
		assert.Contains(t, provider.rubrics[0], "print")
	})

	t.Run("low score fails the gate", func(t *testing.T) {
		layer := &AIVision{Provider: &fakeVision{critique: &vision.Critique{Score: 0.5}}}

		r, err := layer.Run(context.Background(), visionTarget(1), cfg)
		require.NoError(t, err)

		assert.False(t, r.Passed)
		assert.True(t, r.BlocksGate())
	})

	t.Run("provider error degrades without gating", func(t *testing.T) {
		layer := &AIVision{Provider: &fakeVision{err: errors.New("quota exceeded")}}

		r, err := layer.Run(context.Background(), visionTarget(1), cfg)
		require.NoError(t, err)

		assert.False(t, r.Passed)
		assert.Contains(t, r.LayerErr, "quota exceeded")
		assertFinding(t, r, scorecard.SeverityWarning, "critique failed")
		assert.False(t, r.BlocksGate())
	})

	t.Run("failOnAiError upgrades the failure", func(t *testing.T) {
		layer := &AIVision{Provider: &fakeVision{err: errors.New("quota exceeded")}}
		target := visionTarget(1)
		target.Job.QA.FailOnAiError = true

		r, err := layer.Run(context.Background(), target, cfg)
		require.NoError(t, err)

		assertFinding(t, r, scorecard.SeverityCritical, "critique failed")
		assert.True(t, r.BlocksGate())
	})

	t.Run("dry run provider satisfies its own gate", func(t *testing.T) {
		layer := &AIVision{Provider: vision.NewDryRun(0.92)}
		strict := cfg
		strict.MinScore = 0.92

		r, err := layer.Run(context.Background(), visionTarget(1), strict)
		require.NoError(t, err)

		assert.True(t, r.DryRun)
		assert.GreaterOrEqual(t, r.Score, 0.92)
		assert.True(t, r.Passed)
	})

	t.Run("page sample is capped", func(t *testing.T) {
		provider := &fakeVision{critique: &vision.Critique{Score: 1}}
		layer := &AIVision{Provider: provider}

		_, err := layer.Run(context.Background(), visionTarget(12), cfg)
		require.NoError(t, err)

		require.Len(t, provider.batches, 1)
		assert.Len(t, provider.batches[0], maxCritiquePages)
	})

	t.Run("nil provider is a configuration error", func(t *testing.T) {
		layer := &AIVision{}

		_, err := layer.Run(context.Background(), visionTarget(1), cfg)

		var cerr *ConfigurationError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, job.LayerAIVision, cerr.Layer)
	})
}
