package validation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandforge/internal/a11y"
	"brandforge/internal/job"
	"brandforge/internal/scorecard"
)

type fakeA11y struct {
	result    *a11y.Result
	err       error
	standards []string
	outputs   []string
}

func (f *fakeA11y) Name() string { return "fake-a11y" }

func (f *fakeA11y) Remediate(_ context.Context, _, standard, outputPath string) (*a11y.Result, error) {
	f.standards = append(f.standards, standard)
	f.outputs = append(f.outputs, outputPath)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestAccessibilityLayer(t *testing.T) {
	cfg := ResolveSettings(testJobForLayers())[job.LayerAccessibility]

	t.Run("remediation result maps into the layer", func(t *testing.T) {
		provider := &fakeA11y{result: &a11y.Result{
			Score:          0.9,
			Standard:       "pdf-ua-1",
			Issues:         []string{"table missing header cells"},
			RemediatedPath: "/tmp/job-1-print-remediated.pdf",
		}}
		layer := &Accessibility{Provider: provider}
		target := &Target{Artifact: testArtifact(1), Job: testJobForLayers()}

		r, err := layer.Run(context.Background(), target, cfg)
		require.NoError(t, err)

		assert.InDelta(t, 0.9, r.Score, 0.001)
		assert.True(t, r.Passed)
		assertFinding(t, r, scorecard.SeverityWarning, "table missing header cells")
		assertFinding(t, r, scorecard.SeverityInfo, "pdf-ua-1 conformance")
		assert.Contains(t, r.Artifacts, "/tmp/job-1-print-remediated.pdf")

		require.Len(t, provider.standards, 1)
		assert.Equal(t, a11y.DefaultStandard, provider.standards[0])
		assert.Equal(t, "/tmp/job-1-print-remediated.pdf", provider.outputs[0])
	})

	t.Run("standard option overrides the default", func(t *testing.T) {
		provider := &fakeA11y{result: &a11y.Result{Score: 1, Standard: "wcag2aa"}}
		layer := &Accessibility{Provider: provider}
		custom := cfg
		custom.Options = map[string]any{"standard": "wcag2aa"}
		target := &Target{Artifact: testArtifact(1), Job: testJobForLayers()}

		_, err := layer.Run(context.Background(), target, custom)
		require.NoError(t, err)

		assert.Equal(t, []string{"wcag2aa"}, provider.standards)
	})

	t.Run("remediation failure gates the run", func(t *testing.T) {
		layer := &Accessibility{Provider: &fakeA11y{err: errors.New("service down")}}
		target := &Target{Artifact: testArtifact(1), Job: testJobForLayers()}

		r, err := layer.Run(context.Background(), target, cfg)
		require.NoError(t, err)

		assert.False(t, r.Passed)
		assert.Contains(t, r.LayerErr, "service down")
		assertFinding(t, r, scorecard.SeverityCritical, "remediation failed")
		assert.True(t, r.BlocksGate())
	})

	t.Run("dry run provider satisfies its own gate", func(t *testing.T) {
		layer := &Accessibility{Provider: a11y.NewDryRun(0.80)}
		target := &Target{Artifact: testArtifact(1), Job: testJobForLayers()}

		r, err := layer.Run(context.Background(), target, cfg)
		require.NoError(t, err)

		assert.True(t, r.DryRun)
		assert.True(t, r.Passed)
	})

	t.Run("nil provider is a configuration error", func(t *testing.T) {
		layer := &Accessibility{}
		target := &Target{Artifact: testArtifact(1), Job: testJobForLayers()}

		_, err := layer.Run(context.Background(), target, cfg)

		var cerr *ConfigurationError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, job.LayerAccessibility, cerr.Layer)
	})
}
