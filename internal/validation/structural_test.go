package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandforge/internal/pdftool"
	"brandforge/internal/scorecard"
)

// wellFormedLayout is a single letter page with a title, a heading, three
// body lines and a caption. Median line height lands on the body's 12pt.
func wellFormedLayout() *pdftool.Layout {
	return &pdftool.Layout{Pages: []pdftool.LayoutPage{
		layoutPage(612, 792,
			lineBlock(72, 72, 540, 108, "Quarterly", "Impact"),
			lineBlock(72, 150, 300, 168, "Highlights"),
			lineBlock(72, 200, 540, 212, "body", "one"),
			lineBlock(72, 220, 540, 232, "body", "two"),
			lineBlock(72, 240, 540, 252, "body", "three"),
			lineBlock(72, 700, 200, 709, "caption"),
		),
	}}
}

func TestStructuralLayer(t *testing.T) {
	layer := &Structural{}
	cfg := ResolveSettings(testJobForLayers())[layer.Name()]

	t.Run("well formed document scores full", func(t *testing.T) {
		target := &Target{
			Artifact: testArtifact(1),
			Job:      testJobForLayers(),
			PDF: &fakePDF{
				layout: wellFormedLayout(),
				images: []pdftool.ImageInfo{{Page: 1, Num: 0, Width: 800, Height: 600}},
			},
		}

		r, err := layer.Run(context.Background(), target, cfg)
		require.NoError(t, err)

		assert.InDelta(t, 1.0, r.Score, 0.001)
		assert.True(t, r.Passed)
		require.Len(t, r.SubScores, 3)
		assert.InDelta(t, 1.0, subScore(t, r, "hierarchy").Score, 0.001)
		assert.InDelta(t, 1.0, subScore(t, r, "spatial").Score, 0.001)
		assert.InDelta(t, 1.0, subScore(t, r, "semantic_roles").Score, 0.001)
	})

	t.Run("empty text layer is critical", func(t *testing.T) {
		target := &Target{
			Artifact: testArtifact(1),
			Job:      testJobForLayers(),
			PDF:      &fakePDF{layout: &pdftool.Layout{}},
		}

		r, err := layer.Run(context.Background(), target, cfg)
		require.NoError(t, err)

		assert.Zero(t, r.Score)
		assert.False(t, r.Passed)
		assert.True(t, r.HasCritical())
	})

	t.Run("flat hierarchy drops below the gate", func(t *testing.T) {
		flat := &pdftool.Layout{Pages: []pdftool.LayoutPage{
			layoutPage(612, 792,
				lineBlock(72, 200, 540, 212, "body", "one"),
				lineBlock(72, 220, 540, 232, "body", "two"),
				lineBlock(72, 240, 540, 252, "body", "three"),
			),
		}}
		target := &Target{
			Artifact: testArtifact(1),
			Job:      testJobForLayers(),
			PDF:      &fakePDF{layout: flat},
		}

		r, err := layer.Run(context.Background(), target, cfg)
		require.NoError(t, err)

		// hierarchy 0.3, spatial 1.0, roles 1/4.
		assert.InDelta(t, 0.53, r.Score, 0.005)
		assert.False(t, r.Passed)
	})

	t.Run("overlapping blocks are penalized", func(t *testing.T) {
		overlapping := &pdftool.Layout{Pages: []pdftool.LayoutPage{
			layoutPage(612, 792,
				lineBlock(100, 100, 300, 112, "alpha"),
				lineBlock(200, 106, 400, 118, "beta"),
			),
		}}
		target := &Target{
			Artifact: testArtifact(1),
			Job:      testJobForLayers(),
			PDF:      &fakePDF{layout: overlapping},
		}

		r, err := layer.Run(context.Background(), target, cfg)
		require.NoError(t, err)

		assert.InDelta(t, 0.9, subScore(t, r, "spatial").Score, 0.001)
		assertFinding(t, r, scorecard.SeverityWarning, "overlapping text blocks")
	})

	t.Run("text hugging the page edge is flagged", func(t *testing.T) {
		edged := &pdftool.Layout{Pages: []pdftool.LayoutPage{
			layoutPage(612, 792,
				lineBlock(2, 100, 300, 112, "bleeding"),
				lineBlock(72, 200, 540, 212, "safe"),
			),
		}}
		target := &Target{
			Artifact: testArtifact(1),
			Job:      testJobForLayers(),
			PDF:      &fakePDF{layout: edged},
		}

		r, err := layer.Run(context.Background(), target, cfg)
		require.NoError(t, err)

		assert.InDelta(t, 0.9, subScore(t, r, "spatial").Score, 0.001)
		assertFinding(t, r, scorecard.SeverityWarning, "page edge")
	})
}
