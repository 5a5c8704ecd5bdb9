package validation

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandforge/internal/scorecard"
)

// visualFixture seeds a report dir with a baseline and returns the matching
// target wiring. Baseline and current pages start out identical.
func visualFixture(t *testing.T, baselinePages, artifactPages int) (*Target, Settings) {
	t.Helper()
	reportDir := t.TempDir()
	baselineDir := filepath.Join(reportDir, "baselines", "brand-v1")
	require.NoError(t, os.MkdirAll(baselineDir, 0o755))

	red := color.RGBA{R: 0xd6, G: 0x28, B: 0x28, A: 0xff}
	for i := 1; i <= baselinePages; i++ {
		writeSolidPNG(t, baselineDir, pageName(i), red)
	}

	currentDir := t.TempDir()
	current := make([]string, 0, artifactPages)
	for i := 1; i <= artifactPages; i++ {
		current = append(current, writeSolidPNG(t, currentDir, pageName(i), red))
	}

	j := testJobForLayers()
	j.QA.VisualBaseline = "brand-v1"
	target := &Target{
		Artifact:  testArtifact(artifactPages),
		Job:       j,
		Raster:    &fakeRaster{pages: current},
		ReportDir: reportDir,
	}
	cfg := ResolveSettings(j)[(&VisualDiff{}).Name()]
	return target, cfg
}

func pageName(i int) string {
	return fmt.Sprintf("page-%d.png", i)
}

func TestVisualDiffLayer(t *testing.T) {
	layer := &VisualDiff{}

	t.Run("no baseline id skips benignly", func(t *testing.T) {
		target, cfg := visualFixture(t, 1, 1)
		target.Job.QA.VisualBaseline = ""

		r, err := layer.Run(context.Background(), target, cfg)
		require.NoError(t, err)

		assert.True(t, r.Skipped)
		assert.Equal(t, scorecard.SkipNoBaseline, r.SkipReason)
		assert.True(t, r.Passed)
		assert.InDelta(t, r.MaxScore, r.Score, 0.001)
	})

	t.Run("absent baseline directory skips benignly", func(t *testing.T) {
		target, cfg := visualFixture(t, 1, 1)
		target.Job.QA.VisualBaseline = "never-captured"

		r, err := layer.Run(context.Background(), target, cfg)
		require.NoError(t, err)

		assert.True(t, r.Skipped)
		assert.Equal(t, scorecard.SkipNoBaseline, r.SkipReason)
	})

	t.Run("identical pages pass clean", func(t *testing.T) {
		target, cfg := visualFixture(t, 2, 2)

		r, err := layer.Run(context.Background(), target, cfg)
		require.NoError(t, err)

		assert.False(t, r.Skipped)
		assert.True(t, r.Passed)
		assert.InDelta(t, 1.0, r.Score, 0.001)
		assert.Zero(t, subScore(t, r, "max_diff_percent").Score)
	})

	t.Run("diverging page fails the gate", func(t *testing.T) {
		target, cfg := visualFixture(t, 1, 1)
		blue := writeSolidPNG(t, t.TempDir(), "page-1.png", color.RGBA{B: 0xff, A: 0xff})
		target.Raster = &fakeRaster{pages: []string{blue}}

		r, err := layer.Run(context.Background(), target, cfg)
		require.NoError(t, err)

		assert.Zero(t, r.Score)
		assert.False(t, r.Passed)
		assert.InDelta(t, 100.0, subScore(t, r, "max_diff_percent").Score, 0.001)
		assertFinding(t, r, scorecard.SeverityCritical, "differs from baseline")
	})

	t.Run("missing baseline page is critical", func(t *testing.T) {
		target, cfg := visualFixture(t, 1, 2)

		r, err := layer.Run(context.Background(), target, cfg)
		require.NoError(t, err)

		assert.Zero(t, r.Score)
		assertFinding(t, r, scorecard.SeverityCritical, "no baseline image")
	})

	t.Run("extra baseline pages are critical", func(t *testing.T) {
		target, cfg := visualFixture(t, 2, 1)

		r, err := layer.Run(context.Background(), target, cfg)
		require.NoError(t, err)

		assert.Zero(t, r.Score)
		assertFinding(t, r, scorecard.SeverityCritical, "more pages than the artifact")
	})
}
