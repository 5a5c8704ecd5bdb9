package validation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandforge/internal/artifact"
	"brandforge/internal/job"
	"brandforge/internal/scorecard"
)

// stubStep scripts one Run invocation of a stubLayer.
type stubStep struct {
	score    float64
	critical bool
	layerErr string
	err      error
}

// stubLayer replays scripted results and records the artifact it saw.
type stubLayer struct {
	id, name string
	steps    []stubStep
	runs     int
	paths    []string
}

func (s *stubLayer) ID() string   { return s.id }
func (s *stubLayer) Name() string { return s.name }

func (s *stubLayer) Run(_ context.Context, t *Target, cfg Settings) (*scorecard.LayerResult, error) {
	i := s.runs
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.runs++
	s.paths = append(s.paths, t.Artifact.Path)

	step := s.steps[i]
	if step.err != nil {
		return nil, step.err
	}
	r := newResult(s.id, s.name, cfg)
	r.Score = step.score
	if step.critical {
		r.Findings = append(r.Findings, scorecard.Finding{
			Severity: scorecard.SeverityCritical,
			Category: "test",
			Message:  "scripted failure",
		})
	}
	if step.layerErr != "" {
		r.LayerErr = step.layerErr
		return r, nil
	}
	return finish(r), nil
}

func passing(name string) *stubLayer {
	id := map[string]string{
		job.LayerStructural:    IDStructural,
		job.LayerContent:       IDContent,
		job.LayerPDFQuality:    IDPDFQuality,
		job.LayerVisual:        IDVisual,
		job.LayerAIVision:      IDAIVision,
		job.LayerAccessibility: IDAccessibility,
	}[name]
	score := 1.0
	if name == job.LayerContent {
		score = 150
	}
	return &stubLayer{id: id, name: name, steps: []stubStep{{score: score}}}
}

func allPassing() []Layer {
	layers := make([]Layer, 0, len(job.LayerOrder))
	for _, name := range job.LayerOrder {
		layers = append(layers, passing(name))
	}
	return layers
}

func engineJob() *job.Job {
	return &job.Job{
		JobID:  "job-1",
		Export: job.ExportConfig{Intent: job.IntentPrint},
		QA:     job.QAConfig{Threshold: 140},
	}
}

func engineTarget(j *job.Job) *Target {
	return &Target{
		Artifact: &artifact.Artifact{Path: "/tmp/job-1-print.pdf", PageCount: 2, Intent: "print"},
		Job:      j,
	}
}

func TestEngineRun(t *testing.T) {
	t.Run("all layers passing reaches a perfect scorecard", func(t *testing.T) {
		reportDir := t.TempDir()
		e := NewEngine(allPassing(), Options{ReportDir: reportDir})
		j := engineJob()

		sc, err := e.Run(context.Background(), engineTarget(j))
		require.NoError(t, err)

		assert.InDelta(t, 150.0, sc.Overall, 0.001)
		assert.Equal(t, "A+", sc.Verdict)
		assert.True(t, sc.OverallPassed)
		assert.Equal(t, scorecard.ExitOK, sc.ExitCode)
		require.Len(t, sc.PerLayer, 6)

		// One subreport per layer.
		path := filepath.Join(reportDir, job.LayerContent, "job-1-content.json")
		_, statErr := os.Stat(path)
		assert.NoError(t, statErr)
	})

	t.Run("critical failure trips fail-fast", func(t *testing.T) {
		content := passing(job.LayerContent)
		content.steps = []stubStep{{score: 80, critical: true}}
		quality := passing(job.LayerPDFQuality)
		e := NewEngine([]Layer{passing(job.LayerStructural), content, quality}, Options{})
		j := engineJob()

		sc, err := e.Run(context.Background(), engineTarget(j))
		require.NoError(t, err)

		assert.False(t, sc.OverallPassed)
		assert.Equal(t, scorecard.ExitValidationFailed, sc.ExitCode)
		assert.Zero(t, quality.runs)

		skipped := sc.PerLayer[2]
		assert.True(t, skipped.Skipped)
		assert.Equal(t, scorecard.SkipEarlierFailure, skipped.SkipReason)
		assert.False(t, skipped.Passed)
		assert.Zero(t, skipped.Score)
	})

	t.Run("failFast false runs every layer", func(t *testing.T) {
		content := passing(job.LayerContent)
		content.steps = []stubStep{{score: 80, critical: true}}
		quality := passing(job.LayerPDFQuality)
		e := NewEngine([]Layer{content, quality}, Options{})
		j := engineJob()
		j.QA.FailFast = boolPtr(false)

		sc, err := e.Run(context.Background(), engineTarget(j))
		require.NoError(t, err)

		assert.Equal(t, 1, quality.runs)
		assert.False(t, sc.OverallPassed)
	})

	t.Run("disabled layer skips benignly", func(t *testing.T) {
		acc := passing(job.LayerAccessibility)
		e := NewEngine([]Layer{acc}, Options{})
		j := engineJob()
		j.QA.Threshold = 5
		j.Layers = map[string]job.LayerConfig{
			job.LayerAccessibility: {Enabled: boolPtr(false)},
		}

		sc, err := e.Run(context.Background(), engineTarget(j))
		require.NoError(t, err)

		assert.Zero(t, acc.runs)
		r := sc.PerLayer[0]
		assert.True(t, r.Skipped)
		assert.Equal(t, scorecard.SkipDisabled, r.SkipReason)
		assert.True(t, r.Passed)
		assert.InDelta(t, r.MaxScore, r.Score, 0.001)
	})

	t.Run("tolerated provider error does not trip fail-fast", func(t *testing.T) {
		vision := passing(job.LayerAIVision)
		vision.steps = []stubStep{{score: 0, layerErr: "quota exceeded"}}
		acc := passing(job.LayerAccessibility)
		e := NewEngine([]Layer{vision, acc}, Options{})
		j := engineJob()
		j.QA.Threshold = 5

		sc, err := e.Run(context.Background(), engineTarget(j))
		require.NoError(t, err)

		assert.Equal(t, 1, acc.runs)
		assert.True(t, sc.OverallPassed)
		assert.Equal(t, scorecard.ExitOK, sc.ExitCode)
	})

	t.Run("layer infrastructure error aborts the run", func(t *testing.T) {
		broken := passing(job.LayerStructural)
		broken.steps = []stubStep{{err: &ConfigurationError{Layer: job.LayerStructural, Err: errors.New("boom")}}}
		e := NewEngine([]Layer{broken}, Options{})

		_, err := e.Run(context.Background(), engineTarget(engineJob()))

		var cerr *ConfigurationError
		require.ErrorAs(t, err, &cerr)
	})
}

func TestEngineAutoFix(t *testing.T) {
	t.Run("refit re-runs the content layer and keeps both scores", func(t *testing.T) {
		content := passing(job.LayerContent)
		content.steps = []stubStep{
			{score: 80, critical: true},
			{score: 142},
		}
		refitCalls := 0
		refit := func(context.Context, *job.Job) (*artifact.Artifact, error) {
			refitCalls++
			return &artifact.Artifact{Path: "/tmp/job-1-print-fixed.pdf", PageCount: 2, Intent: "print"}, nil
		}
		e := NewEngine([]Layer{content}, Options{Refit: refit})
		j := engineJob()
		j.QA.AutoFixColors = true
		// Single-layer engine: content contributes at most 0.35*150 = 52.5.
		j.QA.Threshold = 45

		sc, err := e.Run(context.Background(), engineTarget(j))
		require.NoError(t, err)

		assert.Equal(t, 1, refitCalls)
		assert.Equal(t, 2, content.runs)
		assert.Equal(t, []string{"/tmp/job-1-print.pdf", "/tmp/job-1-print-fixed.pdf"}, content.paths)

		r := sc.PerLayer[0]
		assert.InDelta(t, 142.0, r.Score, 0.001)
		require.NotNil(t, r.FirstAttemptScore)
		assert.InDelta(t, 80.0, *r.FirstAttemptScore, 0.001)
		assert.True(t, r.Passed)
		assert.True(t, sc.OverallPassed)
	})

	t.Run("refit failure keeps the first result", func(t *testing.T) {
		content := passing(job.LayerContent)
		content.steps = []stubStep{{score: 80, critical: true}}
		refit := func(context.Context, *job.Job) (*artifact.Artifact, error) {
			return nil, errors.New("export failed")
		}
		e := NewEngine([]Layer{content}, Options{Refit: refit})
		j := engineJob()
		j.QA.AutoFixColors = true

		sc, err := e.Run(context.Background(), engineTarget(j))
		require.NoError(t, err)

		assert.Equal(t, 1, content.runs)
		r := sc.PerLayer[0]
		assert.InDelta(t, 80.0, r.Score, 0.001)
		assert.Nil(t, r.FirstAttemptScore)
		assertFinding(t, &r, scorecard.SeverityWarning, "color auto-fix failed")
		assert.False(t, sc.OverallPassed)
	})

	t.Run("auto-fix disabled leaves the failure alone", func(t *testing.T) {
		content := passing(job.LayerContent)
		content.steps = []stubStep{{score: 80, critical: true}}
		refitCalls := 0
		refit := func(context.Context, *job.Job) (*artifact.Artifact, error) {
			refitCalls++
			return nil, nil
		}
		e := NewEngine([]Layer{content}, Options{Refit: refit})

		sc, err := e.Run(context.Background(), engineTarget(engineJob()))
		require.NoError(t, err)

		assert.Zero(t, refitCalls)
		assert.Equal(t, 1, content.runs)
		assert.False(t, sc.OverallPassed)
	})

	t.Run("missing refit callback disables auto-fix", func(t *testing.T) {
		content := passing(job.LayerContent)
		content.steps = []stubStep{{score: 80, critical: true}}
		e := NewEngine([]Layer{content}, Options{})
		j := engineJob()
		j.QA.AutoFixColors = true

		_, err := e.Run(context.Background(), engineTarget(j))
		require.NoError(t, err)

		assert.Equal(t, 1, content.runs)
	})
}
