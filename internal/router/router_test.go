package router

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandforge/internal/artifact"
	"brandforge/internal/job"
	"brandforge/internal/scorecard"
	"brandforge/internal/validation"
	"brandforge/internal/worker"
)

// layerStep scripts one Run of a scriptedLayer.
type layerStep struct {
	score    float64
	passed   bool
	critical bool
}

// scriptedLayer replays scripted results; the last step repeats. Run counts
// are atomic because only production is serialized, not validation.
type scriptedLayer struct {
	id, name string
	steps    []layerStep
	runs     atomic.Int32
}

func (l *scriptedLayer) ID() string   { return l.id }
func (l *scriptedLayer) Name() string { return l.name }

func (l *scriptedLayer) Run(_ context.Context, _ *validation.Target, cfg validation.Settings) (*scorecard.LayerResult, error) {
	n := int(l.runs.Add(1)) - 1
	step := l.steps[min(n, len(l.steps)-1)]
	r := &scorecard.LayerResult{
		LayerID:  l.id,
		Name:     l.name,
		Score:    step.score,
		MaxScore: cfg.MaxScore,
		MinScore: cfg.MinScore,
		Weight:   cfg.Weight,
		Passed:   step.passed,
	}
	if step.critical {
		r.Findings = append(r.Findings, scorecard.Finding{
			Severity: scorecard.SeverityCritical,
			Category: "color",
			Message:  "forbidden color present",
		})
	}
	return r, nil
}

// erroringLayer aborts the engine run.
type erroringLayer struct{ err error }

func (l *erroringLayer) ID() string   { return validation.IDStructural }
func (l *erroringLayer) Name() string { return job.LayerStructural }

func (l *erroringLayer) Run(context.Context, *validation.Target, validation.Settings) (*scorecard.LayerResult, error) {
	return nil, l.err
}

// scriptedWorker produces stub artifacts and records concurrency.
type scriptedWorker struct {
	t    *testing.T
	name string

	fail  error
	delay time.Duration
	// gateHeld, when set, asserts the layout gate is held for every Execute.
	gateHeld *Gate
	barrier  *sync.WaitGroup

	mu    sync.Mutex
	execs []worker.ExecuteOptions

	cur, maxSeen atomic.Int32
}

func (w *scriptedWorker) Name() string { return w.name }

func (w *scriptedWorker) Execute(ctx context.Context, j *job.Job, opts worker.ExecuteOptions) (*artifact.Artifact, error) {
	cur := w.cur.Add(1)
	defer w.cur.Add(-1)
	for {
		seen := w.maxSeen.Load()
		if cur <= seen || w.maxSeen.CompareAndSwap(seen, cur) {
			break
		}
	}

	if w.gateHeld != nil && w.gateHeld.TryAcquire() {
		w.gateHeld.Release()
		w.t.Error("layout gate was not held during Execute")
	}
	if w.barrier != nil {
		w.barrier.Done()
		w.barrier.Wait()
	}
	if w.delay > 0 {
		select {
		case <-time.After(w.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	w.mu.Lock()
	w.execs = append(w.execs, opts)
	w.mu.Unlock()

	if w.fail != nil {
		return nil, w.fail
	}
	if err := os.WriteFile(opts.OutputPath, []byte("%PDF-1.7 stub"), 0o644); err != nil {
		return nil, err
	}
	return artifact.New(opts.OutputPath, artifact.Meta{
		PageCount:  2,
		Intent:     j.EffectiveIntent(),
		Worker:     w.name,
		Preset:     worker.EffectivePreset(j),
		DocumentID: "doc-1",
	})
}

func passingLayers() []validation.Layer {
	return []validation.Layer{
		&scriptedLayer{id: validation.IDContent, name: job.LayerContent, steps: []layerStep{{score: 150, passed: true}}},
	}
}

func testJob(id string) *job.Job {
	return &job.Job{
		JobID:   id,
		Export:  job.ExportConfig{Intent: job.IntentScreen},
		Content: map[string]any{"templatePath": "/t/a.indd"},
	}
}

func newTestRouter(t *testing.T, w worker.Worker, layers []validation.Layer) (*Router, *Gate) {
	t.Helper()
	gate := NewGate()
	r := New(worker.NewRegistry(w), layers, nil, nil, Options{
		OutDir: t.TempDir(),
		Gate:   gate,
	})
	return r, gate
}

func TestRoute(t *testing.T) {
	rules := DefaultRules()

	name, rule := Route(rules, &job.Job{JobType: "report"})
	assert.Equal(t, worker.NameService, name)
	assert.Equal(t, "reports-render-serverless", rule)

	name, rule = Route(rules, &job.Job{JobType: "brochure"})
	assert.Equal(t, DefaultWorker, name)
	assert.Empty(t, rule)
}

func TestRunJob(t *testing.T) {
	w := &scriptedWorker{t: t, name: worker.NameLayout}
	r, gate := newTestRouter(t, w, passingLayers())
	w.gateHeld = gate

	sc, err := r.RunJob(context.Background(), testJob("happy-1"))
	require.NoError(t, err)

	assert.True(t, sc.OverallPassed)
	assert.Equal(t, scorecard.ExitOK, sc.ExitCode)
	assert.Equal(t, worker.NameLayout, sc.Provenance.Worker)
	assert.Equal(t, "happy-1-screen.pdf", filepath.Base(sc.ArtifactPath))
	assert.FileExists(t, sc.ArtifactPath)

	require.Len(t, w.execs, 1)
	assert.False(t, w.execs[0].ColorFix)
}

func TestRunJobUnknownWorker(t *testing.T) {
	r := New(worker.NewRegistry(), passingLayers(), nil, nil, Options{OutDir: t.TempDir(), Gate: NewGate()})

	sc, err := r.RunJob(context.Background(), testJob("orphan"))
	require.Error(t, err)

	assert.Equal(t, scorecard.ExitInfra, sc.ExitCode)
	assert.Equal(t, scorecard.CategoryConfiguration, sc.ErrorCategory)
	assert.Equal(t, worker.NameLayout, sc.Provenance.Worker)
}

func TestRunJobWorkerFailure(t *testing.T) {
	w := &scriptedWorker{t: t, name: worker.NameLayout,
		fail: &worker.Error{Category: worker.CategoryScript, Err: assert.AnError}}
	r, _ := newTestRouter(t, w, passingLayers())

	sc, err := r.RunJob(context.Background(), testJob("broken-script"))
	require.Error(t, err)

	assert.Equal(t, scorecard.ExitValidationFailed, sc.ExitCode)
	assert.Equal(t, "script", sc.ErrorCategory)
	assert.Equal(t, "F", sc.Verdict)
	assert.Equal(t, worker.NameLayout, sc.Provenance.Worker)
	assert.Equal(t, worker.PresetScreen, sc.Provenance.Preset)
	assert.Empty(t, sc.ArtifactPath)
}

func TestRunJobValidationAbort(t *testing.T) {
	w := &scriptedWorker{t: t, name: worker.NameLayout}
	layers := []validation.Layer{&erroringLayer{
		err: &validation.ConfigurationError{Layer: job.LayerStructural, Err: assert.AnError},
	}}
	r, _ := newTestRouter(t, w, layers)

	sc, err := r.RunJob(context.Background(), testJob("misconfigured"))
	require.Error(t, err)

	assert.Equal(t, scorecard.ExitInfra, sc.ExitCode)
	assert.Equal(t, scorecard.CategoryConfiguration, sc.ErrorCategory)
	assert.NotEmpty(t, sc.ArtifactPath, "artifact was produced before validation died")
	assert.Equal(t, "doc-1", sc.Provenance.DocumentID)
}

func TestRunJobBudget(t *testing.T) {
	w := &scriptedWorker{t: t, name: worker.NameLayout, delay: 5 * time.Second}
	r, _ := newTestRouter(t, w, passingLayers())

	j := testJob("slowpoke")
	j.BudgetSeconds = 1

	start := time.Now()
	sc, err := r.RunJob(context.Background(), j)
	require.Error(t, err)

	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, scorecard.ExitInfra, sc.ExitCode)
	assert.Equal(t, scorecard.CategoryTransport, sc.ErrorCategory)
}

func TestRunJobSerializesLayoutWorker(t *testing.T) {
	w := &scriptedWorker{t: t, name: worker.NameLayout, delay: 50 * time.Millisecond}
	r, _ := newTestRouter(t, w, passingLayers())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := []string{"par-a", "par-b", "par-c"}[i]
			sc, err := r.RunJob(context.Background(), testJob(id))
			assert.NoError(t, err)
			assert.True(t, sc.OverallPassed)
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, w.maxSeen.Load(), "layout application must never see concurrent commands")
	assert.Len(t, w.execs, 3)
}

func TestRunJobServiceWorkerRunsConcurrently(t *testing.T) {
	var barrier sync.WaitGroup
	barrier.Add(2)
	w := &scriptedWorker{t: t, name: worker.NameService, barrier: &barrier}
	r, _ := newTestRouter(t, w, passingLayers())

	var wg sync.WaitGroup
	for _, id := range []string{"rep-a", "rep-b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			j := testJob(id)
			j.JobType = "report"
			_, err := r.RunJob(context.Background(), j)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	assert.EqualValues(t, 2, w.maxSeen.Load(), "service renders are not gated")
}

func TestRunJobColorAutoFix(t *testing.T) {
	w := &scriptedWorker{t: t, name: worker.NameLayout}
	content := &scriptedLayer{
		id:   validation.IDContent,
		name: job.LayerContent,
		steps: []layerStep{
			{score: 80, passed: false, critical: true},
			{score: 148, passed: true},
		},
	}
	r, gate := newTestRouter(t, w, []validation.Layer{content})
	w.gateHeld = gate

	j := testJob("refit-me")
	j.QA.AutoFixColors = true

	sc, err := r.RunJob(context.Background(), j)
	require.NoError(t, err)

	require.Len(t, w.execs, 2, "initial export plus the color-fix re-export")
	assert.False(t, w.execs[0].ColorFix)
	assert.True(t, w.execs[1].ColorFix)
	assert.Equal(t, w.execs[0].OutputPath, w.execs[1].OutputPath, "refit overwrites the same artifact")

	lr, ok := sc.Layer(validation.IDContent)
	require.True(t, ok)
	assert.Equal(t, 148.0, lr.Score)
	require.NotNil(t, lr.FirstAttemptScore)
	assert.Equal(t, 80.0, *lr.FirstAttemptScore)
	assert.EqualValues(t, 2, content.runs.Load())
}

func TestRunJobNoAutoFixForServiceWorker(t *testing.T) {
	w := &scriptedWorker{t: t, name: worker.NameService}
	content := &scriptedLayer{
		id:    validation.IDContent,
		name:  job.LayerContent,
		steps: []layerStep{{score: 80, passed: false, critical: true}},
	}
	r, _ := newTestRouter(t, w, []validation.Layer{content})

	j := testJob("report-no-refit")
	j.JobType = "report"
	j.QA.AutoFixColors = true

	sc, err := r.RunJob(context.Background(), j)
	require.NoError(t, err)

	assert.Len(t, w.execs, 1, "no refit without the layout worker")
	assert.False(t, sc.OverallPassed)
	assert.EqualValues(t, 1, content.runs.Load())
}
