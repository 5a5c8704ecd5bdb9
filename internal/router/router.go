// Package router decides which worker produces a job's document, serializes
// access to the desktop layout application, and shepherds one job through
// produce-then-validate. A failure at any stage still yields a scorecard so
// reports and CI exit codes have something to stand on.
package router

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"brandforge/internal/artifact"
	"brandforge/internal/job"
	"brandforge/internal/logging"
	"brandforge/internal/scorecard"
	"brandforge/internal/validation"
	"brandforge/internal/worker"
)

// DefaultWorker produces every job no rule claims.
const DefaultWorker = worker.NameLayout

// Rule routes matching jobs to a named worker.
type Rule struct {
	Name   string
	Reason string
	Match  func(j *job.Job) bool
	Worker string
}

// DefaultRules sends data-driven reports to the serverless renderer and
// leaves brand documents on the layout application.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:   "reports-render-serverless",
			Reason: "report jobs are data layouts the render service handles without the desktop application",
			Match:  func(j *job.Job) bool { return j.JobType == "report" },
			Worker: worker.NameService,
		},
	}
}

// Route resolves a job to a worker name; the second return names the matched
// rule, empty for the default.
func Route(rules []Rule, j *job.Job) (workerName, ruleName string) {
	for _, r := range rules {
		if r.Match != nil && r.Match(j) {
			return r.Worker, r.Name
		}
	}
	return DefaultWorker, ""
}

// Gate serializes commands against the desktop layout application. The
// application is a single-document-window process; two concurrent exports
// corrupt each other regardless of which goroutine asked.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate builds a gate admitting one holder.
func NewGate() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the gate is free or ctx is done. Waiters are served
// in FIFO order.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// TryAcquire takes the gate without blocking.
func (g *Gate) TryAcquire() bool {
	return g.sem.TryAcquire(1)
}

// Release frees the gate.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// layoutGate is process-global: however many routers exist, there is exactly
// one desktop application.
var layoutGate = NewGate()

// Options configure a Router.
type Options struct {
	// OutDir receives produced PDFs as <jobId>-<intent>.pdf.
	OutDir string
	// ReportDir receives per-layer subreports.
	ReportDir string
	// Rules override DefaultRules when non-nil.
	Rules []Rule
	// Bands override the verdict thresholds; zero value means defaults.
	Bands scorecard.VerdictBands
	// Gate overrides the process-global layout gate; tests only.
	Gate *Gate
}

// Router runs jobs end to end: route, produce behind the layout gate,
// validate, and classify failures.
type Router struct {
	workers *worker.Registry
	layers  []validation.Layer
	pdf     validation.Introspector
	raster  validation.PageRasterizer
	rules   []Rule
	gate    *Gate
	opts    Options
	log     *zap.SugaredLogger
}

// New builds a Router over registered workers and ordered validation layers.
func New(workers *worker.Registry, layers []validation.Layer, pdf validation.Introspector, raster validation.PageRasterizer, opts Options) *Router {
	rules := opts.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	gate := opts.Gate
	if gate == nil {
		gate = layoutGate
	}
	return &Router{
		workers: workers,
		layers:  layers,
		pdf:     pdf,
		raster:  raster,
		rules:   rules,
		gate:    gate,
		opts:    opts,
		log:     logging.Get(logging.CategoryRouter),
	}
}

// RunJob produces and validates one job inside its wall-clock budget. The
// scorecard is non-nil in every return; err is non-nil exactly when the run
// ended without a full validation pass over a produced artifact.
func (r *Router) RunJob(ctx context.Context, j *job.Job) (*scorecard.Scorecard, error) {
	started := time.Now().UTC()
	budget := time.Duration(j.EffectiveBudgetSeconds()) * time.Second
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	workerName, ruleName := Route(r.rules, j)
	w, ok := r.workers.Get(workerName)
	if !ok {
		err := fmt.Errorf("no %q worker registered (have: %s)",
			workerName, strings.Join(r.workers.Names(), ", "))
		return r.fail(j, started, scorecard.CategoryConfiguration, workerName, err), err
	}

	r.log.Infow("job routed",
		"jobId", j.JobID, "worker", workerName, "rule", ruleName,
		"intent", j.EffectiveIntent(), "budgetSeconds", j.EffectiveBudgetSeconds())

	outputPath := filepath.Join(r.opts.OutDir,
		fmt.Sprintf("%s-%s.pdf", j.JobID, j.EffectiveIntent()))

	art, err := r.produce(ctx, w, j, worker.ExecuteOptions{OutputPath: outputPath})
	if err != nil {
		r.log.Errorw("production failed", "jobId", j.JobID, "worker", workerName, "err", err)
		return r.fail(j, started, failureCategory(err), workerName, err), err
	}

	engineOpts := validation.Options{
		ReportDir: r.opts.ReportDir,
		Bands:     r.opts.Bands,
	}
	if workerName == worker.NameLayout {
		// The color auto-fix re-export overwrites the same artifact path and
		// re-enters the gate like any other layout command.
		engineOpts.Refit = func(ctx context.Context, j *job.Job) (*artifact.Artifact, error) {
			return r.produce(ctx, w, j, worker.ExecuteOptions{OutputPath: outputPath, ColorFix: true})
		}
	}

	sc, err := validation.NewEngine(r.layers, engineOpts).Run(ctx, &validation.Target{
		Artifact:  art,
		Job:       j,
		PDF:       r.pdf,
		Raster:    r.raster,
		ReportDir: r.opts.ReportDir,
	})
	if err != nil {
		r.log.Errorw("validation aborted", "jobId", j.JobID, "err", err)
		fsc := r.fail(j, started, failureCategory(err), workerName, err)
		fsc.Provenance = art.Provenance()
		fsc.ArtifactPath = art.Path
		return fsc, err
	}
	return sc, nil
}

// produce runs the worker, holding the layout gate for the desktop
// application's duration.
func (r *Router) produce(ctx context.Context, w worker.Worker, j *job.Job, opts worker.ExecuteOptions) (*artifact.Artifact, error) {
	if w.Name() == worker.NameLayout {
		if err := r.gate.Acquire(ctx); err != nil {
			return nil, &worker.Error{
				Category: worker.CategoryTransport,
				Err:      fmt.Errorf("awaiting layout application: %w", err),
			}
		}
		defer r.gate.Release()
	}
	return w.Execute(ctx, j, opts)
}

// fail builds the partial scorecard for a run that died before validation
// finished.
func (r *Router) fail(j *job.Job, started time.Time, category, workerName string, err error) *scorecard.Scorecard {
	sc := scorecard.Failure(j.JobID, category, err)
	sc.Mode = string(j.EffectiveMode())
	sc.Intent = string(j.EffectiveIntent())
	sc.Threshold = j.QA.Threshold
	sc.StartedAt = started
	sc.DurationMs = time.Since(started).Milliseconds()
	sc.Provenance.Worker = workerName
	sc.Provenance.Preset = worker.EffectivePreset(j)
	return sc
}

// failureCategory maps a pipeline error onto the scorecard taxonomy.
func failureCategory(err error) string {
	var werr *worker.Error
	if errors.As(err, &werr) {
		return string(werr.Category)
	}
	var cfgErr *validation.ConfigurationError
	if errors.As(err, &cfgErr) {
		return scorecard.CategoryConfiguration
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return scorecard.CategoryTransport
	}
	return scorecard.CategoryIO
}
