package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"brandforge/internal/artifact"
	"brandforge/internal/experiment"
	"brandforge/internal/job"
	"brandforge/internal/logging"
	"brandforge/internal/report"
	"brandforge/internal/scorecard"
	"brandforge/internal/validation"
	"brandforge/internal/worker"
)

func runJob(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	j, err := loadJob(args[0])
	if err != nil {
		return reportConfigFailure(args[0], err)
	}
	if j.EffectiveMode() == job.ModeExperiment {
		return runExperimentJob(ctx, j)
	}
	return runSingle(ctx, j)
}

func runExperiment(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	j, err := loadJob(args[0])
	if err != nil {
		return reportConfigFailure(args[0], err)
	}
	if j.Experiment == nil {
		return reportConfigFailure(args[0], fmt.Errorf("job %s has no experiment block", j.JobID))
	}
	return runExperimentJob(ctx, j)
}

func runSingle(ctx context.Context, j *job.Job) error {
	p, err := buildPipeline(ctx)
	if err != nil {
		return infraFailure(j, err)
	}
	defer p.Close()

	sc, runErr := p.router.RunJob(ctx, j)
	emit(sc, j.Report.HistoryEnabled())
	if runErr != nil {
		logging.Get(logging.CategoryBoot).Errorw("run failed",
			"jobId", j.JobID, "err", runErr)
	}
	if sc.ExitCode != scorecard.ExitOK {
		return &exitCodeError{code: sc.ExitCode}
	}
	return nil
}

func runExperimentJob(ctx context.Context, j *job.Job) error {
	p, err := buildPipeline(ctx)
	if err != nil {
		return infraFailure(j, err)
	}
	defer p.Close()

	sum, err := experiment.NewHarness(p.router).Run(ctx, j)
	if err != nil {
		return infraFailure(j, err)
	}

	report.ExperimentConsole(os.Stderr, sum, !flagCI)
	w := report.NewWriter(flagReportDir)
	if _, werr := w.WriteExperiment(sum); werr != nil {
		logging.Get(logging.CategoryReport).Warnw("experiment summary write failed",
			"parentJobId", sum.ParentJobID, "err", werr)
	}
	if j.Report.HistoryEnabled() {
		cards := make([]*scorecard.Scorecard, 0, len(sum.Variants))
		for i := range sum.Variants {
			cards = append(cards, sum.Variants[i].Scorecard)
		}
		recordHistory(cards...)
	}

	// The winner's own scorecard carries the experiment's exit code.
	win := sum.Winner()
	if win == nil || win.Scorecard == nil {
		return &exitCodeError{code: scorecard.ExitInfra, msg: "experiment produced no scorecard"}
	}
	if code := win.Scorecard.ExitCode; code != scorecard.ExitOK {
		return &exitCodeError{code: code}
	}
	return nil
}

func runValidateOnly(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	j, err := loadJob(flagJobConfig)
	if err != nil {
		return reportConfigFailure(flagJobConfig, err)
	}

	stack, err := buildValidationStack(ctx)
	if err != nil {
		return infraFailure(j, err)
	}

	stats, err := stack.pdf.Info(ctx, flagPDF)
	if err != nil {
		sc := scorecard.Failure(j.JobID, worker.CategoryIO.String(), err)
		emit(sc, j.Report.HistoryEnabled())
		return &exitCodeError{code: sc.ExitCode, msg: err.Error()}
	}
	art, err := artifact.New(flagPDF, artifact.Meta{
		PageCount: stats.Pages,
		Intent:    j.EffectiveIntent(),
		Worker:    "external",
	})
	if err != nil {
		sc := scorecard.Failure(j.JobID, worker.CategoryIO.String(), err)
		emit(sc, j.Report.HistoryEnabled())
		return &exitCodeError{code: sc.ExitCode, msg: err.Error()}
	}

	// No Refit here: the PDF was produced elsewhere, so the color auto-fix
	// retry has nothing to re-export.
	engine := validation.NewEngine(stack.layers, validation.Options{ReportDir: flagReportDir})
	sc, err := engine.Run(ctx, &validation.Target{
		Artifact:  art,
		Job:       j,
		PDF:       stack.pdf,
		Raster:    stack.raster,
		ReportDir: flagReportDir,
	})
	if err != nil {
		category := worker.CategoryIO
		var ce *validation.ConfigurationError
		if errors.As(err, &ce) {
			category = worker.CategoryConfig
		}
		sc = scorecard.Failure(j.JobID, category.String(), err)
		sc.ArtifactPath = flagPDF
		emit(sc, j.Report.HistoryEnabled())
		return &exitCodeError{code: sc.ExitCode, msg: err.Error()}
	}

	emit(sc, j.Report.HistoryEnabled())
	if sc.ExitCode != scorecard.ExitOK {
		return &exitCodeError{code: sc.ExitCode}
	}
	return nil
}

// loadJob reads and validates the config, then applies CLI overrides.
func loadJob(path string) (*job.Job, error) {
	j, warnings, err := job.Load(path, job.LoadOptions{Strict: flagStrict})
	if err != nil {
		return nil, err
	}
	log := logging.Get(logging.CategoryBoot)
	for _, w := range warnings {
		log.Warnw("job config", "path", path, "warning", w)
	}
	if flagThreshold >= 0 {
		if flagThreshold > scorecard.MaxOverall {
			return nil, fmt.Errorf("--threshold %.2f outside rubric range [0,%.0f]",
				flagThreshold, scorecard.MaxOverall)
		}
		j.QA.Threshold = flagThreshold
	}
	return j, nil
}

// reportConfigFailure emits a partial scorecard for a job that never ran.
// The job id falls back to the config filename stem.
func reportConfigFailure(path string, err error) error {
	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	sc := scorecard.Failure(id, worker.CategoryConfig.String(), err)
	emit(sc, true)
	return &exitCodeError{code: sc.ExitCode, msg: err.Error()}
}

// infraFailure emits a partial scorecard for a pipeline that could not be
// assembled or aborted before producing one.
func infraFailure(j *job.Job, err error) error {
	sc := scorecard.Failure(j.JobID, worker.CategoryConfig.String(), err)
	emit(sc, j.Report.HistoryEnabled())
	return &exitCodeError{code: sc.ExitCode, msg: err.Error()}
}

// emit drives every report sink for one scorecard.
func emit(sc *scorecard.Scorecard, recordRun bool) {
	report.Console(os.Stderr, sc, !flagCI)

	log := logging.Get(logging.CategoryReport)
	if _, err := report.NewWriter(flagReportDir).WriteScorecard(sc); err != nil {
		log.Warnw("report write failed", "jobId", sc.JobID, "err", err)
	}
	if recordRun {
		recordHistory(sc)
	}
}

func recordHistory(cards ...*scorecard.Scorecard) {
	log := logging.Get(logging.CategoryReport)
	h, err := report.OpenHistory(filepath.Join(flagReportDir, "history.db"))
	if err != nil {
		log.Warnw("history open failed", "err", err)
		return
	}
	defer h.Close()
	for _, sc := range cards {
		if sc == nil {
			continue
		}
		if err := h.Record(sc); err != nil {
			log.Warnw("history record failed", "jobId", sc.JobID, "err", err)
		}
	}
}
