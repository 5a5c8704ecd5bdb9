package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"brandforge/internal/artifact"
	"brandforge/internal/job"
	"brandforge/internal/logging"
	"brandforge/internal/pdftool"
)

const (
	// minServiceBytes rejects response bodies too small to be a rendered
	// document.
	minServiceBytes = 4 << 10

	serviceTimeout = 120 * time.Second
)

// DocumentStater reads page counts off produced files; satisfied by
// *pdftool.Runner.
type DocumentStater interface {
	Info(ctx context.Context, pdfPath string) (*pdftool.DocumentStats, error)
}

// renderRequest is the payload the render endpoint consumes.
type renderRequest struct {
	JobID    string         `json:"jobId"`
	JobType  string         `json:"jobType,omitempty"`
	Intent   string         `json:"intent"`
	Preset   string         `json:"preset,omitempty"`
	PageSize string         `json:"pageSize,omitempty"`
	Content  map[string]any `json:"content,omitempty"`
}

// Service renders jobs through a serverless HTTP endpoint. A circuit breaker
// fails fast once the endpoint starts refusing work, so an experiment's
// remaining variants do not each wait out the full request timeout.
type Service struct {
	url     string
	httpc   *http.Client
	breaker *gobreaker.CircuitBreaker
	pdf     DocumentStater
	log     *zap.SugaredLogger
}

// NewService builds the service worker against the given endpoint URL.
func NewService(url string, pdf DocumentStater) *Service {
	log := logging.Get(logging.CategoryWorker)
	return &Service{
		url:   url,
		httpc: &http.Client{Timeout: serviceTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "render-service",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warnw("render service breaker state change",
					"breaker", name, "from", from.String(), "to", to.String())
			},
		}),
		pdf: pdf,
		log: log,
	}
}

// Name implements Worker.
func (s *Service) Name() string { return NameService }

// Execute implements Worker.
func (s *Service) Execute(ctx context.Context, j *job.Job, opts ExecuteOptions) (*artifact.Artifact, error) {
	if opts.OutputPath == "" {
		return nil, newError(CategoryIO, "service worker requires an output path")
	}
	if s.url == "" {
		return nil, newError(CategoryConfig, "no render service endpoint configured")
	}

	preset := EffectivePreset(j)
	payload, err := json.Marshal(renderRequest{
		JobID:    j.JobID,
		JobType:  j.JobType,
		Intent:   string(j.EffectiveIntent()),
		Preset:   preset,
		PageSize: j.Export.PageSize,
		Content:  j.Content,
	})
	if err != nil {
		return nil, newError(CategoryRemote, "encode render request: %v", err)
	}

	s.log.Infow("render request", "jobId", j.JobID, "endpoint", s.url, "bytes", len(payload))

	body, err := s.breaker.Execute(func() (interface{}, error) {
		return s.render(ctx, payload)
	})
	if err != nil {
		// An open breaker means the endpoint is already known to be down.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, newError(CategoryTransport, "render service unavailable: %v", err)
		}
		var werr *Error
		if errors.As(err, &werr) {
			return nil, err
		}
		return nil, newError(CategoryRemote, "%v", err)
	}
	data := body.([]byte)

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return nil, newError(CategoryIO, "output dir: %v", err)
	}
	if err := os.WriteFile(opts.OutputPath, data, 0o644); err != nil {
		return nil, newError(CategoryIO, "write %s: %v", opts.OutputPath, err)
	}

	pages := 0
	if s.pdf != nil {
		stats, err := s.pdf.Info(ctx, opts.OutputPath)
		if err != nil {
			return nil, newError(CategoryIO, "inspect rendered pdf: %v", err)
		}
		pages = stats.Pages
	}

	art, err := artifact.New(opts.OutputPath, artifact.Meta{
		PageCount: pages,
		Intent:    j.EffectiveIntent(),
		Worker:    NameService,
		Preset:    preset,
	})
	if err != nil {
		return nil, newError(CategoryIO, "%v", err)
	}
	s.log.Infow("render finished", "jobId", j.JobID, "pages", art.PageCount, "bytes", len(data))
	return art, nil
}

// render performs one POST and returns the PDF bytes. Every error counts as
// a breaker failure.
func (s *Service) render(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return nil, newError(CategoryRemote, "%v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/pdf")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, newError(CategoryTransport, "render request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, newError(CategoryRemote, "render service returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(CategoryRemote, "read rendered pdf: %v", err)
	}
	if len(data) < minServiceBytes {
		return nil, newError(CategoryRemote, "rendered pdf is %d bytes, below the %d byte floor",
			len(data), minServiceBytes)
	}
	return data, nil
}
