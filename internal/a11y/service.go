package a11y

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"brandforge/internal/logging"
)

// Remediation rewrites the whole document; give it a wide budget.
const serviceTimeout = 120 * time.Second

// Service calls the remediation HTTP service. The service shares the
// orchestrator's filesystem, so requests carry paths rather than bytes.
type Service struct {
	baseURL string
	client  *http.Client
	log     *zap.SugaredLogger
}

// NewService builds an adapter for the service at baseURL.
func NewService(baseURL string) *Service {
	return &Service{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: serviceTimeout},
		log:     logging.Get(logging.CategoryA11y),
	}
}

func (s *Service) Name() string { return "service" }

type remediateRequest struct {
	PDFPath    string `json:"pdfPath"`
	Standard   string `json:"standard"`
	OutputPath string `json:"outputPath"`
}

// Remediate posts the job to the service and decodes its verdict.
func (s *Service) Remediate(ctx context.Context, pdfPath, standard, outputPath string) (*Result, error) {
	if standard == "" {
		standard = DefaultStandard
	}
	body, err := json.Marshal(remediateRequest{
		PDFPath:    pdfPath,
		Standard:   standard,
		OutputPath: outputPath,
	})
	if err != nil {
		return nil, fmt.Errorf("encode remediation request: %w", err)
	}

	url := s.baseURL + "/remediate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build remediation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("accessibility service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("accessibility service: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode remediation result: %w", err)
	}
	if result.Standard == "" {
		result.Standard = standard
	}
	s.log.Debugw("remediation finished",
		"pdf", pdfPath, "standard", standard,
		"score", result.Score, "remediated", result.RemediatedPath != "",
		"durationMs", time.Since(start).Milliseconds())
	return &result, nil
}
