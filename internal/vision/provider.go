// Package vision abstracts the multimodal models that review rasterized
// pages. Providers take page images plus a rubric prompt and return a
// normalized critique; a dry-run provider stands in during tests and CI.
package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Critique is the provider verdict over a set of page images.
type Critique struct {
	Score     float64  `json:"score"`
	Findings  []string `json:"findings"`
	PageNotes []string `json:"pageNotes"`
	DryRun    bool     `json:"dryRun,omitempty"`
}

// Provider reviews page images against a rubric.
type Provider interface {
	Name() string
	Critique(ctx context.Context, imagePaths []string, rubric string) (*Critique, error)
}

// Environment keys consulted by FromEnv.
const (
	EnvDryRun       = "DRY_RUN_VISION"
	EnvProvider     = "VISION_PROVIDER"
	EnvModel        = "VISION_MODEL"
	EnvGeminiKey    = "GEMINI_API_KEY"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
)

// FromEnv selects a provider: DRY_RUN_VISION=1 wins, then VISION_PROVIDER,
// then whichever API key is present (gemini before claude). minScore seeds
// the dry-run synthetic score.
func FromEnv(ctx context.Context, minScore float64) (Provider, error) {
	if os.Getenv(EnvDryRun) == "1" {
		return NewDryRun(minScore), nil
	}
	model := os.Getenv(EnvModel)
	switch name := os.Getenv(EnvProvider); name {
	case "dryrun":
		return NewDryRun(minScore), nil
	case "gemini":
		return NewGemini(ctx, os.Getenv(EnvGeminiKey), model)
	case "claude":
		return NewClaude(os.Getenv(EnvAnthropicKey), model)
	case "":
		if os.Getenv(EnvGeminiKey) != "" {
			return NewGemini(ctx, os.Getenv(EnvGeminiKey), model)
		}
		if os.Getenv(EnvAnthropicKey) != "" {
			return NewClaude(os.Getenv(EnvAnthropicKey), model)
		}
		return nil, fmt.Errorf("no vision provider configured: set %s or %s, or %s=1", EnvGeminiKey, EnvAnthropicKey, EnvDryRun)
	default:
		return nil, fmt.Errorf("unknown vision provider %q", name)
	}
}

const strictJSONInstruction = `Respond with JSON only: a single object with keys "score" (number between 0 and 1), "findings" (array of strings), "pageNotes" (array of strings). No prose, no markdown fences.`

// critiqueViaModel runs one generation, and on a malformed response retries
// once with the strict JSON instruction appended.
func critiqueViaModel(ctx context.Context, log *zap.SugaredLogger, gen func(context.Context, string, []string) (string, error), imagePaths []string, rubric string) (*Critique, error) {
	text, err := gen(ctx, rubric, imagePaths)
	if err != nil {
		return nil, err
	}
	crit, perr := parseCritique(text)
	if perr == nil {
		return crit, nil
	}
	log.Warnw("malformed critique, retrying with strict prompt", "err", perr)

	text, err = gen(ctx, rubric+"\n\n"+strictJSONInstruction, imagePaths)
	if err != nil {
		return nil, err
	}
	crit, perr = parseCritique(text)
	if perr != nil {
		return nil, fmt.Errorf("malformed critique after strict retry: %w", perr)
	}
	return crit, nil
}

// parseCritique extracts the critique object from model output, tolerating
// prose or markdown fences around the JSON.
func parseCritique(text string) (*Critique, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}
	var crit Critique
	if err := json.Unmarshal([]byte(text[start:end+1]), &crit); err != nil {
		return nil, fmt.Errorf("decode critique: %w", err)
	}
	if math.IsNaN(crit.Score) || crit.Score < 0 || crit.Score > 1 {
		return nil, fmt.Errorf("critique score %v outside [0,1]", crit.Score)
	}
	return &crit, nil
}

func readImage(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read page image %s: %w", path, err)
	}
	return data, nil
}
