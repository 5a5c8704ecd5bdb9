package vision

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"brandforge/internal/logging"
)

const defaultGeminiModel = "gemini-2.5-flash"

// Gemini reviews pages through the Google GenAI API.
type Gemini struct {
	client *genai.Client
	model  string
	log    *zap.SugaredLogger
}

// NewGemini builds a Gemini provider.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Gemini{
		client: client,
		model:  model,
		log:    logging.Get(logging.CategoryVision),
	}, nil
}

func (g *Gemini) Name() string { return "gemini" }

// Critique submits the page images with the rubric prompt.
func (g *Gemini) Critique(ctx context.Context, imagePaths []string, rubric string) (*Critique, error) {
	return critiqueViaModel(ctx, g.log, g.generate, imagePaths, rubric)
}

func (g *Gemini) generate(ctx context.Context, prompt string, imagePaths []string) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	for _, p := range imagePaths {
		data, err := readImage(p)
		if err != nil {
			return "", err
		}
		parts = append(parts, genai.NewPartFromBytes(data, "image/png"))
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}
	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return result.Text(), nil
}
