package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"brandforge/internal/logging"
)

const (
	defaultClaudeModel      = "claude-sonnet-4-20250514"
	claudeCritiqueMaxTokens = 2048
)

// Claude reviews pages through the Anthropic Messages API.
type Claude struct {
	client anthropic.Client
	model  string
	log    *zap.SugaredLogger
}

// NewClaude builds a Claude provider.
func NewClaude(apiKey, model string) (*Claude, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if model == "" {
		model = defaultClaudeModel
	}
	return &Claude{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		log:    logging.Get(logging.CategoryVision),
	}, nil
}

func (c *Claude) Name() string { return "claude" }

// Critique submits the page images with the rubric prompt.
func (c *Claude) Critique(ctx context.Context, imagePaths []string, rubric string) (*Critique, error) {
	return critiqueViaModel(ctx, c.log, c.generate, imagePaths, rubric)
}

func (c *Claude) generate(ctx context.Context, prompt string, imagePaths []string) (string, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(imagePaths)+1)
	for _, p := range imagePaths {
		data, err := readImage(p)
		if err != nil {
			return "", err
		}
		blocks = append(blocks, anthropic.NewImageBlockBase64("image/png", base64.StdEncoding.EncodeToString(data)))
	}
	blocks = append(blocks, anthropic.NewTextBlock(prompt))

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: claudeCritiqueMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude generate: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
