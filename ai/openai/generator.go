package openai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/lessonrag/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Generator implements ai.Generator using an OpenAI-compatible chat completion API.
// A single client serves every model in the chain; the model is chosen per call.
type Generator struct {
	llm    llms.Model
	logger *slog.Logger
}

func newGenerator(config *ai.Config) (*Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.GenerationHost),
		openai.WithToken(token(config)),
		openai.WithModel(config.GenerationModels[0]),
	)
	if err != nil {
		return nil, err
	}

	return &Generator{
		llm:    client,
		logger: slog.Default().With("component", "openai-generator"),
	}, nil
}

// NewGenerator creates a new generator using the provided configuration.
//
// Returns ai.Generator interface to enforce abstraction.
func NewGenerator(config *ai.Config) (ai.Generator, error) {
	return newGenerator(config)
}

// Generate sends the prompt to model and returns the trimmed completion.
// PermissiveSafety has no equivalent in the OpenAI protocol and is ignored.
func (g *Generator) Generate(ctx context.Context, model string, prompt ai.Prompt, params ai.GenerationParams) (string, error) {
	messages := make([]llms.MessageContent, 0, 2)
	if prompt.System != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(prompt.System)},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(prompt.User)},
	})

	opts := []llms.CallOption{
		llms.WithModel(model),
		llms.WithTemperature(params.Temperature),
	}
	if params.TopP > 0 {
		opts = append(opts, llms.WithTopP(params.TopP))
	}
	if params.TopK > 0 {
		opts = append(opts, llms.WithTopK(params.TopK))
	}
	if params.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(params.MaxTokens))
	}

	g.logger.Debug("generating completion", "model", model, "prompt_length", len(prompt.User))

	resp, err := g.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		g.logger.Warn("generation failed", "model", model, "err", err)
		return "", classify(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("model %s: %w", model, ai.ErrEmptyResponse)
	}

	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return "", fmt.Errorf("model %s: %w", model, ai.ErrEmptyResponse)
	}
	return text, nil
}
