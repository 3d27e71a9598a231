package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// ErrGeneration wraps chat-model provider failures.
var ErrGeneration = errors.New("generation provider failure")

// GeneratorConfig carries the chat model knobs.
type GeneratorConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int32
	Temperature float32
}

// Generator produces chat completions via the Gemini API.
type Generator struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float32
}

func NewGenerator(ctx context.Context, cfg GeneratorConfig, opts ...option.ClientOption) (*Generator, error) {
	clientOpts := append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: create client: %v", ErrGeneration, err)
	}

	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}

	return &Generator{
		client:      client,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (g *Generator) Close() error {
	return g.client.Close()
}

// Generate returns the model's text for a prompt.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetMaxOutputTokens(g.maxTokens)
	model.SetTemperature(g.temperature)

	res, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	var sb strings.Builder
	for _, cand := range res.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}

	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("%w: empty completion", ErrGeneration)
	}
	return out, nil
}
