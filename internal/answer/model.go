// Package answer generates grounded answers from a prompt, streaming
// typed events and extracting source citations from the model output.
package answer

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/genai"

	"github.com/docfox/docfox/internal/log"
)

// Model streams generated text for a prompt. Implementations yield text
// deltas in order; a yielded error terminates the stream.
type Model interface {
	Stream(ctx context.Context, prompt string) iter.Seq2[string, error]
}

// ModelConfig configures the Gemini generation model.
type ModelConfig struct {
	Model           string
	Temperature     float32
	MaxOutputTokens int32
}

// GoogleModel generates text with the Gemini API.
type GoogleModel struct {
	client *genai.Client
	cfg    ModelConfig
	logger log.Logger
}

// NewGoogleModel creates a GoogleModel.
func NewGoogleModel(client *genai.Client, cfg ModelConfig, logger log.Logger) (*GoogleModel, error) {
	if client == nil {
		return nil, fmt.Errorf("genai client is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &GoogleModel{client: client, cfg: cfg, logger: logger}, nil
}

func (m *GoogleModel) generateConfig() *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(m.cfg.Temperature),
	}
	if m.cfg.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = m.cfg.MaxOutputTokens
	}
	return cfg
}

// Stream yields text deltas from the model as they arrive.
func (m *GoogleModel) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	contents := genai.Text(prompt)
	cfg := m.generateConfig()

	return func(yield func(string, error) bool) {
		for resp, err := range m.client.Models.GenerateContentStream(ctx, m.cfg.Model, contents, cfg) {
			if err != nil {
				yield("", fmt.Errorf("generate content stream: %w", err))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

// Complete returns the full answer in one call. Used by the
// non-streaming chat endpoint.
func Complete(ctx context.Context, model Model, prompt string) (string, error) {
	var sb strings.Builder
	for text, err := range model.Stream(ctx, prompt) {
		if err != nil {
			return "", err
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}
