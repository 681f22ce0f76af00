// Package llm wraps the hosted generative-text API used for fare estimates
// and quick-reply suggestions. Callers only see a JSON-in, JSON-out
// completer; everything about the provider stays here.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

var (
	ErrMissingCredential = errors.New("llm: no API key configured")
	ErrEmptyResponse     = errors.New("llm: empty response")
)

// Completer asks the model for a JSON document matching schema.
type Completer interface {
	CompleteJSON(ctx context.Context, prompt string, schema *genai.Schema) (string, error)
}

type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// GeminiClient is the production Completer.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

func New(ctx context.Context, cfg Config) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingCredential
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create client: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	return &GeminiClient{client: c, model: cfg.Model, timeout: cfg.Timeout}, nil
}

func (g *GeminiClient) CompleteJSON(ctx context.Context, prompt string, schema *genai.Schema) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	})
	if err != nil {
		return "", fmt.Errorf("llm: generate content: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
