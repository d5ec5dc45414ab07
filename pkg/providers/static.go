package providers

import (
	"context"
	"strings"
	"time"

	"mercator-hq/tally/pkg/usage"
)

// StaticProvider returns deterministic output derived from the request.
// It never fails unless the request is invalid.
type StaticProvider struct {
	// Model is reported in responses.
	Model string

	// Words bounds the output length.
	Words int
}

// NewStaticProvider creates a static provider.
func NewStaticProvider(model string) *StaticProvider {
	if model == "" {
		model = "static"
	}
	return &StaticProvider{Model: model, Words: 40}
}

// Name implements Provider.
func (p *StaticProvider) Name() string {
	return "static"
}

// Invoke implements Provider.
func (p *StaticProvider) Invoke(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	words := strings.Fields(req.Content)
	if n := p.Words; n > 0 && len(words) > n {
		words = words[:n]
	}
	excerpt := strings.Join(words, " ")

	var text string
	if req.Feature == usage.FeatureQuestion {
		text = "Q: " + strings.TrimSpace(req.Question) + "\nA: " + excerpt
	} else {
		text = excerpt
	}
	if req.Title != "" {
		text = req.Title + ": " + text
	}

	model := req.Model
	if model == "" {
		model = p.Model
	}
	prompt := len(strings.Fields(req.Content))
	completion := len(strings.Fields(text))
	return &Response{
		Text:         text,
		Model:        model,
		FinishReason: "stop",
		Usage: TokenUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
		Latency: time.Since(start),
	}, nil
}
