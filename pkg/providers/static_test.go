package providers

import (
	"context"
	"errors"
	"strings"
	"testing"

	"mercator-hq/tally/pkg/config"
	"mercator-hq/tally/pkg/usage"
)

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider("")
	p.Words = 3

	resp, err := p.Invoke(context.Background(), &Request{
		Feature: usage.FeatureSummary,
		Content: "one two three four five",
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if resp.Text != "one two three" || resp.Model != "static" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Usage.PromptTokens != 5 || resp.Usage.CompletionTokens != 3 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}

	resp, err = p.Invoke(context.Background(), &Request{
		Feature:  usage.FeatureQuestion,
		Content:  "alpha beta",
		Question: "what?",
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !strings.HasPrefix(resp.Text, "Q: what?") {
		t.Errorf("unexpected question output %q", resp.Text)
	}
}

func TestStaticProvider_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewStaticProvider("m").Invoke(ctx, &Request{Feature: usage.FeatureSummary, Content: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name      string
		req       *Request
		wantField string
	}{
		{"nil", nil, "request"},
		{"unknown feature", &Request{Feature: "image", Content: "x"}, "feature"},
		{"empty content", &Request{Feature: usage.FeatureSummary, Content: "  "}, "content"},
		{"too long", &Request{Feature: usage.FeatureSummary, Content: strings.Repeat("a", MaxContentLength+1)}, "content"},
		{"question missing", &Request{Feature: usage.FeatureQuestion, Content: "x"}, "question"},
		{"negative max tokens", &Request{Feature: usage.FeatureSummary, Content: "x", MaxTokens: -1}, "max_tokens"},
		{"valid", &Request{Feature: usage.FeatureSummary, Content: "x"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.wantField {
				t.Errorf("expected validation error on %q, got %v", tt.wantField, err)
			}
		})
	}
}

func TestNew(t *testing.T) {
	p, err := New(config.ProviderConfig{Type: "static", Model: "m"}, Deps{})
	if err != nil || p.Name() != "static" {
		t.Errorf("expected static provider, got %v, %v", p, err)
	}

	p, err = New(config.ProviderConfig{Type: "http", BaseURL: "https://api.example.com/v1"}, Deps{})
	if err != nil || p.Name() != "http" {
		t.Errorf("expected http provider, got %v, %v", p, err)
	}

	var ce *ConfigError
	if _, err := New(config.ProviderConfig{Type: "carrier-pigeon"}, Deps{}); !errors.As(err, &ce) {
		t.Errorf("expected ConfigError, got %v", err)
	}
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&AuthError{}, "auth"},
		{&RateLimitError{}, "rate_limit"},
		{&TimeoutError{}, "timeout"},
		{&ParseError{}, "parse"},
		{&ValidationError{}, "validation"},
		{&ProviderError{}, "provider"},
		{errors.New("other"), "unknown"},
	}
	for _, tt := range tests {
		if got := ErrorType(tt.err); got != tt.want {
			t.Errorf("ErrorType(%T) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestIsDependencyFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"validation", &ValidationError{Field: "content"}, false},
		{"timeout", &TimeoutError{}, true},
		{"server error", &ProviderError{StatusCode: 500}, true},
		{"deadline", context.DeadlineExceeded, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDependencyFailure(tt.err); got != tt.want {
				t.Errorf("IsDependencyFailure() = %v, want %v", got, tt.want)
			}
		})
	}
}
