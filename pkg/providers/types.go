package providers

import (
	"strings"
	"time"
	"unicode/utf8"

	"mercator-hq/tally/pkg/usage"
)

// MaxContentLength is the longest page content accepted, in bytes.
const MaxContentLength = 200_000

// Request is a provider call.
type Request struct {
	// Feature selects the prompt: a summary of the page, or an answer to
	// Question about it.
	Feature usage.FeatureType `json:"feature"`

	// Content is the extracted page text.
	Content string `json:"content"`

	// Question is required for FeatureQuestion.
	Question string `json:"question,omitempty"`

	// Title and SourceRef describe the page.
	Title     string `json:"title,omitempty"`
	SourceRef string `json:"source_ref,omitempty"`

	// Model overrides the configured model.
	Model string `json:"model,omitempty"`

	// MaxTokens overrides the configured completion cap.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Validate checks the request before it is sent.
func (r *Request) Validate() error {
	if r == nil {
		return &ValidationError{Field: "request", Message: "request is required"}
	}
	if err := r.Feature.Validate(); err != nil {
		return &ValidationError{Field: "feature", Message: err.Error()}
	}
	if strings.TrimSpace(r.Content) == "" {
		return &ValidationError{Field: "content", Message: "content is required"}
	}
	if len(r.Content) > MaxContentLength {
		return &ValidationError{Field: "content", Message: "content exceeds 200000 bytes"}
	}
	if !utf8.ValidString(r.Content) {
		return &ValidationError{Field: "content", Message: "content must be valid UTF-8"}
	}
	if r.Feature == usage.FeatureQuestion && strings.TrimSpace(r.Question) == "" {
		return &ValidationError{Field: "question", Message: "question is required for feature \"question\""}
	}
	if r.MaxTokens < 0 {
		return &ValidationError{Field: "max_tokens", Message: "max_tokens must be non-negative"}
	}
	return nil
}

// TokenUsage tracks token consumption for a call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a successful provider call.
type Response struct {
	// ID is the provider's response identifier, if any.
	ID string `json:"id,omitempty"`

	// Text is the generated output.
	Text string `json:"text"`

	// Model is the model that served the call.
	Model string `json:"model"`

	// FinishReason is the provider's stop reason.
	FinishReason string `json:"finish_reason,omitempty"`

	Usage TokenUsage `json:"usage"`

	// Latency is the wall time of the call.
	Latency time.Duration `json:"latency"`
}

// Size returns the output size in bytes.
func (r *Response) Size() int64 {
	if r == nil {
		return 0
	}
	return int64(len(r.Text))
}
