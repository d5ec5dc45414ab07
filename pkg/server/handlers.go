package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"mercator-hq/tally/pkg/breaker"
	"mercator-hq/tally/pkg/providers"
	"mercator-hq/tally/pkg/telemetry/logging"
	"mercator-hq/tally/pkg/usage"
	"mercator-hq/tally/pkg/usage/accountant"
)

// DefaultStatsDays is the window of /v1/usage/stats without ?days.
const DefaultStatsDays = 7

// Accountant is the usage surface the handlers need.
type Accountant interface {
	Consume(ctx context.Context, req accountant.ConsumeRequest) (*accountant.ConsumeResult, error)
	GetUsage(ctx context.Context, identity string, isPremium bool) (usage.Snapshot, error)
	Statistics(ctx context.Context, identity string, days int) (usage.Statistics, error)
	BreakerState() breaker.Snapshot
}

// ConsumeRequest is the body of POST /v1/consume.
type ConsumeRequest struct {
	Feature   string `json:"feature"`
	Content   string `json:"content"`
	Question  string `json:"question,omitempty"`
	Title     string `json:"title,omitempty"`
	SourceRef string `json:"source_ref,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// ConsumeResponse is the body of a successful POST /v1/consume.
type ConsumeResponse struct {
	Result ConsumeOutput  `json:"result"`
	Usage  usage.Snapshot `json:"usage"`
}

// ConsumeOutput is the provider's answer.
type ConsumeOutput struct {
	ID           string               `json:"id,omitempty"`
	Text         string               `json:"text"`
	Model        string               `json:"model"`
	FinishReason string               `json:"finish_reason,omitempty"`
	Tokens       providers.TokenUsage `json:"tokens"`
}

// caller resolves the identity or writes a 401.
func (s *Server) caller(w http.ResponseWriter, r *http.Request) (Caller, *http.Request, bool) {
	c, err := s.resolver.Resolve(r)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, ErrorTypeAuthentication, CodeMissingIdentity,
			"A verified identity is required.")
		return Caller{}, r, false
	}
	return c, r.WithContext(logging.WithIdentity(r.Context(), c.Identity)), true
}

func (s *Server) handleConsume(w http.ResponseWriter, r *http.Request) {
	c, r, ok := s.caller(w, r)
	if !ok {
		return
	}

	var body ConsumeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, ErrorTypeInvalidRequest, CodeInvalidValue,
				"Request body is too large.")
			return
		}
		writeJSONError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, CodeInvalidJSON,
			"Request body is not valid JSON.")
		return
	}

	feature, err := usage.ParseFeatureType(body.Feature)
	if err != nil {
		writeError(w, err, s.clock.Now())
		return
	}

	res, err := s.accountant.Consume(r.Context(), accountant.ConsumeRequest{
		Identity:  c.Identity,
		Feature:   feature,
		IsPremium: c.IsPremium,
		Request: &providers.Request{
			Feature:   feature,
			Content:   body.Content,
			Question:  body.Question,
			Title:     body.Title,
			SourceRef: body.SourceRef,
			Model:     body.Model,
			MaxTokens: body.MaxTokens,
		},
		Detail: &usage.Detail{CorrelationID: logging.GetRequestID(r.Context())},
	})
	if err != nil {
		writeError(w, err, s.clock.Now())
		return
	}

	setQuotaHeaders(w, res.Usage)
	writeJSON(w, http.StatusOK, ConsumeResponse{
		Result: ConsumeOutput{
			ID:           res.Response.ID,
			Text:         res.Response.Text,
			Model:        res.Response.Model,
			FinishReason: res.Response.FinishReason,
			Tokens:       res.Response.Usage,
		},
		Usage: res.Usage,
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	c, r, ok := s.caller(w, r)
	if !ok {
		return
	}

	snap, err := s.accountant.GetUsage(r.Context(), c.Identity, c.IsPremium)
	if err != nil {
		writeError(w, err, s.clock.Now())
		return
	}
	setQuotaHeaders(w, snap)
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	c, r, ok := s.caller(w, r)
	if !ok {
		return
	}

	days := DefaultStatsDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, &usage.ValidationError{Field: "days", Message: "days must be a positive integer"}, s.clock.Now())
			return
		}
		days = n
	}

	stats, err := s.accountant.Statistics(r.Context(), c.Identity, days)
	if err != nil {
		writeError(w, err, s.clock.Now())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleBreaker(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.accountant.BreakerState())
}

func setQuotaHeaders(w http.ResponseWriter, snap usage.Snapshot) {
	if snap.Unlimited() {
		return
	}
	h := w.Header()
	h.Set(HeaderQuotaLimit, strconv.FormatInt(snap.Limit, 10))
	h.Set(HeaderQuotaUsed, strconv.FormatInt(snap.Used, 10))
	h.Set(HeaderQuotaRemaining, strconv.FormatInt(snap.Remaining, 10))
	h.Set(HeaderQuotaReset, strconv.FormatInt(snap.ResetAt.Unix(), 10))
}
