package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"mercator-hq/tally/pkg/providers"
	"mercator-hq/tally/pkg/usage"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains detailed error information.
type ErrorDetail struct {
	// Message is a human-readable error message.
	Message string `json:"message"`

	// Type categorizes the error.
	Type string `json:"type"`

	// Code is a machine-readable error code.
	Code string `json:"code,omitempty"`

	// Param names the offending field for validation errors.
	Param string `json:"param,omitempty"`

	// RetryAfter mirrors the Retry-After header in seconds.
	RetryAfter int `json:"retry_after,omitempty"`

	// Usage is the caller's quota state for quota errors.
	Usage *QuotaInfo `json:"usage,omitempty"`
}

// QuotaInfo describes an exhausted quota.
type QuotaInfo struct {
	Used    int64     `json:"used"`
	Limit   int64     `json:"limit"`
	ResetAt time.Time `json:"reset_at"`
}

// Error types.
const (
	ErrorTypeInvalidRequest     = "invalid_request_error"
	ErrorTypeAuthentication     = "authentication_error"
	ErrorTypeRateLimitExceeded  = "rate_limit_exceeded"
	ErrorTypeQuotaExceeded      = "quota_exceeded"
	ErrorTypeServerError        = "server_error"
	ErrorTypeBadGateway         = "bad_gateway"
	ErrorTypeServiceUnavailable = "service_unavailable"
	ErrorTypeGatewayTimeout     = "gateway_timeout"
)

// Error codes.
const (
	CodeInvalidJSON         = "invalid_json"
	CodeInvalidValue        = "invalid_value"
	CodeMissingIdentity     = "missing_identity"
	CodeDailyLimit          = "daily_limit_reached"
	CodeTooManyRequests     = "too_many_requests"
	CodeProviderError       = "provider_error"
	CodeProviderTimeout     = "provider_timeout"
	CodeProviderUnavailable = "provider_unavailable"
	CodeInternal            = "internal_error"
)

// Quota response headers.
const (
	HeaderQuotaLimit     = "X-Quota-Limit"
	HeaderQuotaUsed      = "X-Quota-Used"
	HeaderQuotaRemaining = "X-Quota-Remaining"
	HeaderQuotaReset     = "X-Quota-Reset"
	HeaderRateLimit      = "X-RateLimit-Limit"
	HeaderRetryAfter     = "Retry-After"
)

// writeError translates err into an HTTP response. now anchors the quota
// Retry-After.
func writeError(w http.ResponseWriter, err error, now time.Time) {
	var (
		quota       *usage.QuotaExceededError
		limited     *usage.RateLimitedError
		unavailable *usage.ServiceUnavailableError
		invalid     *usage.ValidationError
		timeout     *providers.TimeoutError
	)

	switch {
	case errors.As(err, &invalid):
		writeErrorResponse(w, http.StatusBadRequest, ErrorDetail{
			Message: invalid.Message,
			Type:    ErrorTypeInvalidRequest,
			Code:    CodeInvalidValue,
			Param:   invalid.Field,
		})

	case errors.As(err, &quota):
		retry := retryAfterSeconds(quota.ResetAt.Sub(now))
		h := w.Header()
		h.Set(HeaderQuotaLimit, strconv.FormatInt(quota.Limit, 10))
		h.Set(HeaderQuotaUsed, strconv.FormatInt(quota.Used, 10))
		h.Set(HeaderQuotaRemaining, "0")
		h.Set(HeaderQuotaReset, strconv.FormatInt(quota.ResetAt.Unix(), 10))
		h.Set(HeaderRetryAfter, strconv.Itoa(retry))
		writeErrorResponse(w, http.StatusTooManyRequests, ErrorDetail{
			Message:    "Daily limit reached. Upgrade to premium for unlimited usage.",
			Type:       ErrorTypeQuotaExceeded,
			Code:       CodeDailyLimit,
			RetryAfter: retry,
			Usage:      &QuotaInfo{Used: quota.Used, Limit: quota.Limit, ResetAt: quota.ResetAt},
		})

	case errors.As(err, &limited):
		retry := retryAfterSeconds(limited.RetryAfter)
		w.Header().Set(HeaderRateLimit, strconv.Itoa(limited.Limit))
		w.Header().Set(HeaderRetryAfter, strconv.Itoa(retry))
		writeErrorResponse(w, http.StatusTooManyRequests, ErrorDetail{
			Message:    "Too many requests. Please slow down.",
			Type:       ErrorTypeRateLimitExceeded,
			Code:       CodeTooManyRequests,
			RetryAfter: retry,
		})

	case errors.As(err, &unavailable):
		retry := retryAfterSeconds(unavailable.RetryAfter)
		w.Header().Set(HeaderRetryAfter, strconv.Itoa(retry))
		writeErrorResponse(w, http.StatusServiceUnavailable, ErrorDetail{
			Message:    "The service is temporarily unavailable. Please try again later.",
			Type:       ErrorTypeServiceUnavailable,
			Code:       CodeProviderUnavailable,
			RetryAfter: retry,
		})

	case errors.As(err, &timeout):
		writeErrorResponse(w, http.StatusGatewayTimeout, ErrorDetail{
			Message: "The provider did not respond in time.",
			Type:    ErrorTypeGatewayTimeout,
			Code:    CodeProviderTimeout,
		})

	case isProviderFailure(err):
		writeErrorResponse(w, http.StatusBadGateway, ErrorDetail{
			Message: "The provider request failed.",
			Type:    ErrorTypeBadGateway,
			Code:    CodeProviderError,
		})

	default:
		writeErrorResponse(w, http.StatusInternalServerError, ErrorDetail{
			Message: "An internal error occurred. Please try again later.",
			Type:    ErrorTypeServerError,
			Code:    CodeInternal,
		})
	}
}

func isProviderFailure(err error) bool {
	var (
		pe      *providers.ProviderError
		auth    *providers.AuthError
		limited *providers.RateLimitError
		parse   *providers.ParseError
	)
	return errors.As(err, &pe) || errors.As(err, &auth) ||
		errors.As(err, &limited) || errors.As(err, &parse)
}

// retryAfterSeconds rounds d up to whole seconds, at least one.
func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

func writeJSONError(w http.ResponseWriter, status int, errType, code, message string) {
	writeErrorResponse(w, status, ErrorDetail{Message: message, Type: errType, Code: code})
}

func writeErrorResponse(w http.ResponseWriter, status int, detail ErrorDetail) {
	writeJSON(w, status, ErrorResponse{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
