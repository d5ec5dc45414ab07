package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys.
const (
	AttrIdentity    = attribute.Key("tally.identity")
	AttrFeature     = attribute.Key("tally.feature")
	AttrPremium     = attribute.Key("tally.premium")
	AttrOutcome     = attribute.Key("tally.outcome")
	AttrQuotaUsed   = attribute.Key("tally.quota.used")
	AttrQuotaSource = attribute.Key("tally.quota.source")
	AttrProvider    = attribute.Key("provider.name")
	AttrModel       = attribute.Key("provider.model")
	AttrStatusCode  = attribute.Key("http.response.status_code")
	AttrMethod      = attribute.Key("http.request.method")
	AttrRoute       = attribute.Key("http.route")
	AttrRequestID   = attribute.Key("tally.request_id")
	AttrErrorType   = attribute.Key("error.type")
)

// ConsumeAttributes describes a consume call.
func ConsumeAttributes(identity, feature string, premium bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrIdentity.String(identity),
		AttrFeature.String(feature),
		AttrPremium.Bool(premium),
	}
}

// SetProviderAttributes records the provider and model on span.
func SetProviderAttributes(span trace.Span, provider, model string) {
	span.SetAttributes(AttrProvider.String(provider))
	if model != "" {
		span.SetAttributes(AttrModel.String(model))
	}
}

// SetQuotaAttributes records the post-call usage on span.
func SetQuotaAttributes(span trace.Span, used int64, source string) {
	span.SetAttributes(AttrQuotaUsed.Int64(used), AttrQuotaSource.String(source))
}

// SetError records err on span and marks it failed. errorType may be empty.
func SetError(span trace.Span, err error, errorType string) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errorType != "" {
		span.SetAttributes(AttrErrorType.String(errorType))
	}
}

// SetStatus marks span OK or failed depending on err.
func SetStatus(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
