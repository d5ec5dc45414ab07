package usage

import (
	"time"

	"github.com/google/uuid"
)

// Unlimited is the limit and remaining sentinel reported for premium identities.
const Unlimited int64 = -1

// FeatureType is the category of consumption being metered.
type FeatureType string

const (
	// FeatureSummary is a page summarization action.
	FeatureSummary FeatureType = "summary"

	// FeatureQuestion is a follow-up question about a page.
	FeatureQuestion FeatureType = "question"
)

// Features lists every metered feature type.
var Features = []FeatureType{FeatureSummary, FeatureQuestion}

// Source records which path produced a quota result.
type Source string

const (
	// SourceCache means the value came from the short-TTL read cache.
	SourceCache Source = "cache"

	// SourceDurable means the value came from the durable store.
	SourceDurable Source = "durable"

	// SourceDegraded means the durable store was unreachable and the
	// in-process fallback counter was used. Counts on this path do not
	// survive a restart.
	SourceDegraded Source = "degraded"
)

// Counter is the usage counter for one identity on one day.
type Counter struct {
	// Identity is the opaque quota subject key.
	Identity string `json:"identity" bson:"identity"`

	// Day is the calendar date (YYYY-MM-DD) at the configured time zone.
	Day string `json:"day" bson:"day"`

	SummaryCount  int64 `json:"summary_count" bson:"summary_count"`
	QuestionCount int64 `json:"question_count" bson:"question_count"`
	TotalCount    int64 `json:"total_count" bson:"total_count"`

	// IsPremium is the premium flag as of the last write.
	IsPremium bool `json:"is_premium" bson:"is_premium"`

	// Archived is set by the retention sweeper. Archived counters are
	// excluded from statistics.
	Archived bool `json:"archived" bson:"archived"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Count returns the counter value for a feature.
func (c *Counter) Count(feature FeatureType) int64 {
	if c == nil {
		return 0
	}
	switch feature {
	case FeatureSummary:
		return c.SummaryCount
	case FeatureQuestion:
		return c.QuestionCount
	}
	return 0
}

// Clone returns a copy of the counter, or nil for a nil counter.
func (c *Counter) Clone() *Counter {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// Key identifies a counter.
type Key struct {
	Identity string
	Day      string
}

// Key returns the counter's key.
func (c *Counter) Key() Key {
	return Key{Identity: c.Identity, Day: c.Day}
}

// String formats the key as day/identity.
func (k Key) String() string {
	return k.Day + "/" + k.Identity
}

// Detail is a small, append-only record attached to a counter.
// Detail writes are best-effort and never roll back a counter increment.
type Detail struct {
	Title         string    `json:"title,omitempty" bson:"title,omitempty"`
	SourceRef     string    `json:"source_ref,omitempty" bson:"source_ref,omitempty"`
	Model         string    `json:"model,omitempty" bson:"model,omitempty"`
	Size          int64     `json:"size,omitempty" bson:"size,omitempty"`
	CorrelationID string    `json:"correlation_id" bson:"correlation_id"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
}

// Normalize fills the correlation id and timestamp when they are missing.
func (d *Detail) Normalize(now time.Time) {
	if d.CorrelationID == "" {
		d.CorrelationID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
}

// Snapshot is the quota view reported to callers.
type Snapshot struct {
	Identity string `json:"identity"`
	Day      string `json:"day"`

	// Used is today's total consumption.
	Used int64 `json:"used"`

	// Limit is the daily limit, or Unlimited for premium identities.
	Limit int64 `json:"limit"`

	// Remaining is Limit-Used (never negative), or Unlimited.
	Remaining int64 `json:"remaining"`

	// ResetAt is the next day boundary.
	ResetAt time.Time `json:"reset_at"`

	SummaryCount  int64 `json:"summary_count"`
	QuestionCount int64 `json:"question_count"`

	IsPremium bool   `json:"is_premium"`
	Source    Source `json:"source"`
}

// Degraded reports whether the snapshot came from the in-process fallback.
func (s Snapshot) Degraded() bool {
	return s.Source == SourceDegraded
}

// Unlimited reports whether the snapshot has no daily limit.
func (s Snapshot) Unlimited() bool {
	return s.Limit == Unlimited
}

// Statistics aggregates counters over a number of recent days.
type Statistics struct {
	Identity      string     `json:"identity"`
	Days          int        `json:"days"`
	From          string     `json:"from"`
	To            string     `json:"to"`
	Total         int64      `json:"total"`
	SummaryCount  int64      `json:"summary_count"`
	QuestionCount int64      `json:"question_count"`
	ActiveDays    int        `json:"active_days"`
	Daily         []*Counter `json:"daily"`
	Source        Source     `json:"source"`
}
