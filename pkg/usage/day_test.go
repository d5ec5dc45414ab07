package usage

import (
	"testing"
	"time"
)

func TestDay(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}

	// 2025-11-20 20:30 UTC is already 2025-11-21 in Tokyo.
	ts := time.Date(2025, 11, 20, 20, 30, 0, 0, time.UTC)

	if got := Day(ts, time.UTC); got != "2025-11-20" {
		t.Errorf("Day(UTC) = %q, want 2025-11-20", got)
	}
	if got := Day(ts, tokyo); got != "2025-11-21" {
		t.Errorf("Day(Tokyo) = %q, want 2025-11-21", got)
	}
	if got := Day(ts, nil); got != "2025-11-20" {
		t.Errorf("Day(nil) = %q, want UTC day", got)
	}
}

func TestNextMidnight(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "mid day",
			now:  time.Date(2025, 11, 20, 13, 45, 0, 0, time.UTC),
			want: time.Date(2025, 11, 21, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly midnight rolls to next day",
			now:  time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC),
			want: time.Date(2025, 11, 21, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "month end",
			now:  time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC),
			want: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextMidnight(tt.now, time.UTC); !got.Equal(tt.want) {
				t.Errorf("NextMidnight() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDaysAgo(t *testing.T) {
	now := time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)

	if got := DaysAgo(now, time.UTC, 0); got != "2025-03-02" {
		t.Errorf("DaysAgo(0) = %q", got)
	}
	if got := DaysAgo(now, time.UTC, 2); got != "2025-02-28" {
		t.Errorf("DaysAgo(2) = %q, want 2025-02-28", got)
	}
	if got := DaysAgo(now, time.UTC, 30); got != "2025-01-31" {
		t.Errorf("DaysAgo(30) = %q, want 2025-01-31", got)
	}
}
