package dates

import (
	"testing"
	"time"
)

// capture is a fixed reference instant for all tests: 2025-03-15 18:30 local.
var capture = time.Date(2025, 3, 15, 18, 30, 0, 0, time.Local)

func TestResolveTimestamp(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{"今天 12:34", time.Date(2025, 3, 15, 12, 34, 0, 0, time.Local)},
		{"today 12:34", time.Date(2025, 3, 15, 12, 34, 0, 0, time.Local)},
		{"昨天 14:32", time.Date(2025, 3, 14, 14, 32, 0, 0, time.Local)},
		{"yesterday 08:05", time.Date(2025, 3, 14, 8, 5, 0, 0, time.Local)},
		{"前天 10:20", time.Date(2025, 3, 13, 10, 20, 0, 0, time.Local)},
		{"24-12-20 09:45", time.Date(2024, 12, 20, 9, 45, 0, 0, time.Local)},
		{"10-31 20:56", time.Date(2024, 10, 31, 20, 56, 0, 0, time.Local)}, // month ahead of capture ⇒ previous year
		{"02-01 07:15", time.Date(2025, 2, 1, 7, 15, 0, 0, time.Local)},
		{"2025-01-01 12:00", time.Date(2025, 1, 1, 12, 0, 0, 0, time.Local)},
		{"2025-01-01 12:00:30", time.Date(2025, 1, 1, 12, 0, 30, 0, time.Local)},
		{"2025-01-01", time.Date(2025, 1, 1, 0, 0, 0, 0, time.Local)},
		{"30分钟前", capture.Add(-30 * time.Minute)},
		{"2小时前", capture.Add(-2 * time.Hour)},
		{"3天前", capture.AddDate(0, 0, -3)},
		{"1周前", capture.AddDate(0, 0, -7)},
		{"2月前", capture.AddDate(0, 0, -60)},
	}

	for _, test := range tests {
		t.Run(test.raw, func(t *testing.T) {
			got, err := ResolveTimestamp(test.raw, capture)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(test.want) {
				t.Errorf("ResolveTimestamp(%q) = %v, want %v", test.raw, got, test.want)
			}
		})
	}
}

func TestResolveTimestampFailures(t *testing.T) {
	tests := []string{
		"",
		"   ",
		"刚刚",
		"some day",
		"今天",           // relative day without a clock
		"今天 25:00",     // impossible clock
		"13-45 10:00",  // impossible month-day
		"2025-13-45",   // impossible absolute date
	}

	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			if _, err := ResolveTimestamp(raw, capture); err == nil {
				t.Errorf("expected error for %q", raw)
			}
		})
	}
}

func TestInRange(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.Local)
	end := time.Date(2025, 3, 1, 0, 0, 0, 0, time.Local)

	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"inside", time.Date(2025, 2, 1, 12, 0, 0, 0, time.Local), true},
		{"at start", start, true},
		{"at end", end, true},
		{"before start", time.Date(2024, 12, 31, 23, 59, 0, 0, time.Local), false},
		{"after end", time.Date(2025, 3, 1, 0, 1, 0, 0, time.Local), false},
		{"zero time", time.Time{}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := InRange(test.t, start, end); got != test.want {
				t.Errorf("InRange(%v) = %v, want %v", test.t, got, test.want)
			}
		})
	}
}

func TestInRangeOpenBounds(t *testing.T) {
	old := time.Date(1999, 1, 1, 0, 0, 0, 0, time.Local)

	// No lower bound: anything up to now passes
	if !InRange(old, time.Time{}, time.Time{}) {
		t.Error("expected old timestamp to pass with open bounds")
	}

	// Future timestamps fail against the implicit "now" upper bound
	future := time.Now().Add(48 * time.Hour)
	if InRange(future, time.Time{}, time.Time{}) {
		t.Error("expected future timestamp to fail open-ended range")
	}
}
