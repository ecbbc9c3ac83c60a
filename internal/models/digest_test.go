package models

import (
	"testing"
	"time"
)

func timePtr(t time.Time) *time.Time {
	return &t
}

func TestDigest_IsDue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		lastRunAt *time.Time
		frequency int
		expected  bool
	}{
		{"never run", nil, 6, true},
		{"never run long cadence", nil, 24, true},
		{"before interval", timePtr(now.Add(-5 * time.Hour)), 6, false},
		{"just created", timePtr(now.Add(-time.Minute)), 6, false},
		{"exactly at boundary", timePtr(now.Add(-6 * time.Hour)), 6, true},
		{"after interval", timePtr(now.Add(-7 * time.Hour)), 6, true},
		{"12h cadence not due", timePtr(now.Add(-11 * time.Hour)), 12, false},
		{"12h cadence due", timePtr(now.Add(-13 * time.Hour)), 12, true},
		{"24h cadence due", timePtr(now.Add(-25 * time.Hour)), 24, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Digest{
				LastRunAt:      tt.lastRunAt,
				FrequencyHours: tt.frequency,
			}
			if got := d.IsDue(now); got != tt.expected {
				t.Errorf("IsDue() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDigest_IsDue_IsPure(t *testing.T) {
	last := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	d := Digest{LastRunAt: &last, FrequencyHours: 6}

	now := last.Add(7 * time.Hour)
	for i := 0; i < 3; i++ {
		if !d.IsDue(now) {
			t.Fatalf("IsDue() changed answer on call %d", i)
		}
	}
	if d.LastRunAt == nil || !d.LastRunAt.Equal(last) {
		t.Error("IsDue() must not mutate the digest")
	}
}

func TestValidFrequency(t *testing.T) {
	tests := []struct {
		hours    int
		expected bool
	}{
		{6, true},
		{12, true},
		{24, true},
		{0, false},
		{1, false},
		{7, false},
		{48, false},
		{-6, false},
	}

	for _, tt := range tests {
		if got := ValidFrequency(tt.hours); got != tt.expected {
			t.Errorf("ValidFrequency(%d) = %v, want %v", tt.hours, got, tt.expected)
		}
	}
}

func TestRunStatus_Constants(t *testing.T) {
	tests := []struct {
		name     string
		status   RunStatus
		expected string
	}{
		{"pending", RunStatusPending, "pending"},
		{"running", RunStatusRunning, "running"},
		{"success", RunStatusSuccess, "success"},
		{"error", RunStatusError, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.status) != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, tt.status)
			}
		})
	}
}
