package job

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/check"
)

func TestBackoff(t *testing.T) {
	base := 2 * time.Second
	max := 30 * time.Second

	tests := []struct {
		attempts int
		expected time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{50, 30 * time.Second},
	}

	for _, tt := range tests {
		check.Equal(t, tt.expected, Backoff(tt.attempts, base, max))
	}
}

func TestIsDue(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	id := uuid.New()
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	tests := []struct {
		name     string
		job      ScheduledJob
		expected bool
	}{
		{"pending and due", ScheduledJob{AuctionID: &id, Status: StatusPending, DueAt: past}, true},
		{"due exactly now", ScheduledJob{Status: StatusPending, DueAt: now}, true},
		{"not yet due", ScheduledJob{Status: StatusPending, DueAt: future}, false},
		{"completed", ScheduledJob{Status: StatusCompleted, DueAt: past}, false},
		{"leased", ScheduledJob{Status: StatusPending, DueAt: past, LockedUntil: &future}, false},
		{"lease expired", ScheduledJob{Status: StatusPending, DueAt: past, LockedUntil: &past}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check.Equal(t, tt.expected, tt.job.IsDue(now))
		})
	}
}
