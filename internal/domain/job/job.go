package job

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the handler a scheduled job is dispatched to
type Type string

const (
	TypeActivate         Type = "activate"
	TypeEnd              Type = "end"
	TypeNotifyEndingSoon Type = "notify-ending-soon"
)

// Status represents the state of a scheduled job
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ScheduledJob is a durable, time-triggered unit of work. At most one pending
// job exists per (Type, AuctionID); scheduling again replaces DueAt and bumps
// Revision.
type ScheduledJob struct {
	ID          uuid.UUID  `json:"id"`
	Type        Type       `json:"job_type"`
	AuctionID   *uuid.UUID `json:"auction_id,omitempty"`
	DueAt       time.Time  `json:"due_at"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	Status      Status     `json:"status"`
	Revision    int64      `json:"revision"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsDue returns true if the job is pending, unleased and due at now
func (j *ScheduledJob) IsDue(now time.Time) bool {
	if j.Status != StatusPending || j.DueAt.After(now) {
		return false
	}
	return j.LockedUntil == nil || !j.LockedUntil.After(now)
}

// Target returns the auction ID as a string for logging
func (j *ScheduledJob) Target() string {
	if j.AuctionID == nil {
		return ""
	}
	return j.AuctionID.String()
}

// Clone returns a copy that shares no pointers with j
func (j *ScheduledJob) Clone() *ScheduledJob {
	c := *j
	if j.AuctionID != nil {
		id := *j.AuctionID
		c.AuctionID = &id
	}
	if j.LockedUntil != nil {
		until := *j.LockedUntil
		c.LockedUntil = &until
	}
	return &c
}

// Backoff returns the retry delay after the given number of failed attempts:
// base doubled per attempt, capped at max.
func Backoff(attempts int, base, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
