package outbound

import (
	"context"
	"time"

	"troffee-auction-engine/internal/domain/job"

	"github.com/google/uuid"
)

// JobScheduler is the part of the scheduler the application services drive
type JobScheduler interface {
	// Schedule creates or reschedules the job of the given type for an auction
	Schedule(ctx context.Context, jobType job.Type, auctionID uuid.UUID, dueAt time.Time) error

	// Cancel removes all pending jobs for an auction
	Cancel(ctx context.Context, auctionID uuid.UUID) error
}
