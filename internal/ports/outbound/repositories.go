package outbound

import (
	"context"
	"time"

	"troffee-auction-engine/internal/domain/auction"
	"troffee-auction-engine/internal/domain/bid"
	"troffee-auction-engine/internal/domain/job"
	"troffee-auction-engine/internal/domain/payment"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionRepository defines the interface for auction data operations.
// Every mutation of a live auction is a conditional write against the state
// the caller last read.
type AuctionRepository interface {
	// Create creates a new auction
	Create(ctx context.Context, auction *auction.Auction) error

	// GetByID retrieves an auction by ID
	GetByID(ctx context.Context, id uuid.UUID) (*auction.Auction, error)

	// List retrieves a list of auctions with optional filters
	List(ctx context.Context, status *auction.Status, page, pageSize int) ([]*auction.Auction, error)

	// UpdateDraft overwrites the listing fields of a draft auction
	UpdateDraft(ctx context.Context, auction *auction.Auction) error

	// Delete deletes a draft auction
	Delete(ctx context.Context, id uuid.UUID) error

	// ApplyBid appends the bid and moves the auction's price to its amount,
	// only if the auction is active, open at the bid's timestamp, and still at
	// expectedPrice/expectedBidCount. Otherwise it returns shared.ErrBidConflict.
	ApplyBid(ctx context.Context, bid *bid.Bid, expectedPrice decimal.Decimal, expectedBidCount int) error

	// Transition persists status, winner, final price and payment status of the
	// auction if it is still in status from with expectedBidCount bids and the
	// end date of the given auction. Otherwise it returns
	// shared.ErrTransitionConflict.
	Transition(ctx context.Context, auction *auction.Auction, from auction.Status, expectedBidCount int) error

	// UpdateEndDate moves the end date of an active auction
	UpdateEndDate(ctx context.Context, id uuid.UUID, endDate time.Time, updatedAt time.Time) error

	// SetPaymentStatus records the settlement state of a sold auction
	SetPaymentStatus(ctx context.Context, id uuid.UUID, status auction.PaymentStatus, updatedAt time.Time) error

	// ListEndingBetween returns active auctions that end in (from, to] and have
	// not been flagged as ending soon
	ListEndingBetween(ctx context.Context, from, to time.Time) ([]*auction.Auction, error)

	// MarkEndingSoonNotified flags the auction and reports whether this call
	// was the one that flipped the flag
	MarkEndingSoonNotified(ctx context.Context, id uuid.UUID) (bool, error)
}

// BidRepository defines the interface for bid data operations.
// Bids are written only through AuctionRepository.ApplyBid.
type BidRepository interface {
	// GetByAuctionID retrieves all bids for an auction, oldest first
	GetByAuctionID(ctx context.Context, auctionID uuid.UUID) ([]*bid.Bid, error)

	// GetHighestBid retrieves the highest bid for an auction
	GetHighestBid(ctx context.Context, auctionID uuid.UUID) (*bid.Bid, error)
}

// PaymentHoldRepository defines the interface for payment hold data operations
type PaymentHoldRepository interface {
	// Create stores a hold. It returns shared.ErrHoldAlreadyExists if the
	// bidder already has a live hold on the auction.
	Create(ctx context.Context, hold *payment.Hold) error

	// GetLive retrieves the live hold of a bidder on an auction
	GetLive(ctx context.Context, auctionID, bidderID uuid.UUID) (*payment.Hold, error)

	// ListByAuction retrieves every hold taken on an auction
	ListByAuction(ctx context.Context, auctionID uuid.UUID) ([]*payment.Hold, error)

	// Update persists status and charge flags of a hold
	Update(ctx context.Context, hold *payment.Hold) error
}

// JobRepository defines the persistence the scheduler needs
type JobRepository interface {
	// Upsert inserts a pending job or replaces the due time of the pending job
	// with the same type and target, returning the stored job
	Upsert(ctx context.Context, job *job.ScheduledJob) (*job.ScheduledJob, error)

	// CancelByAuction removes every pending job targeting the auction
	CancelByAuction(ctx context.Context, auctionID uuid.UUID) (int, error)

	// ClaimDue leases up to limit due jobs until now+lease
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*job.ScheduledJob, error)

	// Finish persists status, attempts, last error and due time of a claimed
	// job if its revision is unchanged. A job rescheduled while it ran is only
	// released and Finish reports false.
	Finish(ctx context.Context, job *job.ScheduledJob) (bool, error)
}
