package inbound

import (
	"context"
	"time"

	"troffee-auction-engine/internal/domain/auction"
	"troffee-auction-engine/internal/domain/bid"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionService defines the interface for auction operations
type AuctionService interface {
	// CreateAuction stores a draft auction handed over by listing intake and
	// schedules its activation and end
	CreateAuction(ctx context.Context, req CreateAuctionRequest) (*auction.Auction, error)

	// ApproveAuction moves a draft auction to approved
	ApproveAuction(ctx context.Context, auctionID uuid.UUID) (*auction.Auction, error)

	// UpdateDraft edits a draft auction and reschedules its jobs
	UpdateDraft(ctx context.Context, req UpdateDraftRequest) (*auction.Auction, error)

	// CancelAuction cancels a draft auction and its pending jobs
	CancelAuction(ctx context.Context, auctionID uuid.UUID) (*auction.Auction, error)

	// DeleteAuction deletes a draft auction and its pending jobs
	DeleteAuction(ctx context.Context, auctionID uuid.UUID) error

	// ExtendEndDate moves the end date of an active auction later
	ExtendEndDate(ctx context.Context, auctionID uuid.UUID, endDate time.Time) (*auction.Auction, error)

	// GetAuctionState retrieves the live state of an auction
	GetAuctionState(ctx context.Context, auctionID uuid.UUID) (*AuctionState, error)

	// ListAuctions retrieves a list of auctions
	ListAuctions(ctx context.Context, req ListAuctionsRequest) ([]*auction.Auction, error)

	// CancelAuctionJobs removes every pending scheduler job of an auction
	CancelAuctionJobs(ctx context.Context, auctionID uuid.UUID) error
}

// BidService defines the interface for bid operations
type BidService interface {
	// PlaceBid places a new bid on an auction
	PlaceBid(ctx context.Context, req PlaceBidRequest) (*bid.Bid, error)

	// GetBids retrieves bids for an auction
	GetBids(ctx context.Context, auctionID uuid.UUID) ([]*bid.Bid, error)

	// GetHighestBid retrieves the highest bid for an auction
	GetHighestBid(ctx context.Context, auctionID uuid.UUID) (*bid.Bid, error)
}

// AuctionState is the read model returned to collaborators
type AuctionState struct {
	Auction        *auction.Auction `json:"auction"`
	MinimumNextBid decimal.Decimal  `json:"minimum_next_bid"`
	AcceptingBids  bool             `json:"accepting_bids"`
}

// request to create an auction
type CreateAuctionRequest struct {
	SellerID       uuid.UUID              `json:"seller_id"`
	Title          string                 `json:"title"`
	Category       string                 `json:"category"`
	Specifications auction.Specifications `json:"specifications"`
	StartPrice     decimal.Decimal        `json:"start_price"`
	BidIncrement   decimal.Decimal        `json:"bid_increment"`
	ReservePrice   decimal.NullDecimal    `json:"reserve_price"`
	StartDate      time.Time              `json:"start_date"`
	EndDate        time.Time              `json:"end_date"`
}

// request to edit a draft auction
type UpdateDraftRequest struct {
	AuctionID uuid.UUID `json:"auction_id"`
	CreateAuctionRequest
}

// request to list auctions
type ListAuctionsRequest struct {
	Status   *auction.Status `json:"status,omitempty"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// request to place a bid
type PlaceBidRequest struct {
	AuctionID uuid.UUID       `json:"auction_id"`
	BidderID  uuid.UUID       `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
}
