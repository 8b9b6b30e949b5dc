package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"troffee-auction-engine/internal/adapters/metrics"
	"troffee-auction-engine/internal/domain/auction"
	"troffee-auction-engine/internal/domain/bid"
	"troffee-auction-engine/internal/domain/payment"
	"troffee-auction-engine/internal/domain/shared"
	"troffee-auction-engine/internal/ports/inbound"
	"troffee-auction-engine/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// BidService is the bidding engine: it validates bids, takes the bidder's
// payment hold and commits accepted bids with a conditional write
type BidService struct {
	auctionRepo outbound.AuctionRepository
	bidRepo     outbound.BidRepository
	holdRepo    outbound.PaymentHoldRepository
	gateway     outbound.PaymentGateway
	announcer   announcer
	metrics     *metrics.Collector
	maxRetries  int
	commission  decimal.Decimal
	currency    string
	clock       func() time.Time
	logger      zerolog.Logger
}

type BidServiceParams struct {
	AuctionRepo outbound.AuctionRepository
	BidRepo     outbound.BidRepository
	HoldRepo    outbound.PaymentHoldRepository
	Gateway     outbound.PaymentGateway
	Publisher   outbound.EventPublisher
	Metrics     *metrics.Collector
	MaxRetries  int
	Commission  decimal.Decimal
	Currency    string
	Clock       func() time.Time
	Logger      zerolog.Logger
}

var _ inbound.BidService = (*BidService)(nil)

// NewBidService creates a new bid service
func NewBidService(params BidServiceParams) *BidService {
	clock := params.Clock
	if clock == nil {
		clock = systemClock
	}
	logger := params.Logger.With().Str("component", "bid_service").Logger()

	return &BidService{
		auctionRepo: params.AuctionRepo,
		bidRepo:     params.BidRepo,
		holdRepo:    params.HoldRepo,
		gateway:     params.Gateway,
		announcer:   announcer{publisher: params.Publisher, logger: logger},
		metrics:     params.Metrics,
		maxRetries:  params.MaxRetries,
		commission:  params.Commission,
		currency:    params.Currency,
		clock:       clock,
		logger:      logger,
	}
}

// PlaceBid places a new bid on an auction. A bid that loses a race with a
// concurrent bid is re-evaluated against the new price up to maxRetries times.
func (s *BidService) PlaceBid(ctx context.Context, req inbound.PlaceBidRequest) (*bid.Bid, error) {
	logger := s.logger.With().
		Str("auction_id", req.AuctionID.String()).
		Str("bidder_id", req.BidderID.String()).
		Str("amount", req.Amount.String()).
		Logger()

	if !req.Amount.IsPositive() {
		s.reject(logger, shared.ErrBidAmountInvalid)
		return nil, shared.ErrBidAmountInvalid
	}
	if !fitsMoneyScale(req.Amount) {
		s.reject(logger, shared.ErrAmountPrecision)
		return nil, shared.ErrAmountPrecision
	}

	for attempt := 0; ; attempt++ {
		now := s.clock()

		a, err := s.auctionRepo.GetByID(ctx, req.AuctionID)
		if err != nil {
			s.reject(logger, err)
			return nil, err
		}

		if err := s.checkPreconditions(ctx, a, req, now); err != nil {
			s.reject(logger, err)
			return nil, err
		}

		newBid := &bid.Bid{
			ID:        uuid.New(),
			AuctionID: a.ID,
			BidderID:  req.BidderID,
			Amount:    req.Amount,
			Timestamp: now,
		}

		err = s.auctionRepo.ApplyBid(ctx, newBid, a.CurrentPrice, a.BidCount)
		if err == nil {
			a.CurrentPrice = newBid.Amount
			a.CurrentBidderID = &newBid.BidderID
			a.BidCount++
			s.accepted(ctx, logger, a, newBid)
			return newBid, nil
		}

		if !errors.Is(err, shared.ErrBidConflict) || attempt >= s.maxRetries {
			s.reject(logger, err)
			return nil, err
		}

		logger.Debug().Int("attempt", attempt+1).Msg("Auction changed under the bid, re-evaluating")
	}
}

// checkPreconditions runs the bid checks in order, each with its own error.
// The payment hold is taken before the amount check.
func (s *BidService) checkPreconditions(ctx context.Context, a *auction.Auction, req inbound.PlaceBidRequest, now time.Time) error {
	if !a.IsActive() {
		return shared.ErrAuctionNotActive
	}
	if !now.Before(a.EndDate) {
		return shared.ErrAuctionClosed
	}
	if a.SellerID == req.BidderID {
		return shared.ErrSellerCannotBid
	}
	if err := s.ensureHold(ctx, a.ID, req.BidderID, now); err != nil {
		return err
	}
	if minimum := a.MinimumNextBid(); req.Amount.LessThan(minimum) {
		return fmt.Errorf("%w: minimum is %s", shared.ErrBidBelowMinimum, minimum.String())
	}
	return nil
}

// ensureHold creates the bidder's payment hold on their first bid
func (s *BidService) ensureHold(ctx context.Context, auctionID, bidderID uuid.UUID, now time.Time) error {
	_, err := s.holdRepo.GetLive(ctx, auctionID, bidderID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, shared.ErrHoldNotFound) {
		return err
	}

	ref, err := s.gateway.CreateHold(ctx, bidderID.String(), s.commission)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("auction_id", auctionID.String()).
			Str("bidder_id", bidderID.String()).
			Msg("Payment hold creation failed")
		return fmt.Errorf("%w: %v", shared.ErrPaymentHoldFailed, err)
	}

	hold := &payment.Hold{
		ID:                  uuid.New(),
		AuctionID:           auctionID,
		BidderID:            bidderID,
		Amount:              s.commission,
		Currency:            s.currency,
		ExternalReferenceID: ref,
		Status:              payment.HoldStatusAuthorized,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	err = s.holdRepo.Create(ctx, hold)
	if errors.Is(err, shared.ErrHoldAlreadyExists) {
		// a concurrent bid of the same bidder stored its hold first
		if cerr := s.gateway.Cancel(ctx, ref); cerr != nil {
			s.logger.Warn().Err(cerr).Str("hold_ref", ref).Msg("Failed to release duplicate payment hold")
		}
		return nil
	}
	if err != nil {
		if cerr := s.gateway.Cancel(ctx, ref); cerr != nil {
			s.logger.Warn().Err(cerr).Str("hold_ref", ref).Msg("Failed to release unrecorded payment hold")
		}
		return err
	}

	s.logger.Info().
		Str("auction_id", auctionID.String()).
		Str("bidder_id", bidderID.String()).
		Str("hold_id", hold.ID.String()).
		Msg("Payment hold created")
	return nil
}

func (s *BidService) accepted(ctx context.Context, logger zerolog.Logger, a *auction.Auction, b *bid.Bid) {
	s.metrics.BidAccepted()

	s.announcer.publish(ctx, a.ID, outbound.EventTypeBidPlaced, map[string]interface{}{
		"bid_id":           b.ID.String(),
		"bidder_id":        b.BidderID.String(),
		"amount":           b.Amount.String(),
		"bid_count":        a.BidCount,
		"minimum_next_bid": a.MinimumNextBid().String(),
		"placed_at":        b.Timestamp.Format(time.RFC3339Nano),
	}, b.Timestamp)

	logger.Info().Str("bid_id", b.ID.String()).Int("bid_count", a.BidCount).Msg("Bid accepted")
}

func (s *BidService) reject(logger zerolog.Logger, err error) {
	s.metrics.BidRejected(rejectReason(err))

	if shared.IsValidation(err) || shared.IsStateConflict(err) {
		logger.Info().Err(err).Msg("Bid rejected")
		return
	}
	logger.Error().Err(err).Msg("Bid failed")
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, shared.ErrAuctionNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrAuctionNotActive):
		return "not_active"
	case errors.Is(err, shared.ErrAuctionClosed):
		return "closed"
	case errors.Is(err, shared.ErrSellerCannotBid):
		return "seller"
	case errors.Is(err, shared.ErrPaymentHoldFailed):
		return "payment_hold"
	case errors.Is(err, shared.ErrBidBelowMinimum):
		return "below_minimum"
	case errors.Is(err, shared.ErrBidAmountInvalid), errors.Is(err, shared.ErrAmountPrecision):
		return "invalid_amount"
	case errors.Is(err, shared.ErrBidConflict):
		return "conflict"
	default:
		return "error"
	}
}

// GetBids retrieves bids for an auction
func (s *BidService) GetBids(ctx context.Context, auctionID uuid.UUID) ([]*bid.Bid, error) {
	return s.bidRepo.GetByAuctionID(ctx, auctionID)
}

// GetHighestBid retrieves the highest bid for an auction
func (s *BidService) GetHighestBid(ctx context.Context, auctionID uuid.UUID) (*bid.Bid, error) {
	return s.bidRepo.GetHighestBid(ctx, auctionID)
}
