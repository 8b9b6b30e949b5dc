package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"troffee-auction-engine/internal/domain/auction"
	"troffee-auction-engine/internal/domain/job"
	"troffee-auction-engine/internal/domain/shared"
	"troffee-auction-engine/internal/ports/inbound"
	"troffee-auction-engine/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// AuctionService handles listing intake and auction state queries
type AuctionService struct {
	auctionRepo outbound.AuctionRepository
	scheduler   outbound.JobScheduler
	announcer   announcer
	clock       func() time.Time
	logger      zerolog.Logger
}

type AuctionServiceParams struct {
	AuctionRepo outbound.AuctionRepository
	Scheduler   outbound.JobScheduler
	Publisher   outbound.EventPublisher
	Clock       func() time.Time
	Logger      zerolog.Logger
}

var _ inbound.AuctionService = (*AuctionService)(nil)

// NewAuctionService creates a new auction service
func NewAuctionService(params AuctionServiceParams) *AuctionService {
	clock := params.Clock
	if clock == nil {
		clock = systemClock
	}
	logger := params.Logger.With().Str("component", "auction_service").Logger()

	return &AuctionService{
		auctionRepo: params.AuctionRepo,
		scheduler:   params.Scheduler,
		announcer:   announcer{publisher: params.Publisher, logger: logger},
		clock:       clock,
		logger:      logger,
	}
}

// moneyScale is the number of decimal places money columns are stored with
const moneyScale = 2

// fitsMoneyScale reports whether d is stored without rounding
func fitsMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(moneyScale))
}

func validateListing(req inbound.CreateAuctionRequest, now time.Time) error {
	switch {
	case !req.StartDate.After(now):
		return shared.ErrInvalidStartTime
	case !req.EndDate.After(req.StartDate):
		return shared.ErrInvalidEndTime
	case !req.StartPrice.IsPositive():
		return shared.ErrInvalidStartingPrice
	case !req.BidIncrement.IsPositive():
		return shared.ErrInvalidBidIncrement
	case req.ReservePrice.Valid && req.ReservePrice.Decimal.LessThan(req.StartPrice):
		return shared.ErrInvalidReservePrice
	case !fitsMoneyScale(req.StartPrice) || !fitsMoneyScale(req.BidIncrement):
		return shared.ErrAmountPrecision
	case req.ReservePrice.Valid && !fitsMoneyScale(req.ReservePrice.Decimal):
		return shared.ErrAmountPrecision
	}
	return nil
}

func applyListing(a *auction.Auction, req inbound.CreateAuctionRequest) {
	a.SellerID = req.SellerID
	a.Title = req.Title
	a.Category = req.Category
	a.Specifications = req.Specifications
	a.StartPrice = req.StartPrice
	a.BidIncrement = req.BidIncrement
	a.ReservePrice = req.ReservePrice
	a.StartDate = req.StartDate.UTC()
	a.EndDate = req.EndDate.UTC()
	a.CurrentPrice = req.StartPrice
}

// CreateAuction stores a draft auction and schedules its activation and end
func (service *AuctionService) CreateAuction(ctx context.Context, req inbound.CreateAuctionRequest) (*auction.Auction, error) {
	now := service.clock()

	if err := validateListing(req, now); err != nil {
		service.logger.Warn().Err(err).Str("seller_id", req.SellerID.String()).Msg("Rejected listing")
		return nil, err
	}

	a := &auction.Auction{
		ID:            uuid.New(),
		Status:        auction.StatusDraft,
		PaymentStatus: auction.PaymentStatusNone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	applyListing(a, req)

	if err := service.auctionRepo.Create(ctx, a); err != nil {
		service.logger.Error().Err(err).Str("auction_id", a.ID.String()).Msg("Failed to save auction")
		return nil, err
	}

	service.logger.Info().
		Str("auction_id", a.ID.String()).
		Str("seller_id", a.SellerID.String()).
		Time("start_date", a.StartDate).
		Time("end_date", a.EndDate).
		Str("start_price", a.StartPrice.String()).
		Msg("Auction created")

	if err := service.scheduleLifecycle(ctx, a, now); err != nil {
		return a, err
	}

	return a, nil
}

// scheduleLifecycle (re)schedules the activate and end jobs of a. A start
// date already in the past activates on the next poll.
func (service *AuctionService) scheduleLifecycle(ctx context.Context, a *auction.Auction, now time.Time) error {
	activateAt := a.StartDate
	if activateAt.Before(now) {
		activateAt = now
	}

	if err := service.scheduler.Schedule(ctx, job.TypeActivate, a.ID, activateAt); err != nil {
		return err
	}
	return service.scheduler.Schedule(ctx, job.TypeEnd, a.ID, a.EndDate)
}

// ApproveAuction moves a draft auction to approved
func (service *AuctionService) ApproveAuction(ctx context.Context, auctionID uuid.UUID) (*auction.Auction, error) {
	a, err := service.auctionRepo.GetByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	if a.Status != auction.StatusDraft {
		service.logger.Warn().Str("auction_id", auctionID.String()).Str("status", string(a.Status)).Msg("Only draft auctions can be approved")
		return nil, shared.ErrInvalidTransition
	}

	now := service.clock()
	a.Status = auction.StatusApproved
	a.UpdatedAt = now
	if err := service.auctionRepo.Transition(ctx, a, auction.StatusDraft, a.BidCount); err != nil {
		return nil, err
	}

	service.logger.Info().Str("auction_id", auctionID.String()).Msg("Auction approved")

	if err := service.scheduleLifecycle(ctx, a, now); err != nil {
		return a, err
	}
	return a, nil
}

// UpdateDraft edits a draft auction and reschedules its jobs
func (service *AuctionService) UpdateDraft(ctx context.Context, req inbound.UpdateDraftRequest) (*auction.Auction, error) {
	a, err := service.auctionRepo.GetByID(ctx, req.AuctionID)
	if err != nil {
		return nil, err
	}
	if !a.IsEditable() {
		return nil, shared.ErrAuctionNotEditable
	}

	now := service.clock()
	if err := validateListing(req.CreateAuctionRequest, now); err != nil {
		return nil, err
	}

	applyListing(a, req.CreateAuctionRequest)
	a.UpdatedAt = now

	if err := service.auctionRepo.UpdateDraft(ctx, a); err != nil {
		service.logger.Error().Err(err).Str("auction_id", a.ID.String()).Msg("Failed to update draft")
		return nil, err
	}

	if err := service.scheduler.Cancel(ctx, a.ID); err != nil {
		return a, err
	}
	if err := service.scheduleLifecycle(ctx, a, now); err != nil {
		return a, err
	}

	service.logger.Info().Str("auction_id", a.ID.String()).Msg("Draft auction updated")
	return a, nil
}

// CancelAuction cancels a draft auction and its pending jobs
func (service *AuctionService) CancelAuction(ctx context.Context, auctionID uuid.UUID) (*auction.Auction, error) {
	a, err := service.auctionRepo.GetByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if a.Status != auction.StatusDraft {
		return nil, shared.ErrInvalidTransition
	}

	a.Status = auction.StatusCancelled
	a.UpdatedAt = service.clock()
	if err := service.auctionRepo.Transition(ctx, a, auction.StatusDraft, a.BidCount); err != nil {
		return nil, err
	}

	if err := service.scheduler.Cancel(ctx, auctionID); err != nil {
		return a, err
	}

	service.logger.Info().Str("auction_id", auctionID.String()).Msg("Auction cancelled")
	return a, nil
}

// DeleteAuction deletes a draft auction and its pending jobs
func (service *AuctionService) DeleteAuction(ctx context.Context, auctionID uuid.UUID) error {
	if err := service.auctionRepo.Delete(ctx, auctionID); err != nil {
		return err
	}

	if err := service.scheduler.Cancel(ctx, auctionID); err != nil {
		return err
	}

	service.logger.Info().Str("auction_id", auctionID.String()).Msg("Auction deleted")
	return nil
}

// ExtendEndDate moves the end date of an approved or active auction later and
// reschedules its end. A running end job sees the new date and reschedules too.
func (service *AuctionService) ExtendEndDate(ctx context.Context, auctionID uuid.UUID, endDate time.Time) (*auction.Auction, error) {
	a, err := service.auctionRepo.GetByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if a.Status != auction.StatusActive && a.Status != auction.StatusApproved {
		return nil, shared.ErrInvalidTransition
	}

	endDate = endDate.UTC()
	if !endDate.After(a.EndDate) {
		return nil, shared.ErrInvalidExtension
	}

	now := service.clock()
	if err := service.auctionRepo.UpdateEndDate(ctx, auctionID, endDate, now); err != nil {
		return nil, err
	}
	previous := a.EndDate
	a.EndDate = endDate
	a.EndingSoonNotified = false
	a.UpdatedAt = now

	if err := service.scheduler.Schedule(ctx, job.TypeEnd, auctionID, endDate); err != nil {
		return a, err
	}

	service.announcer.publish(ctx, auctionID, outbound.EventTypeAuctionEndDateChanged, map[string]interface{}{
		"previous_end_date": previous.Format(time.RFC3339),
		"end_date":          endDate.Format(time.RFC3339),
	}, now)

	service.logger.Info().
		Str("auction_id", auctionID.String()).
		Time("previous_end_date", previous).
		Time("end_date", endDate).
		Msg("Auction end date extended")

	return a, nil
}

// GetAuctionState retrieves the live state of an auction
func (service *AuctionService) GetAuctionState(ctx context.Context, auctionID uuid.UUID) (*inbound.AuctionState, error) {
	a, err := service.auctionRepo.GetByID(ctx, auctionID)
	if err != nil {
		if !errors.Is(err, shared.ErrAuctionNotFound) {
			service.logger.Error().Err(err).Str("auction_id", auctionID.String()).Msg("Failed to retrieve auction")
		}
		return nil, err
	}

	return &inbound.AuctionState{
		Auction:        a,
		MinimumNextBid: a.MinimumNextBid(),
		AcceptingBids:  a.CanBid(service.clock()),
	}, nil
}

// ListAuctions retrieves a list of auctions
func (service *AuctionService) ListAuctions(ctx context.Context, req inbound.ListAuctionsRequest) ([]*auction.Auction, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 10
	}

	return service.auctionRepo.List(ctx, req.Status, req.Page, req.PageSize)
}

// CancelAuctionJobs removes every pending scheduler job of an auction
func (service *AuctionService) CancelAuctionJobs(ctx context.Context, auctionID uuid.UUID) error {
	if err := service.scheduler.Cancel(ctx, auctionID); err != nil {
		return fmt.Errorf("failed to cancel auction jobs: %w", err)
	}
	return nil
}
