package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"troffee-auction-engine/internal/adapters/metrics"
	"troffee-auction-engine/internal/domain/auction"
	"troffee-auction-engine/internal/domain/payment"
	"troffee-auction-engine/internal/domain/shared"
	"troffee-auction-engine/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SettlementService captures the winner's payment hold once an auction is
// sold and releases the holds of everyone else
type SettlementService struct {
	auctionRepo    outbound.AuctionRepository
	holdRepo       outbound.PaymentHoldRepository
	gateway        outbound.PaymentGateway
	announcer      announcer
	metrics        *metrics.Collector
	captureTimeout time.Duration
	clock          func() time.Time
	logger         zerolog.Logger
}

type SettlementServiceParams struct {
	AuctionRepo    outbound.AuctionRepository
	HoldRepo       outbound.PaymentHoldRepository
	Gateway        outbound.PaymentGateway
	Publisher      outbound.EventPublisher
	Notifier       outbound.Notifier
	Metrics        *metrics.Collector
	CaptureTimeout time.Duration
	Clock          func() time.Time
	Logger         zerolog.Logger
}

func NewSettlementService(params SettlementServiceParams) *SettlementService {
	clock := params.Clock
	if clock == nil {
		clock = systemClock
	}
	timeout := params.CaptureTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := params.Logger.With().Str("component", "settlement").Logger()

	return &SettlementService{
		auctionRepo:    params.AuctionRepo,
		holdRepo:       params.HoldRepo,
		gateway:        params.Gateway,
		announcer:      announcer{publisher: params.Publisher, notifier: params.Notifier, logger: logger},
		metrics:        params.Metrics,
		captureTimeout: timeout,
		clock:          clock,
		logger:         logger,
	}
}

// Settle captures the winner's hold of a sold auction. It is safe to call
// repeatedly: a settled auction or a captured hold never reaches the gateway,
// and a hold whose capture was sent but not recorded goes to reconciliation
// instead of being captured again.
// Financial mismatches are recorded as paymentStatus failed and returned as
// errors matching shared.ErrFinancialMismatch.
func (s *SettlementService) Settle(ctx context.Context, auctionID uuid.UUID) (*shared.SettlementResult, error) {
	logger := s.logger.With().Str("auction_id", auctionID.String()).Logger()

	a, err := s.auctionRepo.GetByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if a.Status != auction.StatusSold {
		return nil, shared.ErrInvalidTransition
	}

	result := &shared.SettlementResult{AuctionID: auctionID, PaymentStatus: string(a.PaymentStatus)}
	if a.PaymentStatus.IsSettled() {
		logger.Debug().Str("payment_status", string(a.PaymentStatus)).Msg("Auction already settled")
		return result, nil
	}
	if a.WinnerID == nil {
		return s.fail(ctx, a, result, shared.ErrHoldMissing)
	}

	hold, err := s.holdRepo.GetLive(ctx, a.ID, *a.WinnerID)
	switch {
	case errors.Is(err, shared.ErrHoldNotFound):
		return s.fail(ctx, a, result, shared.ErrHoldMissing)
	case err != nil:
		return nil, err
	case hold.IsCaptured():
		return s.paid(ctx, a, hold, result)
	case !hold.IsCapturable():
		return s.fail(ctx, a, result, shared.ErrHoldMissing)
	case hold.ChargeAttempted:
		logger.Error().Str("hold_id", hold.ID.String()).Msg("Earlier capture has no recorded outcome")
		return s.fail(ctx, a, result, shared.ErrCaptureUnconfirmed)
	}

	hold.MarkCaptureStarted(s.clock())
	if err := s.holdRepo.Update(ctx, hold); err != nil {
		return nil, fmt.Errorf("failed to record capture attempt: %w", err)
	}

	captureCtx, cancel := context.WithTimeout(ctx, s.captureTimeout)
	err = s.gateway.Capture(captureCtx, hold.ExternalReferenceID)
	cancel()
	result.GatewayCalled = true

	now := s.clock()
	if err != nil {
		logger.Error().Err(err).Str("hold_id", hold.ID.String()).Msg("Capture failed")
		hold.MarkCaptureFailed(now)
		if uerr := s.holdRepo.Update(ctx, hold); uerr != nil {
			logger.Error().Err(uerr).Str("hold_id", hold.ID.String()).Msg("Failed to record capture attempt")
		}
		return s.fail(ctx, a, result, fmt.Errorf("%w: %v", shared.ErrCaptureFailed, err))
	}

	hold.MarkCaptured(now)
	if err := s.holdRepo.Update(ctx, hold); err != nil {
		logger.Error().Err(err).Str("hold_id", hold.ID.String()).Msg("Hold captured at the gateway but not recorded")
		return nil, err
	}
	result.Captured = true

	return s.paid(ctx, a, hold, result)
}

func (s *SettlementService) paid(ctx context.Context, a *auction.Auction, hold *payment.Hold, result *shared.SettlementResult) (*shared.SettlementResult, error) {
	now := s.clock()
	if err := s.auctionRepo.SetPaymentStatus(ctx, a.ID, auction.PaymentStatusPaid, now); err != nil {
		return nil, err
	}
	a.PaymentStatus = auction.PaymentStatusPaid
	result.PaymentStatus = string(auction.PaymentStatusPaid)

	s.metrics.Settlement(string(auction.PaymentStatusPaid))
	s.announcer.publish(ctx, a.ID, outbound.EventTypePaymentCaptured, map[string]interface{}{
		"hold_id":   hold.ID.String(),
		"winner_id": hold.BidderID.String(),
		"amount":    hold.Amount.String(),
		"currency":  hold.Currency,
	}, now)

	s.logger.Info().Str("auction_id", a.ID.String()).Str("hold_id", hold.ID.String()).Msg("Auction settled")
	return result, nil
}

// fail leaves the explicit paymentStatus=failed trail for operators
func (s *SettlementService) fail(ctx context.Context, a *auction.Auction, result *shared.SettlementResult, cause error) (*shared.SettlementResult, error) {
	now := s.clock()
	if err := s.auctionRepo.SetPaymentStatus(ctx, a.ID, auction.PaymentStatusFailed, now); err != nil {
		return nil, errors.Join(cause, err)
	}
	a.PaymentStatus = auction.PaymentStatusFailed
	result.PaymentStatus = string(auction.PaymentStatusFailed)
	result.Err = cause

	s.metrics.Settlement(string(auction.PaymentStatusFailed))
	s.announcer.publish(ctx, a.ID, outbound.EventTypePaymentFailed, map[string]interface{}{
		"reason": cause.Error(),
	}, now)
	s.announcer.notify(ctx, a.WinnerID, outbound.NotificationPaymentFailed, a, now)
	s.announcer.notify(ctx, &a.SellerID, outbound.NotificationPaymentFailed, a, now)

	s.logger.Error().Err(cause).Str("auction_id", a.ID.String()).Msg("Settlement failed, operator reconciliation required")
	return result, cause
}

// ReleaseHolds cancels the live holds of every bidder except the winner.
// Gateway failures are logged and leave the hold live for a later attempt.
func (s *SettlementService) ReleaseHolds(ctx context.Context, a *auction.Auction) (int, error) {
	holds, err := s.holdRepo.ListByAuction(ctx, a.ID)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, hold := range holds {
		if !hold.IsCapturable() {
			continue
		}
		if a.WinnerID != nil && hold.BidderID == *a.WinnerID {
			continue
		}

		if err := s.gateway.Cancel(ctx, hold.ExternalReferenceID); err != nil {
			s.logger.Warn().Err(err).
				Str("auction_id", a.ID.String()).
				Str("hold_id", hold.ID.String()).
				Msg("Failed to release payment hold")
			continue
		}

		hold.MarkCanceled(s.clock())
		if err := s.holdRepo.Update(ctx, hold); err != nil {
			s.logger.Error().Err(err).Str("hold_id", hold.ID.String()).Msg("Failed to record released hold")
			continue
		}
		released++
	}

	if released > 0 {
		s.logger.Info().Str("auction_id", a.ID.String()).Int("released", released).Msg("Released payment holds")
	}
	return released, nil
}
