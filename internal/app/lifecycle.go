package app

import (
	"context"
	"errors"
	"time"

	"troffee-auction-engine/internal/adapters/metrics"
	"troffee-auction-engine/internal/domain/auction"
	"troffee-auction-engine/internal/domain/job"
	"troffee-auction-engine/internal/domain/shared"
	"troffee-auction-engine/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LifecycleService drives auctions through the state machine. Its handlers
// read live state on every run, so a duplicate or stale job is a no-op.
type LifecycleService struct {
	auctionRepo      outbound.AuctionRepository
	bidRepo          outbound.BidRepository
	scheduler        outbound.JobScheduler
	settlement       *SettlementService
	announcer        announcer
	metrics          *metrics.Collector
	maxRetries       int
	endingSoonWindow time.Duration
	clock            func() time.Time
	logger           zerolog.Logger
}

type LifecycleServiceParams struct {
	AuctionRepo      outbound.AuctionRepository
	BidRepo          outbound.BidRepository
	Scheduler        outbound.JobScheduler
	Settlement       *SettlementService
	Publisher        outbound.EventPublisher
	Notifier         outbound.Notifier
	Metrics          *metrics.Collector
	MaxRetries       int
	EndingSoonWindow time.Duration
	Clock            func() time.Time
	Logger           zerolog.Logger
}

func NewLifecycleService(params LifecycleServiceParams) *LifecycleService {
	clock := params.Clock
	if clock == nil {
		clock = systemClock
	}
	logger := params.Logger.With().Str("component", "lifecycle").Logger()

	return &LifecycleService{
		auctionRepo:      params.AuctionRepo,
		bidRepo:          params.BidRepo,
		scheduler:        params.Scheduler,
		settlement:       params.Settlement,
		announcer:        announcer{publisher: params.Publisher, notifier: params.Notifier, logger: logger},
		metrics:          params.Metrics,
		maxRetries:       params.MaxRetries,
		endingSoonWindow: params.EndingSoonWindow,
		clock:            clock,
		logger:           logger,
	}
}

// HandleActivate is the scheduler handler of activate jobs
func (l *LifecycleService) HandleActivate(ctx context.Context, auctionID uuid.UUID) error {
	_, err := l.Activate(ctx, auctionID)
	return err
}

// HandleEnd is the scheduler handler of end jobs
func (l *LifecycleService) HandleEnd(ctx context.Context, auctionID uuid.UUID) error {
	_, err := l.Conclude(ctx, auctionID)
	return err
}

// Activate opens an approved auction for bidding once its start date is
// reached. Called early it reschedules itself at the start date.
func (l *LifecycleService) Activate(ctx context.Context, auctionID uuid.UUID) (*auction.Auction, error) {
	logger := l.logger.With().Str("auction_id", auctionID.String()).Logger()

	for attempt := 0; ; attempt++ {
		now := l.clock()

		a, err := l.auctionRepo.GetByID(ctx, auctionID)
		if err != nil {
			return nil, err
		}

		outcome, err := auction.Activate(a, now)
		if errors.Is(err, shared.ErrStartNotReached) {
			logger.Info().Time("start_date", a.StartDate).Msg("Start date not reached, rescheduling activation")
			return a, l.scheduler.Schedule(ctx, job.TypeActivate, a.ID, a.StartDate)
		}
		if err != nil {
			logger.Info().Err(err).Str("status", string(a.Status)).Msg("Activation not applicable")
			return a, err
		}
		if !outcome.Changed() {
			logger.Debug().Str("status", string(a.Status)).Msg("Activation already applied")
			return a, l.scheduleEnd(ctx, a)
		}

		outcome.Apply(a, now)
		err = l.auctionRepo.Transition(ctx, a, outcome.From, a.BidCount)
		if errors.Is(err, shared.ErrTransitionConflict) && attempt < l.maxRetries {
			continue
		}
		if err != nil {
			return nil, err
		}

		l.metrics.Transition(string(a.Status))
		l.announcer.publish(ctx, a.ID, outbound.EventTypeAuctionActivated, auctionEventData(a), now)
		l.announcer.notify(ctx, &a.SellerID, outbound.NotificationAuctionActivated, a, now)

		logger.Info().Time("end_date", a.EndDate).Msg("Auction activated")
		return a, l.scheduleEnd(ctx, a)
	}
}

// scheduleEnd makes sure an active auction has an end job. An end job that
// ran while the auction was still approved completed without closing it.
func (l *LifecycleService) scheduleEnd(ctx context.Context, a *auction.Auction) error {
	if a.Status != auction.StatusActive {
		return nil
	}
	return l.scheduler.Schedule(ctx, job.TypeEnd, a.ID, a.EndDate)
}

// Conclude ends an auction whose end date has passed. The transition is a
// conditional write on the bid count the decision was based on, so a bid
// committed in between forces a fresh decision.
func (l *LifecycleService) Conclude(ctx context.Context, auctionID uuid.UUID) (*shared.ConcludeResult, error) {
	logger := l.logger.With().Str("auction_id", auctionID.String()).Logger()

	for attempt := 0; ; attempt++ {
		now := l.clock()

		a, err := l.auctionRepo.GetByID(ctx, auctionID)
		if err != nil {
			return nil, err
		}

		bids, err := l.bidRepo.GetByAuctionID(ctx, auctionID)
		if err != nil {
			return nil, err
		}

		outcome, err := auction.Conclude(a, bids, now)
		if errors.Is(err, shared.ErrEndDateExtended) {
			logger.Info().Time("end_date", a.EndDate).Msg("End date moved, rescheduling conclusion")
			if err := l.scheduler.Schedule(ctx, job.TypeEnd, a.ID, a.EndDate); err != nil {
				return nil, err
			}
			return concludeResult(a, false, true), nil
		}
		if err != nil {
			logger.Info().Err(err).Str("status", string(a.Status)).Msg("Conclusion not applicable")
			return nil, err
		}

		if outcome.Changed() {
			outcome.Apply(a, now)
			err = l.auctionRepo.Transition(ctx, a, outcome.From, a.BidCount)
			if errors.Is(err, shared.ErrTransitionConflict) && attempt < l.maxRetries {
				logger.Debug().Int("attempt", attempt+1).Msg("Auction changed during conclusion, re-deciding")
				continue
			}
			if err != nil {
				return nil, err
			}
			l.concluded(ctx, a, outcome, now)
		} else {
			logger.Debug().Str("status", string(a.Status)).Msg("Conclusion already applied")
		}

		// Runs on replays too, finishing work a crashed run left behind.
		if err := l.afterConclude(ctx, a); err != nil {
			return nil, err
		}

		return concludeResult(a, outcome.Changed(), false), nil
	}
}

func (l *LifecycleService) concluded(ctx context.Context, a *auction.Auction, outcome auction.Outcome, now time.Time) {
	l.metrics.Transition(string(a.Status))
	l.announcer.publish(ctx, a.ID, outbound.LifecycleEventType(a.Status), auctionEventData(a), now)

	switch a.Status {
	case auction.StatusSold:
		l.announcer.notify(ctx, a.WinnerID, outbound.NotificationAuctionWon, a, now)
		l.announcer.notify(ctx, &a.SellerID, outbound.NotificationAuctionSold, a, now)
	case auction.StatusReserveNotMet:
		l.announcer.notify(ctx, &a.SellerID, outbound.NotificationReserveNotMet, a, now)
		if outcome.WinningBid != nil {
			l.announcer.notify(ctx, &outcome.WinningBid.BidderID, outbound.NotificationReserveNotMet, a, now)
		}
	case auction.StatusEnded:
		l.announcer.notify(ctx, &a.SellerID, outbound.NotificationAuctionUnsold, a, now)
	}

	event := l.logger.Info().
		Str("auction_id", a.ID.String()).
		Str("status", string(a.Status)).
		Int("bid_count", a.BidCount)
	if a.WinnerID != nil {
		event = event.Str("winner_id", a.WinnerID.String()).Str("final_price", a.FinalPrice.Decimal.String())
	}
	event.Msg("Auction concluded")
}

// afterConclude settles sold auctions and releases the holds of non-winners.
// Transient settlement errors are returned so the end job is retried.
func (l *LifecycleService) afterConclude(ctx context.Context, a *auction.Auction) error {
	if l.settlement == nil || !a.IsTerminal() || a.Status == auction.StatusCancelled {
		return nil
	}

	if a.Status == auction.StatusSold && !a.PaymentStatus.IsSettled() {
		_, err := l.settlement.Settle(ctx, a.ID)
		if err != nil && !errors.Is(err, shared.ErrFinancialMismatch) {
			return err
		}
	}

	if _, err := l.settlement.ReleaseHolds(ctx, a); err != nil {
		l.logger.Error().Err(err).Str("auction_id", a.ID.String()).Msg("Failed to release payment holds")
	}
	return nil
}

func concludeResult(a *auction.Auction, changed, rescheduled bool) *shared.ConcludeResult {
	result := &shared.ConcludeResult{
		AuctionID:   a.ID,
		Status:      string(a.Status),
		WinnerID:    a.WinnerID,
		Changed:     changed,
		Rescheduled: rescheduled,
	}
	if a.FinalPrice.Valid {
		price := a.FinalPrice.Decimal
		result.FinalPrice = &price
	}
	return result
}

// SweepEndingSoon notifies, once per auction, the seller and the current
// leader of every active auction ending within the configured window
func (l *LifecycleService) SweepEndingSoon(ctx context.Context, now time.Time) error {
	auctions, err := l.auctionRepo.ListEndingBetween(ctx, now, now.Add(l.endingSoonWindow))
	if err != nil {
		return err
	}

	var errs []error
	notified := 0
	for _, a := range auctions {
		flipped, err := l.auctionRepo.MarkEndingSoonNotified(ctx, a.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !flipped {
			continue
		}
		a.EndingSoonNotified = true
		notified++

		l.announcer.publish(ctx, a.ID, outbound.EventTypeAuctionEndingSoon, auctionEventData(a), now)
		l.announcer.notify(ctx, &a.SellerID, outbound.NotificationEndingSoon, a, now)
		l.announcer.notify(ctx, a.CurrentBidderID, outbound.NotificationEndingSoon, a, now)
	}

	if notified > 0 {
		l.logger.Info().Int("notified", notified).Msg("Ending-soon notifications sent")
	}
	return errors.Join(errs...)
}
